package env

import (
	"log/slog"
	"testing"
	"time"
)

func TestGet(t *testing.T) {
	t.Setenv("PUSHER_TEST_VALUE", "set")
	if got := Get("PUSHER_TEST_VALUE", "default"); got != "set" {
		t.Errorf("Get() = %q, want %q", got, "set")
	}
	if got := Get("PUSHER_TEST_UNSET", "default"); got != "default" {
		t.Errorf("Get() = %q, want %q", got, "default")
	}
}

func TestGetDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "valid", value: "45s", want: 45 * time.Second},
		{name: "unset", value: "", want: time.Minute},
		{name: "malformed", value: "soon", want: time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PUSHER_TEST_DURATION", tt.value)
			if got := GetDuration("PUSHER_TEST_DURATION", time.Minute); got != tt.want {
				t.Errorf("GetDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		value string
		want  slog.Level
	}{
		{value: "debug", want: slog.LevelDebug},
		{value: "INFO", want: slog.LevelInfo},
		{value: "warning", want: slog.LevelWarn},
		{value: "error", want: slog.LevelError},
		{value: "verbose", want: slog.LevelWarn},
		{value: "", want: slog.LevelWarn},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.value)
			if got := ParseLogLevel(slog.LevelWarn); got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
