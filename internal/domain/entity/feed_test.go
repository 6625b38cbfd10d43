package entity

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const ethUSD = "ff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"

func TestNormalizeFeedID(t *testing.T) {
	tests := []struct {
		name        string
		id          string
		want        string
		errContains string
	}{
		{name: "plain lowercase", id: ethUSD, want: ethUSD},
		{name: "0x prefix", id: "0x" + ethUSD, want: ethUSD},
		{name: "uppercase with whitespace", id: "  0X" + strings.ToUpper(ethUSD) + " ", want: ethUSD},
		{name: "too short", id: "0xabcd", errContains: "expected 32 bytes"},
		{name: "not hex", id: "0x" + strings.Repeat("zz", 32), errContains: "invalid feed id"},
		{name: "empty", id: "", errContains: "expected 32 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeFeedID(tt.id)
			if tt.errContains != "" {
				if err == nil {
					t.Fatalf("NormalizeFeedID(%q) expected error, got nil", tt.id)
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("NormalizeFeedID(%q) error = %v, want containing %q", tt.id, err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeFeedID(%q) unexpected error: %v", tt.id, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeFeedID(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestNewPriceFeed(t *testing.T) {
	tests := []struct {
		name        string
		threshold   decimal.Decimal
		heartbeat   time.Duration
		networks    []string
		errContains string
	}{
		{name: "valid", threshold: decimal.RequireFromString("0.005"), heartbeat: 4 * time.Hour, networks: []string{"base"}},
		{name: "zero threshold allowed", threshold: decimal.Zero, heartbeat: time.Minute, networks: []string{"base"}},
		{name: "negative threshold", threshold: decimal.RequireFromString("-0.1"), heartbeat: time.Minute, networks: []string{"base"}, errContains: "non-negative"},
		{name: "zero heartbeat", threshold: decimal.Zero, heartbeat: 0, networks: []string{"base"}, errContains: "heartbeat interval must be positive"},
		{name: "no networks", threshold: decimal.Zero, heartbeat: time.Minute, errContains: "at least one network"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed, err := NewPriceFeed("0x"+ethUSD, "ETH/USD", tt.threshold, tt.heartbeat, tt.networks)
			if tt.errContains != "" {
				if err == nil {
					t.Fatal("NewPriceFeed() expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("NewPriceFeed() error = %v, want containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewPriceFeed() unexpected error: %v", err)
			}
			if feed.ID != ethUSD {
				t.Errorf("ID = %q, want normalized %q", feed.ID, ethUSD)
			}
			if !feed.TargetsNetwork("base") || feed.TargetsNetwork("ethereum") {
				t.Errorf("TargetsNetwork mismatch for networks %v", feed.Networks)
			}
		})
	}
}

func TestNewPriceQuote(t *testing.T) {
	publish := time.Unix(1700000000, 0)
	q := NewPriceQuote(ethUSD, 200012345678, 150000000, -8, publish)

	if want := decimal.RequireFromString("2000.12345678"); !q.Price.Equal(want) {
		t.Errorf("Price = %s, want %s", q.Price, want)
	}
	if want := decimal.RequireFromString("1.5"); !q.Confidence.Equal(want) {
		t.Errorf("Confidence = %s, want %s", q.Confidence, want)
	}
	if !q.PublishTime.Equal(publish) {
		t.Errorf("PublishTime = %v, want %v", q.PublishTime, publish)
	}
}

func TestQuoteSet_NilSafe(t *testing.T) {
	var qs *QuoteSet
	if qs.Len() != 0 {
		t.Errorf("Len() on nil = %d, want 0", qs.Len())
	}
	if _, ok := qs.Get(ethUSD); ok {
		t.Error("Get() on nil set returned ok")
	}
}
