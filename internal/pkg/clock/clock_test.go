package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_AdvanceFiresDueTimers(t *testing.T) {
	c := NewFake(epoch)

	early := c.After(time.Second)
	late := c.After(time.Minute)

	if got := c.PendingTimers(); got != 2 {
		t.Fatalf("PendingTimers() = %d, want 2", got)
	}

	c.Advance(2 * time.Second)

	select {
	case fired := <-early:
		if !fired.Equal(epoch.Add(2 * time.Second)) {
			t.Errorf("timer fired at %v, want %v", fired, epoch.Add(2*time.Second))
		}
	default:
		t.Fatal("expected 1s timer to fire")
	}

	select {
	case <-late:
		t.Fatal("1m timer fired early")
	default:
	}

	c.Advance(time.Minute)
	select {
	case <-late:
	default:
		t.Fatal("expected 1m timer to fire")
	}
	if got := c.PendingTimers(); got != 0 {
		t.Errorf("PendingTimers() = %d, want 0", got)
	}
}

func TestFake_ZeroDurationFiresImmediately(t *testing.T) {
	c := NewFake(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFake_AutoAdvance(t *testing.T) {
	c := NewAutoFake(epoch)

	<-c.After(3 * time.Second)
	<-c.After(5 * time.Second)

	if got := c.Now(); !got.Equal(epoch.Add(8 * time.Second)) {
		t.Errorf("Now() = %v, want %v", got, epoch.Add(8*time.Second))
	}
	if got := c.Slept(); got != 8*time.Second {
		t.Errorf("Slept() = %v, want 8s", got)
	}
}
