package staleness

import (
	"testing"
	"time"
)

func TestClassify_FreshWithinThreshold(t *testing.T) {
	p := New(25 * 24 * time.Hour)
	now := time.Date(2025, time.November, 14, 12, 0, 0, 0, time.UTC)

	if v := p.Classify(now.Add(-time.Hour), now); v != Fresh {
		t.Fatalf("1h old snapshot: got %v want Fresh", v)
	}
	if v := p.Classify(now.AddDate(0, 0, -24), now); v != Fresh {
		t.Fatalf("24d old snapshot: got %v want Fresh", v)
	}
}

func TestClassify_ExactlyAtThresholdIsFresh(t *testing.T) {
	p := New(25 * 24 * time.Hour)
	now := time.Date(2025, time.November, 14, 12, 0, 0, 0, time.UTC)

	if v := p.Classify(now.Add(-25*24*time.Hour), now); v != Fresh {
		t.Fatalf("boundary must resolve fresh, got %v", v)
	}
	if v := p.Classify(now.Add(-25*24*time.Hour-time.Nanosecond), now); v != Stale {
		t.Fatalf("one tick past the boundary must be stale, got %v", v)
	}
}

func TestClassify_StaleBeyondThreshold(t *testing.T) {
	p := New(0) // default
	now := time.Date(2025, time.November, 14, 12, 0, 0, 0, time.UTC)

	if v := p.Classify(now.AddDate(0, 0, -40), now); v != Stale {
		t.Fatalf("40d old snapshot: got %v want Stale", v)
	}
	if p.Threshold() != DefaultThreshold {
		t.Fatalf("zero threshold must default, got %v", p.Threshold())
	}
}

func TestVerdict_String(t *testing.T) {
	if Fresh.String() != "fresh" || Stale.String() != "stale" {
		t.Fatalf("unexpected verdict strings: %q %q", Fresh.String(), Stale.String())
	}
}
