package wire

import (
	"testing"
	"time"
)

func TestProbeRoundTrip(t *testing.T) {
	t.Parallel()
	p := Probe{
		SentAt:    time.Unix(1700000000, 0),
		Catalogue: []string{"clipA", "clipB"},
	}

	encoded := EncodeProbe(p)
	got, err := ParseProbe(encoded)
	if err != nil {
		t.Fatalf("ParseProbe: %v", err)
	}

	if got.SentAt.Unix() != p.SentAt.Unix() {
		t.Errorf("SentAt = %v, want %v", got.SentAt, p.SentAt)
	}
	if len(got.Catalogue) != 2 || got.Catalogue[0] != "clipA" || got.Catalogue[1] != "clipB" {
		t.Errorf("Catalogue = %v, want [clipA clipB]", got.Catalogue)
	}
}

func TestProbeNoCatalogue(t *testing.T) {
	t.Parallel()
	p := Probe{SentAt: time.Unix(1700000000, 500000000)}
	got, err := ParseProbe(EncodeProbe(p))
	if err != nil {
		t.Fatalf("ParseProbe: %v", err)
	}
	if len(got.Catalogue) != 0 {
		t.Errorf("Catalogue = %v, want empty", got.Catalogue)
	}
}

func TestParseProbeMalformed(t *testing.T) {
	t.Parallel()
	cases := []string{"not,a,float,stuff", "", "abc"}
	for _, c := range cases {
		if _, err := ParseProbe(c); err == nil {
			t.Errorf("ParseProbe(%q): expected error, got nil", c)
		}
	}
}

func TestLatencyMillisClampsNegative(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 0)
	future := Probe{SentAt: now.Add(5 * time.Second)}
	if got := LatencyMillis(future, now); got != 0 {
		t.Errorf("LatencyMillis with future timestamp = %v, want 0 (clamped)", got)
	}
}

func TestLatencyMillisOrdinary(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 0)
	past := Probe{SentAt: now.Add(-100 * time.Millisecond)}
	got := LatencyMillis(past, now)
	if got < 99 || got > 101 {
		t.Errorf("LatencyMillis = %v, want ~100", got)
	}
}
