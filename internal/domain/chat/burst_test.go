package chat

import (
	"testing"
	"time"
)

func at(ms int) time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(ms) * time.Millisecond)
}

func TestBurstDetectorFlagsFastWindow(t *testing.T) {
	d := NewBurstDetector(5, 30*time.Second)

	times := []int{0, 5000, 9000, 15000, 20000}
	for i, ms := range times {
		flagged, span := d.RecordAttempt(at(ms))
		if i < 4 {
			if flagged {
				t.Fatalf("attempt %d flagged before window filled", i+1)
			}
			if span != 0 {
				t.Fatalf("attempt %d reported span %v before window filled", i+1, span)
			}
			continue
		}
		if !flagged {
			t.Fatal("5th attempt within 20s not flagged")
		}
		if span != 20*time.Second {
			t.Fatalf("span = %v, want 20s", span)
		}
	}
}

func TestBurstDetectorAllowsSlowWindow(t *testing.T) {
	d := NewBurstDetector(5, 30*time.Second)

	for i, ms := range []int{0, 10000, 20000, 30000, 40000} {
		if flagged, _ := d.RecordAttempt(at(ms)); flagged {
			t.Fatalf("attempt %d flagged with 40s spread", i+1)
		}
	}
}

func TestBurstDetectorKeepsSliding(t *testing.T) {
	d := NewBurstDetector(5, 30*time.Second)

	// Slow start, then a burst: the check is not one-shot.
	for _, ms := range []int{0, 60000, 120000, 180000, 240000} {
		if flagged, _ := d.RecordAttempt(at(ms)); flagged {
			t.Fatal("slow sequence flagged")
		}
	}
	for _, ms := range []int{241000, 242000, 243000} {
		if flagged, _ := d.RecordAttempt(at(ms)); flagged {
			t.Fatalf("flagged at %dms while window still spans old entries", ms)
		}
	}
	// Window now holds 240s..244s.
	if flagged, span := d.RecordAttempt(at(244000)); !flagged {
		t.Fatalf("burst not flagged after window slid, span %v", span)
	}
}

func TestBurstDetectorReset(t *testing.T) {
	d := NewBurstDetector(5, 30*time.Second)

	for _, ms := range []int{0, 1000, 2000, 3000} {
		d.RecordAttempt(at(ms))
	}
	d.Reset()

	// A full fresh window is needed again after a reset.
	for i, ms := range []int{4000, 5000, 6000, 7000} {
		if flagged, _ := d.RecordAttempt(at(ms)); flagged {
			t.Fatalf("attempt %d after reset flagged early", i+1)
		}
	}
	if flagged, _ := d.RecordAttempt(at(8000)); !flagged {
		t.Fatal("5th attempt after reset not flagged")
	}
}
