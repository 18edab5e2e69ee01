package fairsched

import (
	"testing"
	"time"
)

func TestNoGrantWhenBothEmpty(t *testing.T) {
	s := New(5, 5, 512)
	_, ok := s.Next(time.Unix(0, 0))
	if ok {
		t.Fatal("expected no grant when both directions are empty")
	}
}

func TestSingleNonEmptyDirectionAlwaysGranted(t *testing.T) {
	s := New(5, 5, 512)
	s.SetNonEmpty(DirSerial, true)
	g, ok := s.Next(time.Unix(0, 0))
	if !ok || g.Direction != DirSerial {
		t.Fatalf("expected serial grant, got %+v ok=%v", g, ok)
	}
}

func TestStarvationOverride(t *testing.T) {
	s := New(5, 5, 512)
	s.SetNonEmpty(DirSerial, true)
	s.SetNonEmpty(DirTelnet, true)

	base := time.Unix(1000, 0)
	s.RecordProgress(DirSerial, base)
	s.RecordProgress(DirTelnet, base)

	// Telnet hasn't progressed for longer than the starvation threshold.
	later := base.Add(DefaultStarvationThreshold + time.Millisecond)
	s.RecordProgress(DirSerial, later) // serial just progressed, not starved

	g, ok := s.Next(later)
	if !ok || g.Direction != DirTelnet || !g.Starved {
		t.Fatalf("expected starved telnet grant, got %+v", g)
	}
}

func TestWeightedRoundRobinApproximatesRatio(t *testing.T) {
	s := New(7, 3, 512)
	s.SetNonEmpty(DirSerial, true)
	s.SetNonEmpty(DirTelnet, true)

	counts := map[Direction]int{}
	now := time.Unix(2000, 0)
	for i := 0; i < 100; i++ {
		g, ok := s.Next(now)
		if !ok {
			t.Fatal("expected a grant")
		}
		counts[g.Direction]++
		s.RecordProgress(g.Direction, now)
		now = now.Add(time.Millisecond)
	}

	ratio := float64(counts[DirSerial]) / float64(counts[DirSerial]+counts[DirTelnet])
	if ratio < 0.6 || ratio > 0.8 {
		t.Fatalf("expected serial share near 0.7, got %.2f (%v)", ratio, counts)
	}
}

func TestAdaptiveQuantumShrinksAndGrows(t *testing.T) {
	s := New(5, 5, 512)
	start := s.CurrentQuantum(DirSerial)

	s.AdaptQuantum(DirSerial, 150*time.Millisecond)
	if s.CurrentQuantum(DirSerial) >= start {
		t.Fatal("expected quantum to shrink when latency exceeds target")
	}

	s2 := New(5, 5, 512)
	start2 := s2.CurrentQuantum(DirSerial)
	s2.AdaptQuantum(DirSerial, 10*time.Millisecond)
	if s2.CurrentQuantum(DirSerial) <= start2 {
		t.Fatal("expected quantum to grow when latency is well under target")
	}
}

func TestQuantumBoundsClamp(t *testing.T) {
	s := New(5, 5, 512)
	for i := 0; i < 50; i++ {
		s.AdaptQuantum(DirSerial, 200*time.Millisecond)
	}
	if s.CurrentQuantum(DirSerial) < MinQuantum {
		t.Fatalf("quantum dropped below MinQuantum: %v", s.CurrentQuantum(DirSerial))
	}

	s2 := New(5, 5, 512)
	for i := 0; i < 50; i++ {
		s2.AdaptQuantum(DirSerial, 1*time.Millisecond)
	}
	if s2.CurrentQuantum(DirSerial) > MaxQuantum {
		t.Fatalf("quantum exceeded MaxQuantum: %v", s2.CurrentQuantum(DirSerial))
	}
}
