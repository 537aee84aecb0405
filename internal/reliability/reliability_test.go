// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

package reliability

import (
	"testing"
	"time"
)

func sampleAt(value float64, accuracy float64, at time.Time) Sample[float64] {
	return Sample[float64]{Value: value, Accuracy: accuracy, At: at}
}

func TestSelector_Offer(t *testing.T) {
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	t.Run("non-positive accuracy is rejected", func(t *testing.T) {
		tests := []struct {
			name     string
			accuracy float64
		}{
			{"zero", 0},
			{"negative", -1},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				s := NewSelector[float64]()
				if got := s.Offer(sampleAt(1, tc.accuracy, base)); got != Rejected {
					t.Errorf("expected Rejected, got %d", got)
				}
				if _, ok := s.Best(); ok {
					t.Error("expected no best sample to be held")
				}
				if _, ok := s.Last(); ok {
					t.Error("expected no last sample to be held")
				}
			})
		}
	})

	t.Run("first valid sample becomes best and improves", func(t *testing.T) {
		s := NewSelector[float64]()
		if got := s.Offer(sampleAt(1, 50, base)); got != Improved {
			t.Errorf("expected Improved, got %d", got)
		}
		best, ok := s.Best()
		if !ok || best.Value != 1 {
			t.Errorf("expected best value 1, got %+v (held: %t)", best, ok)
		}
	})

	t.Run("strictly better accuracy improves", func(t *testing.T) {
		s := NewSelector[float64]()
		s.Offer(sampleAt(1, 50, base))
		if got := s.Offer(sampleAt(2, 10, base.Add(time.Second))); got != Improved {
			t.Errorf("expected Improved, got %d", got)
		}
		best, _ := s.Best()
		if best.Accuracy != 10 {
			t.Errorf("expected best accuracy 10, got %f", best.Accuracy)
		}
	})

	t.Run("equal accuracy with newer timestamp refreshes", func(t *testing.T) {
		s := NewSelector[float64]()
		s.Offer(sampleAt(1, 10, base))
		if got := s.Offer(sampleAt(2, 10, base.Add(time.Second))); got != Refreshed {
			t.Errorf("expected Refreshed, got %d", got)
		}
		best, _ := s.Best()
		if best.Value != 2 {
			t.Errorf("expected refreshed best value 2, got %f", best.Value)
		}
	})

	t.Run("equal accuracy with older timestamp is only observed", func(t *testing.T) {
		s := NewSelector[float64]()
		s.Offer(sampleAt(2, 10, base.Add(time.Second)))
		if got := s.Offer(sampleAt(1, 10, base)); got != Observed {
			t.Errorf("expected Observed, got %d", got)
		}
		best, _ := s.Best()
		if best.Value != 2 {
			t.Errorf("expected best value 2 to survive, got %f", best.Value)
		}
	})

	t.Run("tie-break outcome is delivery-order independent", func(t *testing.T) {
		older := sampleAt(1, 10, base)
		newer := sampleAt(2, 10, base.Add(time.Second))

		forward := NewSelector[float64]()
		forward.Offer(older)
		forward.Offer(newer)
		reverse := NewSelector[float64]()
		reverse.Offer(newer)
		reverse.Offer(older)

		fwd, _ := forward.Best()
		rev, _ := reverse.Best()
		if fwd.Value != 2 || rev.Value != 2 {
			t.Errorf("expected both orders to hold the newer sample, got %f and %f", fwd.Value, rev.Value)
		}
	})

	t.Run("worse accuracy is observed but updates last seen", func(t *testing.T) {
		s := NewSelector[float64]()
		s.Offer(sampleAt(1, 10, base))
		if got := s.Offer(sampleAt(2, 100, base.Add(time.Second))); got != Observed {
			t.Errorf("expected Observed, got %d", got)
		}
		best, _ := s.Best()
		if best.Value != 1 {
			t.Errorf("expected best value 1, got %f", best.Value)
		}
		last, ok := s.Last()
		if !ok || last.Value != 2 {
			t.Errorf("expected last seen value 2, got %+v (held: %t)", last, ok)
		}
	})

	t.Run("best accuracy never worsens over a sample sequence", func(t *testing.T) {
		s := NewSelector[float64]()
		accuracies := []float64{120, 80, 95, 80, 30, 45, 30, 5, 900, 5}
		held := 1e18
		for i, acc := range accuracies {
			s.Offer(sampleAt(float64(i), acc, base.Add(time.Duration(i)*time.Second)))
			best, ok := s.Best()
			if !ok {
				t.Fatal("expected a best sample after the first offer")
			}
			if best.Accuracy > held {
				t.Fatalf("best accuracy worsened from %f to %f at step %d", held, best.Accuracy, i)
			}
			held = best.Accuracy
		}
		best, _ := s.Best()
		if best.Accuracy != 5 {
			t.Errorf("expected final best accuracy 5, got %f", best.Accuracy)
		}
	})

	t.Run("reset drops all held samples", func(t *testing.T) {
		s := NewSelector[float64]()
		s.Offer(sampleAt(1, 10, base))
		s.Reset()
		if _, ok := s.Best(); ok {
			t.Error("expected best to be dropped after reset")
		}
		if _, ok := s.Last(); ok {
			t.Error("expected last to be dropped after reset")
		}
	})
}
