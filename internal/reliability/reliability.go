// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

// Package reliability tracks the most trustworthy sample seen so far in a
// stream of noisy, asynchronously arriving readings such as location fixes or
// compass headings.
package reliability

import (
	"math"
	"sync"
	"time"
)

// accuracyEpsilon is the tolerance used when comparing accuracy figures, so
// that float noise does not flip the equal-accuracy tie-break.
const accuracyEpsilon = 1e-6

// Sample wraps a reading with its accuracy and timestamp. Lower accuracy
// values are better (standard GPS/compass convention); an accuracy of zero or
// below marks the sample as invalid.
type Sample[T any] struct {
	Value    T
	Accuracy float64
	At       time.Time
}

// Outcome describes how a Selector handled an offered sample.
type Outcome int

const (
	// Rejected means the sample carried a non-positive accuracy and was
	// discarded entirely.
	Rejected Outcome = iota
	// Improved means the sample became the new best with strictly better
	// accuracy (or was the first sample seen).
	Improved
	// Refreshed means the sample replaced an equally accurate but older
	// best. A refresh is not an improvement and emits no reliability event.
	Refreshed
	// Observed means the sample was recorded as last seen but did not
	// displace the current best.
	Observed
)

// Selector holds the best and the most recently seen sample of a stream.
// Offer calls are serialized behind a single mutex; the compare-and-replace
// decision is multi-step and must not interleave. Best and Last return
// copies, so readers never race with producers.
type Selector[T any] struct {
	mu      sync.Mutex
	best    Sample[T]
	hasBest bool
	last    Sample[T]
	hasLast bool
}

// NewSelector returns an empty Selector.
func NewSelector[T any]() *Selector[T] {
	return &Selector[T]{}
}

// Offer feeds a sample into the selector and reports how it was handled.
// The decision rules, applied in order:
//  1. non-positive accuracy: rejected outright,
//  2. no best held yet: the sample becomes best (Improved),
//  3. strictly better accuracy: the sample becomes best (Improved),
//  4. equal accuracy with a strictly newer timestamp: the sample replaces
//     best (Refreshed),
//  5. otherwise the sample only updates the last-seen value (Observed).
func (s *Selector[T]) Offer(in Sample[T]) Outcome {
	if in.Accuracy <= 0 {
		return Rejected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = in
	s.hasLast = true

	if !s.hasBest {
		s.best = in
		s.hasBest = true
		return Improved
	}

	switch {
	case in.Accuracy < s.best.Accuracy-accuracyEpsilon:
		s.best = in
		return Improved
	case math.Abs(in.Accuracy-s.best.Accuracy) <= accuracyEpsilon:
		if in.At.After(s.best.At) {
			s.best = in
			return Refreshed
		}
		return Observed
	default:
		return Observed
	}
}

// Best returns a copy of the most reliable sample seen so far.
func (s *Selector[T]) Best() (Sample[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.best, s.hasBest
}

// Last returns a copy of the most recently accepted sample, regardless of its
// accuracy. Intended for non-reliability-sensitive consumers such as a raw
// heading display.
func (s *Selector[T]) Last() (Sample[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

// Reset drops both the best and the last-seen sample.
func (s *Selector[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.best = Sample[T]{}
	s.hasBest = false
	s.last = Sample[T]{}
	s.hasLast = false
}
