// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

// Package geobus fans typed fusion events out to subscribers. Each emitting
// component owns its event flow; there are no global notification names.
package geobus

import (
	"sync"
	"time"

	"github.com/oriwave/geopose/internal/geomath"
)

// Kind identifies the type of event carried on the bus.
type Kind int

const (
	// LocationUpdated fires for every accepted location sample.
	LocationUpdated Kind = iota
	// MoreReliableLocation fires only when a location sample improves on
	// the held best.
	MoreReliableLocation
	// HeadingUpdated fires for every accepted heading sample.
	HeadingUpdated
	// MoreReliableHeading fires only when a heading sample improves on the
	// held best.
	MoreReliableHeading
	// ServiceStateChanged fires on platform service availability
	// transitions.
	ServiceStateChanged
	// OriginBound fires when a reliable fix is bound to a local-frame pose.
	OriginBound
	// TrackingLost fires exactly once when a node loses its parent and
	// falls back to world-origin-relative placement.
	TrackingLost
	// ResolutionFault fires when a transform resolution fails structurally,
	// e.g. on a parent-chain cycle.
	ResolutionFault
)

// Event is a snapshot of a single fusion occurrence. Only the fields relevant
// to the Kind are populated.
type Event struct {
	Kind       Kind
	At         time.Time
	Source     string
	Coordinate geomath.Coordinate
	Accuracy   float64
	Heading    float64
	Node       uint64
	State      string
	Err        error
}

// Bus delivers events to per-kind and global subscribers. Sends never block:
// a subscriber that cannot keep up misses events rather than stalling the
// producer.
type Bus struct {
	mu          sync.Mutex
	subscribers map[Kind]map[chan Event]struct{}
	globalSubs  map[chan Event]struct{}
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[Kind]map[chan Event]struct{}),
		globalSubs:  make(map[chan Event]struct{}),
	}
}

// Subscribe registers a subscriber for a single event kind with the given
// channel buffer size. It returns the event channel and an unsubscribe
// function that also closes the channel.
func (b *Bus) Subscribe(kind Kind, buffer int) (<-chan Event, func()) {
	eventChan := make(chan Event, buffer)
	b.mu.Lock()
	if _, ok := b.subscribers[kind]; !ok {
		b.subscribers[kind] = make(map[chan Event]struct{})
	}
	b.subscribers[kind][eventChan] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		if subs, ok := b.subscribers[kind]; ok {
			delete(subs, eventChan)
			if len(subs) == 0 {
				delete(b.subscribers, kind)
			}
		}
		b.mu.Unlock()
		close(eventChan)
	}

	return eventChan, unsub
}

// SubscribeAll registers a subscriber for every event kind.
func (b *Bus) SubscribeAll(buffer int) (<-chan Event, func()) {
	eventChan := make(chan Event, buffer)
	b.mu.Lock()
	b.globalSubs[eventChan] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.globalSubs, eventChan)
		b.mu.Unlock()
		close(eventChan)
	}

	return eventChan, unsub
}

// Publish delivers an event to all matching subscribers. A zero At timestamp
// is filled with the current time.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subscribers[e.Kind]; ok {
		for ch := range subs {
			select {
			case ch <- e:
			default:
			}
		}
	}
	for ch := range b.globalSubs {
		select {
		case ch <- e:
		default:
		}
	}
}
