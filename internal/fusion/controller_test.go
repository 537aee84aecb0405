// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

package fusion

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/oriwave/geopose/internal/geobus"
	"github.com/oriwave/geopose/internal/geomath"
	"github.com/oriwave/geopose/internal/logger"
	"github.com/oriwave/geopose/internal/reliability"
)

var cupertino = geomath.Coordinate{Latitude: 37.3349, Longitude: -122.0113}

// chanProvider pushes hand-fed updates into the controller. The feed can be
// closed and replaced to simulate a flaky stream.
type chanProvider struct {
	name string

	mu      sync.Mutex
	updates chan Update
}

func newChanProvider(name string) *chanProvider {
	return &chanProvider{name: name, updates: make(chan Update, 16)}
}

func (p *chanProvider) Name() string { return p.name }

func (p *chanProvider) send(u Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates <- u
}

func (p *chanProvider) breakFeed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	close(p.updates)
	p.updates = make(chan Update, 16)
}

func (p *chanProvider) Watch(ctx context.Context) <-chan Update {
	p.mu.Lock()
	updates := p.updates
	p.mu.Unlock()

	out := make(chan Update)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				select {
				case <-ctx.Done():
					return
				case out <- u:
				}
			}
		}
	}()
	return out
}

func testController(t *testing.T, clock clockwork.Clock, providers ...Provider) (*Controller, *geobus.Bus) {
	t.Helper()
	bus := geobus.New()
	log := logger.New(slog.LevelError)
	store := NewStore(filepath.Join(t.TempDir(), "last-location.yaml"))
	c, err := New(log, bus, store, clock, providers...)
	if err != nil {
		t.Fatalf("failed to create controller: %s", err)
	}
	return c, bus
}

func locationUpdate(c geomath.Coordinate, accuracy float64, at time.Time) Update {
	return Update{Kind: UpdateLocation, Coordinate: c, Accuracy: accuracy, At: at, Source: "test"}
}

func waitEvent(t *testing.T, sub <-chan geobus.Event) geobus.Event {
	t.Helper()
	select {
	case e := <-sub:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return geobus.Event{}
	}
}

func TestNew(t *testing.T) {
	t.Run("nil logger fails", func(t *testing.T) {
		if _, err := New(nil, geobus.New(), nil, nil); err == nil {
			t.Error("expected controller creation to fail without a logger")
		}
	})
	t.Run("nil bus fails", func(t *testing.T) {
		if _, err := New(logger.New(slog.LevelError), nil, nil, nil); err == nil {
			t.Error("expected controller creation to fail without a bus")
		}
	})
	t.Run("nil clock falls back to the real clock", func(t *testing.T) {
		c, err := New(logger.New(slog.LevelError), geobus.New(), nil, nil)
		if err != nil {
			t.Fatalf("failed to create controller: %s", err)
		}
		if c.clock == nil {
			t.Error("expected a default clock")
		}
	})
}

func TestController_Staleness(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		age      time.Duration
		accepted bool
	}{
		{"fresh sample accepted", time.Second, true},
		{"just inside the window", 14*time.Second + 999*time.Millisecond, true},
		{"exactly on the boundary", 15 * time.Second, false},
		{"just outside the window", 15*time.Second + time.Millisecond, false},
		{"future samples are filtered symmetrically", -16 * time.Second, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := clockwork.NewFakeClockAt(now)
			c, _ := testController(t, clock)
			if err := c.Start(context.Background()); err != nil {
				t.Fatalf("failed to start controller: %s", err)
			}
			defer c.Stop()

			c.handleUpdate(locationUpdate(cupertino, 5, now.Add(-tc.age)))
			_, ok := c.location.Best()
			if ok != tc.accepted {
				t.Errorf("expected accepted=%t for sample age %s", tc.accepted, tc.age)
			}
		})
	}
}

func TestController_Events(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	t.Run("improvements emit both update and reliability events", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(now)
		c, bus := testController(t, clock)
		updated, unsubUpdated := bus.Subscribe(geobus.LocationUpdated, 8)
		defer unsubUpdated()
		reliable, unsubReliable := bus.Subscribe(geobus.MoreReliableLocation, 8)
		defer unsubReliable()

		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("failed to start controller: %s", err)
		}
		defer c.Stop()

		c.handleUpdate(locationUpdate(cupertino, 5, now))
		e := waitEvent(t, updated)
		if e.Accuracy != 5 {
			t.Errorf("expected update event with accuracy 5, got %+v", e)
		}
		e = waitEvent(t, reliable)
		if e.Accuracy != 5 {
			t.Errorf("expected reliability event with accuracy 5, got %+v", e)
		}

		// A worse sample updates but does not improve.
		c.handleUpdate(locationUpdate(cupertino, 50, now.Add(time.Second)))
		e = waitEvent(t, updated)
		if e.Accuracy != 50 {
			t.Errorf("expected update event with accuracy 50, got %+v", e)
		}
		select {
		case e = <-reliable:
			t.Errorf("expected no reliability event for a worse sample, got %+v", e)
		default:
		}
	})

	t.Run("heading events mirror the location flow", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(now)
		c, bus := testController(t, clock)
		reliable, unsub := bus.Subscribe(geobus.MoreReliableHeading, 8)
		defer unsub()

		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("failed to start controller: %s", err)
		}
		defer c.Stop()

		c.handleUpdate(Update{Kind: UpdateHeading, Heading: 350, HeadingAccuracy: 4, At: now, Source: "test"})
		e := waitEvent(t, reliable)
		if e.Heading != -10 {
			t.Errorf("expected normalized heading -10, got %f", e.Heading)
		}

		best, ok := c.BestHeading()
		if !ok || best.Accuracy != 4 {
			t.Errorf("expected best heading accuracy 4, got %+v (held: %t)", best, ok)
		}
	})
}

func TestController_EndToEnd(t *testing.T) {
	t.Run("best fix wins, worse fix is only recorded", func(t *testing.T) {
		now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
		clock := clockwork.NewFakeClockAt(now.Add(2 * time.Second))
		provider := newChanProvider("test")
		c, bus := testController(t, clock, provider)
		reliable, unsub := bus.Subscribe(geobus.MoreReliableLocation, 8)
		defer unsub()
		updated, unsubUpdated := bus.Subscribe(geobus.LocationUpdated, 8)
		defer unsubUpdated()

		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("failed to start controller: %s", err)
		}
		defer c.Stop()

		provider.send(locationUpdate(cupertino, 5, now))
		provider.send(locationUpdate(cupertino, 3, now.Add(time.Second)))
		worse := geomath.Coordinate{Latitude: 37.3350, Longitude: -122.0114}
		provider.send(locationUpdate(worse, 10, now.Add(2*time.Second)))

		for i := 0; i < 3; i++ {
			waitEvent(t, updated)
		}

		best, ok := c.CurrentLocation()
		if !ok {
			t.Fatal("expected a current location")
		}
		if best.Accuracy != 3 {
			t.Errorf("expected the accuracy-3 fix to be held, got %f", best.Accuracy)
		}

		// Two reliability events: the first fix and its improvement. The
		// worse third fix must not emit one.
		waitEvent(t, reliable)
		e := waitEvent(t, reliable)
		if e.Accuracy != 3 {
			t.Errorf("expected final reliability event for accuracy 3, got %+v", e)
		}
		select {
		case e = <-reliable:
			t.Errorf("expected no reliability event for the worse fix, got %+v", e)
		default:
		}

		last, ok := c.location.Last()
		if !ok || last.Accuracy != 10 {
			t.Errorf("expected the worse fix as last seen, got %+v (held: %t)", last, ok)
		}
	})
}

func TestController_Faults(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	t.Run("denied stops monitoring", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(now)
		c, bus := testController(t, clock)
		states, unsub := bus.Subscribe(geobus.ServiceStateChanged, 8)
		defer unsub()

		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("failed to start controller: %s", err)
		}
		e := waitEvent(t, states)
		if e.State != "available" {
			t.Errorf("expected available state on start, got %q", e.State)
		}

		c.handleUpdate(Update{Kind: UpdateFault, Fault: FaultDenied, Source: "test"})
		e = waitEvent(t, states)
		if e.State != "unavailable" {
			t.Errorf("expected unavailable state after denial, got %q", e.State)
		}

		// A late location callback must not mutate state anymore.
		c.handleUpdate(locationUpdate(cupertino, 5, now))
		if _, ok := c.location.Best(); ok {
			t.Error("expected samples to be ignored after a denial")
		}
	})

	t.Run("network fault keeps samples flowing", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(now)
		c, _ := testController(t, clock)
		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("failed to start controller: %s", err)
		}
		defer c.Stop()

		c.handleUpdate(Update{Kind: UpdateFault, Fault: FaultNetwork, Source: "test"})
		if got := c.State(); got != StateUnavailable {
			t.Errorf("expected unavailable state, got %s", got)
		}

		c.handleUpdate(locationUpdate(cupertino, 5, now))
		if _, ok := c.location.Best(); !ok {
			t.Error("expected samples to keep flowing through a network fault")
		}
	})

	t.Run("reauthorization restarts monitoring", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(now)
		c, _ := testController(t, clock)
		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("failed to start controller: %s", err)
		}
		defer c.Stop()

		c.handleUpdate(Update{Kind: UpdateFault, Fault: FaultRegionDenied, Source: "test"})
		if c.isStarted() {
			t.Fatal("expected monitoring to stop after a region denial")
		}

		c.Reauthorize()
		if !c.isStarted() {
			t.Fatal("expected monitoring to restart after reauthorization")
		}
		if got := c.State(); got != StateAvailable {
			t.Errorf("expected available state, got %s", got)
		}
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(now)
		c, _ := testController(t, clock)
		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("failed to start controller: %s", err)
		}
		c.Stop()
		c.Stop()
		if got := c.State(); got != StateStopped {
			t.Errorf("expected stopped state, got %s", got)
		}
	})
}

func TestController_ColdStart(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	t.Run("persisted fix seeds the current location", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(now)
		store := NewStore(filepath.Join(t.TempDir(), "fix.yaml"))
		fix := reliability.Sample[geomath.Coordinate]{Value: cupertino, Accuracy: 8, At: now.Add(-30 * time.Minute)}
		if err := store.Save(fix); err != nil {
			t.Fatalf("failed to save fix: %s", err)
		}

		c, err := New(logger.New(slog.LevelError), geobus.New(), store, clock)
		if err != nil {
			t.Fatalf("failed to create controller: %s", err)
		}
		if err = c.Start(context.Background()); err != nil {
			t.Fatalf("failed to start controller: %s", err)
		}
		defer c.Stop()

		got, ok := c.CurrentLocation()
		if !ok {
			t.Fatal("expected a seeded current location")
		}
		if got.Value != cupertino || got.Accuracy != 8 {
			t.Errorf("expected the persisted fix, got %+v", got)
		}
	})

	t.Run("live fix wins over the seed", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(now)
		store := NewStore(filepath.Join(t.TempDir(), "fix.yaml"))
		seedCoord := geomath.Coordinate{Latitude: 1, Longitude: 1}
		if err := store.Save(reliability.Sample[geomath.Coordinate]{Value: seedCoord, Accuracy: 100, At: now.Add(-10 * time.Minute)}); err != nil {
			t.Fatalf("failed to save fix: %s", err)
		}

		c, err := New(logger.New(slog.LevelError), geobus.New(), store, clock)
		if err != nil {
			t.Fatalf("failed to create controller: %s", err)
		}
		if err = c.Start(context.Background()); err != nil {
			t.Fatalf("failed to start controller: %s", err)
		}
		defer c.Stop()

		c.handleUpdate(locationUpdate(cupertino, 5, now))
		got, ok := c.CurrentLocation()
		if !ok || got.Value != cupertino {
			t.Errorf("expected the live fix to win, got %+v (held: %t)", got, ok)
		}
	})

	t.Run("accepted fixes are persisted", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(now)
		path := filepath.Join(t.TempDir(), "fix.yaml")
		store := NewStore(path)
		c, err := New(logger.New(slog.LevelError), geobus.New(), store, clock)
		if err != nil {
			t.Fatalf("failed to create controller: %s", err)
		}
		if err = c.Start(context.Background()); err != nil {
			t.Fatalf("failed to start controller: %s", err)
		}
		defer c.Stop()

		c.handleUpdate(locationUpdate(cupertino, 5, now))
		loaded, ok, err := store.Load(now)
		if err != nil {
			t.Fatalf("failed to load fix: %s", err)
		}
		if !ok || loaded.Value != cupertino {
			t.Errorf("expected the accepted fix on disk, got %+v (held: %t)", loaded, ok)
		}
	})
}
