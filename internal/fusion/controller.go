// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

// Package fusion gates raw platform location and heading events, keeps the
// most reliable sample of each stream and emits fusion events on the bus.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/oriwave/geopose/internal/geobus"
	"github.com/oriwave/geopose/internal/geomath"
	"github.com/oriwave/geopose/internal/logger"
	"github.com/oriwave/geopose/internal/reliability"
)

// StalenessWindow is the maximum age a location sample may have, in either
// direction, to be accepted.
const StalenessWindow = 15 * time.Second

var (
	// ErrServiceUnavailable indicates the platform location service is
	// disabled or denied. Recoverable by re-requesting authorization.
	ErrServiceUnavailable = errors.New("location service unavailable")
	// errStaleSample marks a location sample outside the staleness window.
	// Staleness is an expected steady-state occurrence and never surfaced
	// beyond the controller.
	errStaleSample = errors.New("stale location sample")
)

// State is the availability of the fused location service.
type State int

const (
	// StateStopped means the controller is not consuming updates.
	StateStopped State = iota
	// StateAvailable means the service is running and authorized.
	StateAvailable
	// StateUnavailable means the service is degraded (denied or network
	// failure); it may recover via UpdateAuthorized.
	StateUnavailable
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateAvailable:
		return "available"
	case StateUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Controller owns the best-so-far location and heading samples. It is the
// single writer for both selectors; providers push concurrently, the render
// thread reads copy-out snapshots.
type Controller struct {
	logger    *logger.Logger
	clock     clockwork.Clock
	bus       *geobus.Bus
	store     *Store
	providers []Provider

	location *reliability.Selector[geomath.Coordinate]
	heading  *reliability.Selector[float64]

	mu          sync.Mutex
	started     bool
	state       State
	seed        reliability.Sample[geomath.Coordinate]
	hasSeed     bool
	parent      context.Context
	cancelWatch context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a Controller. The clock may be nil, in which case the real
// clock is used; log and bus are required.
func New(log *logger.Logger, bus *geobus.Bus, store *Store, clock clockwork.Clock,
	providers ...Provider,
) (*Controller, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if bus == nil {
		return nil, errors.New("event bus is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Controller{
		logger:    log,
		clock:     clock,
		bus:       bus,
		store:     store,
		providers: providers,
		location:  reliability.NewSelector[geomath.Coordinate](),
		heading:   reliability.NewSelector[float64](),
		state:     StateStopped,
	}, nil
}

// Start seeds the controller from the persistent store and begins consuming
// provider updates. Starting an already started controller is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	if c.store != nil {
		seed, ok, err := c.store.Load(c.clock.Now())
		if err != nil {
			c.logger.Warn("failed to load persisted location fix", logger.Err(err))
		}
		if ok {
			c.seed = seed
			c.hasSeed = true
			c.logger.Debug("seeded location from persisted fix",
				slog.Float64("lat", seed.Value.Latitude), slog.Float64("lon", seed.Value.Longitude),
				slog.Time("at", seed.At))
		}
	}

	c.parent = ctx
	c.startProvidersLocked()
	c.setStateLocked(StateAvailable, nil)
	return nil
}

// Stop halts all monitoring. It is idempotent and immediately prevents
// further provider callbacks from mutating state.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.stopProvidersLocked()
	c.setStateLocked(StateStopped, nil)
}

// Wait blocks until all provider goroutines have exited. Intended for
// shutdown sequencing after the watch context is cancelled.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// State returns the current service availability.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentLocation returns the most reliable live fix, falling back to the
// persisted cold-start seed when no live fix has arrived yet.
func (c *Controller) CurrentLocation() (reliability.Sample[geomath.Coordinate], bool) {
	if best, ok := c.location.Best(); ok {
		return best, true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasSeed {
		return c.seed, true
	}
	return reliability.Sample[geomath.Coordinate]{}, false
}

// BestHeading returns the most reliable heading seen so far.
func (c *Controller) BestHeading() (reliability.Sample[float64], bool) {
	return c.heading.Best()
}

// CurrentHeading returns the most recent heading regardless of accuracy, for
// raw display purposes.
func (c *Controller) CurrentHeading() (reliability.Sample[float64], bool) {
	return c.heading.Last()
}

func (c *Controller) startProvidersLocked() {
	watchCtx, cancel := context.WithCancel(c.parent)
	c.cancelWatch = cancel
	c.started = true
	for _, p := range c.providers {
		c.wg.Add(1)
		go func(p Provider) {
			defer c.wg.Done()
			c.track(watchCtx, p)
		}(p)
	}
}

func (c *Controller) stopProvidersLocked() {
	if c.cancelWatch != nil {
		c.cancelWatch()
		c.cancelWatch = nil
	}
	c.started = false
}

func (c *Controller) setStateLocked(state State, cause error) {
	if c.state == state {
		return
	}
	c.state = state
	c.bus.Publish(geobus.Event{
		Kind:  geobus.ServiceStateChanged,
		At:    c.clock.Now(),
		State: state.String(),
		Err:   cause,
	})
}

func (c *Controller) isStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// handleUpdate dispatches a single provider update. Every entry point is
// gated on the started flag so a stopped controller ignores late callbacks.
func (c *Controller) handleUpdate(u Update) {
	if !c.isStarted() && u.Kind != UpdateAuthorized {
		return
	}

	switch u.Kind {
	case UpdateLocation:
		c.handleLocation(u)
	case UpdateHeading:
		c.handleHeading(u)
	case UpdateFault:
		c.handleFault(u)
	case UpdateAuthorized:
		c.handleAuthorized()
	}
}

func (c *Controller) handleLocation(u Update) {
	if err := c.filterLocation(u); err != nil {
		c.logger.Debug("dropped location sample", logger.Err(err),
			slog.String("source", u.Source), slog.Time("at", u.At))
		return
	}

	sample := reliability.Sample[geomath.Coordinate]{
		Value:    u.Coordinate,
		Accuracy: u.Accuracy,
		At:       u.At,
	}
	outcome := c.location.Offer(sample)
	if outcome == reliability.Rejected {
		return
	}

	if c.store != nil {
		if err := c.store.Save(sample); err != nil {
			c.logger.Warn("failed to persist location fix", logger.Err(err))
		}
	}

	c.bus.Publish(geobus.Event{
		Kind:       geobus.LocationUpdated,
		At:         u.At,
		Source:     u.Source,
		Coordinate: u.Coordinate,
		Accuracy:   u.Accuracy,
	})
	if outcome == reliability.Improved {
		c.bus.Publish(geobus.Event{
			Kind:       geobus.MoreReliableLocation,
			At:         u.At,
			Source:     u.Source,
			Coordinate: u.Coordinate,
			Accuracy:   u.Accuracy,
		})
	}
}

// filterLocation rejects samples outside the staleness window in either
// direction.
func (c *Controller) filterLocation(u Update) error {
	age := c.clock.Now().Sub(u.At)
	if age < 0 {
		age = -age
	}
	if age >= StalenessWindow {
		return fmt.Errorf("%w: sample is %s old", errStaleSample, age)
	}
	return nil
}

func (c *Controller) handleHeading(u Update) {
	sample := reliability.Sample[float64]{
		Value:    geomath.NormalizeBearing(u.Heading),
		Accuracy: u.HeadingAccuracy,
		At:       u.At,
	}
	outcome := c.heading.Offer(sample)
	if outcome == reliability.Rejected {
		return
	}

	c.bus.Publish(geobus.Event{
		Kind:     geobus.HeadingUpdated,
		At:       u.At,
		Source:   u.Source,
		Heading:  sample.Value,
		Accuracy: u.HeadingAccuracy,
	})
	if outcome == reliability.Improved {
		c.bus.Publish(geobus.Event{
			Kind:     geobus.MoreReliableHeading,
			At:       u.At,
			Source:   u.Source,
			Heading:  sample.Value,
			Accuracy: u.HeadingAccuracy,
		})
	}
}

// handleFault applies the platform error taxonomy: denied and region-denied
// stop all monitoring, network failures only mark the service unavailable so
// hardware updates keep flowing and the service can recover on its own.
func (c *Controller) handleFault(u Update) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cause := fmt.Errorf("%w: %s fault from %s", ErrServiceUnavailable, u.Fault, u.Source)
	switch u.Fault {
	case FaultDenied, FaultRegionDenied:
		c.stopProvidersLocked()
		c.setStateLocked(StateUnavailable, cause)
	case FaultNetwork:
		c.setStateLocked(StateUnavailable, cause)
	}
}

// Reauthorize restarts monitoring after the platform re-granted
// authorization, e.g. when the user re-enables location services.
func (c *Controller) Reauthorize() {
	c.handleAuthorized()
}

// handleAuthorized restarts monitoring after a renewed authorization.
func (c *Controller) handleAuthorized() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		if c.parent == nil || c.parent.Err() != nil {
			return
		}
		c.startProvidersLocked()
	}
	c.setStateLocked(StateAvailable, nil)
}
