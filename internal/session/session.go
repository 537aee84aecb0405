// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

// Package session wires the fusion controller, origin binder and position
// graph into one runnable unit and owns their lifecycle.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/oriwave/geopose/internal/config"
	"github.com/oriwave/geopose/internal/fusion"
	"github.com/oriwave/geopose/internal/fusion/provider/geoclue"
	"github.com/oriwave/geopose/internal/fusion/provider/geoip"
	"github.com/oriwave/geopose/internal/fusion/provider/gpsd"
	"github.com/oriwave/geopose/internal/fusion/provider/replay"
	"github.com/oriwave/geopose/internal/geobus"
	"github.com/oriwave/geopose/internal/geomath"
	"github.com/oriwave/geopose/internal/http"
	"github.com/oriwave/geopose/internal/logger"
	"github.com/oriwave/geopose/internal/posgraph"
	"github.com/oriwave/geopose/internal/worldmap"
)

const DesktopID = "geopose"

// PoseSource supplies the device pose in the local frame at the moment a
// reliable fix arrives. A tracking system that has not converged yet reports
// ok == false.
type PoseSource interface {
	CurrentPose() (pose worldmap.Transform, ok bool)
}

type outputData struct {
	State       string  `json:"state"`
	OriginBound bool    `json:"origin_bound"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Elevation   float64 `json:"elevation"`
	Accuracy    float64 `json:"accuracy"`
	Heading     float64 `json:"heading"`
	Anchors     int     `json:"anchors"`
}

type Session struct {
	config     *config.Config
	logger     *logger.Logger
	bus        *geobus.Bus
	controller *fusion.Controller
	binder     *worldmap.OriginBinder
	scheduler  gocron.Scheduler
	poses      PoseSource
	out        io.Writer

	graphLock sync.Mutex
	graph     *posgraph.Graph

	bindLock      sync.Mutex
	hasBound      bool
	boundAccuracy float64
}

func New(conf *config.Config, log *logger.Logger, poses PoseSource) (*Session, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	bus := geobus.New()
	binder := worldmap.NewOriginBinder()
	store := fusion.NewStore(conf.Location.StoreFile)

	controller, err := fusion.New(log, bus, store, nil, createProviders(conf, log)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create fusion controller: %w", err)
	}

	return &Session{
		config:     conf,
		logger:     log,
		bus:        bus,
		controller: controller,
		binder:     binder,
		scheduler:  scheduler,
		poses:      poses,
		out:        os.Stdout,
		graph:      posgraph.New(bus, binder),
	}, nil
}

func createProviders(conf *config.Config, log *logger.Logger) []fusion.Provider {
	var providers []fusion.Provider

	if conf.Location.ReplayFile != "" {
		p, err := replay.NewFromFile(conf.Location.ReplayFile)
		if err != nil {
			log.Error("failed to create replay provider", logger.Err(err))
		} else {
			providers = append(providers, p)
		}
	}

	if !conf.Location.DisableGPSD {
		providers = append(providers, gpsd.New())
	}

	if !conf.Location.DisableGeoClue {
		providers = append(providers, geoclue.New(DesktopID))
	}

	if !conf.Location.DisableGeoIP {
		providers = append(providers, geoip.New(http.New(log)))
	}

	return providers
}

func (s *Session) Run(ctx context.Context) error {
	if err := s.createScheduledJob(ctx, s.config.Intervals.Output, s.printState,
		"pose_output_job"); err != nil {
		return err
	}
	s.scheduler.Start()

	if err := s.controller.Start(ctx); err != nil {
		return fmt.Errorf("failed to start fusion controller: %w", err)
	}

	// Subscribe to reliability improvements for origin (re-)binding
	sub, unsub := s.bus.Subscribe(geobus.MoreReliableLocation, 32)
	go s.processLocationUpdates(ctx, sub)

	// Wait for the context to cancel
	<-ctx.Done()
	if unsub != nil {
		unsub()
	}
	s.controller.Stop()
	s.controller.Wait()
	return s.scheduler.Shutdown()
}

func (s *Session) createScheduledJob(ctx context.Context, interval time.Duration, task func(context.Context),
	jobName string,
) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	return nil
}

// processLocationUpdates consumes reliability improvements from the bus and
// re-binds the world origin to each improved fix.
func (s *Session) processLocationUpdates(ctx context.Context, sub <-chan geobus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			s.logger.Debug("received reliability improvement",
				slog.Float64("lat", e.Coordinate.Latitude), slog.Float64("lon", e.Coordinate.Longitude),
				slog.Float64("accuracy", e.Accuracy), slog.String("source", e.Source))
			s.bindOrigin(e)
		}
	}
}

// bindOrigin captures the current device pose and binds it to the given fix.
// A configured rebind threshold suppresses re-binds whose accuracy gain is
// below it; the first bind always happens.
func (s *Session) bindOrigin(e geobus.Event) {
	s.bindLock.Lock()
	defer s.bindLock.Unlock()

	if s.hasBound && e.Accuracy > s.boundAccuracy-s.config.Origin.RebindThreshold {
		s.logger.Debug("accuracy gain below rebind threshold, keeping current origin",
			slog.Float64("accuracy", e.Accuracy), slog.Float64("bound", s.boundAccuracy))
		return
	}

	pose, ok := s.poses.CurrentPose()
	if !ok {
		s.logger.Debug("no device pose available yet, skipping origin bind")
		return
	}

	s.binder.Bind(e.Coordinate, pose)
	s.hasBound = true
	s.boundAccuracy = e.Accuracy
	s.logger.Info("world origin bound", slog.Float64("lat", e.Coordinate.Latitude),
		slog.Float64("lon", e.Coordinate.Longitude), slog.Float64("accuracy", e.Accuracy),
		slog.String("source", e.Source))

	s.bus.Publish(geobus.Event{
		Kind:       geobus.OriginBound,
		At:         e.At,
		Source:     e.Source,
		Coordinate: e.Coordinate,
		Accuracy:   e.Accuracy,
	})
}

// AddGeoAnchor places an entity at a geographic coordinate. It fails with
// worldmap.ErrNotYetBound before the first origin bind.
func (s *Session) AddGeoAnchor(entity uuid.UUID, coordinate geomath.Coordinate) (posgraph.NodeID, error) {
	s.graphLock.Lock()
	defer s.graphLock.Unlock()
	return s.graph.AddAbsolute(entity, coordinate)
}

// AddPoseAnchor places an entity at a fixed pose in the local frame.
func (s *Session) AddPoseAnchor(entity uuid.UUID, pose worldmap.Transform) posgraph.NodeID {
	s.graphLock.Lock()
	defer s.graphLock.Unlock()
	return s.graph.AddUnbound(entity, pose)
}

// AddChildAnchor places an entity relative to an existing anchor.
func (s *Session) AddChildAnchor(entity uuid.UUID, parent posgraph.NodeID,
	pose worldmap.Transform,
) (posgraph.NodeID, error) {
	s.graphLock.Lock()
	defer s.graphLock.Unlock()
	return s.graph.AddRelative(entity, parent, pose)
}

// RemoveAnchor drops an anchor from the graph.
func (s *Session) RemoveAnchor(id posgraph.NodeID) error {
	s.graphLock.Lock()
	defer s.graphLock.Unlock()
	return s.graph.Remove(id)
}

// ResolveAnchor computes the anchor's pose in the local frame.
func (s *Session) ResolveAnchor(id posgraph.NodeID) (worldmap.Transform, error) {
	s.graphLock.Lock()
	defer s.graphLock.Unlock()
	return s.graph.Resolve(id)
}

// printState outputs the current fusion and binding state to stdout.
func (s *Session) printState(context.Context) {
	output := outputData{State: s.controller.State().String()}

	if sample, ok := s.controller.CurrentLocation(); ok {
		output.Latitude = sample.Value.Latitude
		output.Longitude = sample.Value.Longitude
		output.Elevation = sample.Value.Elevation
		output.Accuracy = sample.Accuracy
	}
	if sample, ok := s.controller.CurrentHeading(); ok {
		output.Heading = sample.Value
	}
	_, output.OriginBound = s.binder.Bound()

	s.graphLock.Lock()
	output.Anchors = s.graph.Len()
	s.graphLock.Unlock()

	if err := json.NewEncoder(s.out).Encode(output); err != nil {
		s.logger.Error("failed to encode state data", logger.Err(err))
	}
}
