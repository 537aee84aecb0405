// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

// Package main implements the geopose simulator. It runs a full session
// against the configured providers and prints the fusion state as JSON.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/oriwave/geopose/internal/config"
	"github.com/oriwave/geopose/internal/logger"
	"github.com/oriwave/geopose/internal/session"
	"github.com/oriwave/geopose/internal/worldmap"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type Options struct {
	ConfigFile string  `short:"c" long:"config" env:"GEOPOSE_CONFIG" description:"Path to configuration file"`
	ReplayFile string  `short:"r" long:"replay" env:"GEOPOSE_REPLAY" description:"Path to a replay script, disables live providers"`
	WalkSpeed  float64 `short:"w" long:"walk-speed" description:"Simulated eastward walking speed in m/s" default:"0"`
	Verbose    bool    `short:"v" long:"verbose" description:"Enable debug logging"`
}

// walkingPoses simulates a device drifting east at a constant speed.
type walkingPoses struct {
	start time.Time
	speed float64
}

func (w *walkingPoses) CurrentPose() (worldmap.Transform, bool) {
	meters := time.Since(w.start).Seconds() * w.speed
	return worldmap.Translate(meters, 0, 0), true
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGABRT,
		os.Interrupt)
	defer cancel()

	// Initialize Logger
	log := logger.New(slog.LevelError)

	// Read config
	conf, err := loadConfig(opts.ConfigFile)
	if err != nil {
		log.Error("failed to load config", logger.Err(err))
		os.Exit(1)
	}
	if opts.ReplayFile != "" {
		conf.Location.ReplayFile = opts.ReplayFile
		conf.Location.DisableGPSD = true
		conf.Location.DisableGeoClue = true
		conf.Location.DisableGeoIP = true
	}
	if opts.Verbose {
		conf.LogLevel = slog.LevelDebug
	}
	log = logger.New(conf.LogLevel)

	// Initialize the session
	poses := &walkingPoses{start: time.Now(), speed: opts.WalkSpeed}
	sess, err := session.New(conf, log, poses)
	if err != nil {
		log.Error("failed to initialize geopose session", logger.Err(err))
		os.Exit(1)
	}

	// Start the session loop
	log.Info("starting geopose session", slog.String("version", version),
		slog.String("commit", commit), slog.String("date", date))
	if err = sess.Run(ctx); err != nil {
		log.Error("failed to run geopose session", logger.Err(err))
	}
	log.Info("shutting down geopose session")
}

func loadConfig(explicit string) (*config.Config, error) {
	if explicit != "" {
		return config.NewFromFile(filepath.Dir(explicit), filepath.Base(explicit))
	}
	if path, file := findConfigFile(); path != "" && file != "" {
		return config.NewFromFile(path, file)
	}
	return config.New()
}

func findConfigFile() (string, string) {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", ""
	}
	exts := []string{"toml", "yaml", "yml", "json"}
	for _, ext := range exts {
		path := filepath.Join(homedir, ".config", "geopose", "config."+ext)
		if _, err = os.Stat(path); err == nil {
			return filepath.Dir(path), filepath.Base(path)
		}
	}
	return "", ""
}
