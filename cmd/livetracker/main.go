// cmd/livetracker/main.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// livetracker is the long-running scoring service: it accepts position
// reports from the GPS aggregator, runs one calculator per active
// contestant, and publishes score updates on the event stream.
//
// Configuration is environment driven:
//
//	LIVETRACKING_LOG_LEVEL    debug|info|warn|error (default info)
//	LIVETRACKING_LOG_DIR      log directory (default livetracking-logs)
//	LIVETRACKING_LISTEN       ingest listen address (default :8905)
//	LIVETRACKING_ARCHIVE_URL  position archive endpoint; empty disables back-fill
//	LIVETRACKING_ARCHIVE_TOKEN  bearer token for the archive
//	LIVETRACKING_GCS_BUCKET   optional archive export bucket
//	LIVETRACKING_GCS_CREDENTIALS  path to service account JSON
//	LIVETRACKING_TRACK_DIR    track file directory (default livetracking-tracks)
//	LIVETRACKING_CALCULATION_DELAY  override delay, e.g. "90s"
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/airsports-no/livetracking/calc"
	"github.com/airsports-no/livetracking/log"
	"github.com/airsports-no/livetracking/server"
	"github.com/airsports-no/livetracking/store"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	lg := log.New(envOr("LIVETRACKING_LOG_LEVEL", "info"), os.Getenv("LIVETRACKING_LOG_DIR"))
	defer lg.CatchAndReportCrash()

	repo := store.NewMemoryRepository(lg)

	var archive calc.Archive
	if endpoint := os.Getenv("LIVETRACKING_ARCHIVE_URL"); endpoint != "" {
		archive = server.NewHTTPArchive(endpoint, os.Getenv("LIVETRACKING_ARCHIVE_TOKEN"))
	} else {
		lg.Warnf("no archive endpoint configured; gap back-fill is disabled")
		archive = store.NewMemoryArchive(lg)
	}

	var bucket *store.ArchiveBucket
	if name := os.Getenv("LIVETRACKING_GCS_BUCKET"); name != "" {
		var credentials []byte
		if path := os.Getenv("LIVETRACKING_GCS_CREDENTIALS"); path != "" {
			var err error
			if credentials, err = os.ReadFile(path); err != nil {
				lg.Errorf("read GCS credentials: %v", err)
			}
		}
		var err error
		if bucket, err = store.MakeArchiveBucket(name, store.ArchiveBucketConfig{Credentials: credentials}); err != nil {
			lg.Errorf("GCS bucket %s: %v", name, err)
		} else {
			lg.Infof("track exports will be served from bucket %s", name)
		}
	}

	trackDir := envOr("LIVETRACKING_TRACK_DIR", "livetracking-tracks")
	if err := os.MkdirAll(trackDir, 0o755); err != nil {
		lg.Errorf("create track directory %s: %v", trackDir, err)
	}

	events := calc.NewEventStream(lg)
	defer events.Destroy()

	liveness := server.NewLivenessStore()
	termination := server.NewTerminationStore()
	ingest := server.NewIngest(repo, server.NewStickyTrackerStore(), lg)
	coordinator := server.NewCoordinator(repo, repo, archive, liveness, termination,
		ingest, events, lg)

	archiver := server.NewTrackArchiver(repo, trackDir, bucket, lg)
	coordinator.AttachArchiver(archiver)

	if delay := os.Getenv("LIVETRACKING_CALCULATION_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil {
			lg.Infof("calculation delay override: %v", d)
			coordinator.SetCalculationDelayOverride(d)
		} else {
			lg.Errorf("LIVETRACKING_CALCULATION_DELAY: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/ingest", ingest)
	mux.Handle("/tracks", archiver)
	mux.Handle("/tracks/", archiver)
	httpServer := &http.Server{
		Addr:              envOr("LIVETRACKING_LISTEN", ":8905"),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return coordinator.Run(ctx) })
	group.Go(func() error {
		lg.Infof("ingest listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		lg.Errorf("shutdown: %v", err)
		os.Exit(1)
	}
	lg.Infof("livetracker stopped")
}
