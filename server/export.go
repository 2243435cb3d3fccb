// server/export.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/airsports-no/livetracking/calc"
	"github.com/airsports-no/livetracking/log"
	"github.com/airsports-no/livetracking/store"
	"github.com/airsports-no/livetracking/util"
)

// RecordSource is the repository surface the archiver needs: full track
// records for admitted contestants.
type RecordSource interface {
	Contestants() []calc.ContestantID
	Record(id calc.ContestantID) (*store.TrackRecord, error)
}

// TrackArchiver persists finished tracks. It writes one track file per
// contestant into the local track directory when the coordinator reaps a
// calculator, serves a bulk compressed export of all finished tracks
// over HTTP, and hands out download URLs for exports already uploaded to
// the archive bucket.
type TrackArchiver struct {
	source RecordSource
	dir    string
	bucket *store.ArchiveBucket
	lg     *log.Logger
}

func NewTrackArchiver(source RecordSource, dir string, bucket *store.ArchiveBucket, lg *log.Logger) *TrackArchiver {
	return &TrackArchiver{source: source, dir: dir, bucket: bucket, lg: lg}
}

// StoreFinished writes the contestant's track file; the coordinator
// calls this when it reaps a finished calculator.
func (a *TrackArchiver) StoreFinished(id calc.ContestantID) error {
	rec, err := a.source.Record(id)
	if err != nil {
		return err
	}
	path := filepath.Join(a.dir, store.TrackFileName(id))
	if err := store.StoreTrackFile(path, rec); err != nil {
		return fmt.Errorf("store track file %s: %w", path, err)
	}
	a.lg.Infof("stored track file %s (%d positions)", path, len(rec.Positions))
	return nil
}

// finishedRecords collects the track record of every contestant whose
// calculator has written a terminal summary.
func (a *TrackArchiver) finishedRecords() []*store.TrackRecord {
	var records []*store.TrackRecord
	for _, id := range a.source.Contestants() {
		rec, err := a.source.Record(id)
		if err != nil {
			continue
		}
		if rec.Summary != nil {
			records = append(records, rec)
		}
	}
	return records
}

// ServeHTTP serves GET <prefix>/export (the bulk archive of all
// finished tracks), GET <prefix>?object=name (a download of one
// uploaded export) and GET <prefix> (the bucket object listing).
func (a *TrackArchiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch {
	case filepath.Base(r.URL.Path) == "export":
		a.serveExport(w)
	case r.URL.Query().Get("object") != "":
		a.serveObject(w, r.URL.Query().Get("object"))
	default:
		a.serveListing(w)
	}
}

func (a *TrackArchiver) serveExport(w http.ResponseWriter) {
	records := a.finishedRecords()
	positions := util.ReduceSlice(records,
		func(rec *store.TrackRecord, n int) int { return n + len(rec.Positions) }, 0)
	a.lg.Infof("exporting %d finished tracks, %d positions", len(records), positions)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="tracks.aslx"`)
	if err := store.ExportArchive(w, records); err != nil {
		a.lg.Errorf("archive export: %v", err)
	}
}

// serveObject redirects to a signed bucket URL, falling back to
// streaming the object directly for public buckets without a signing
// key.
func (a *TrackArchiver) serveObject(w http.ResponseWriter, object string) {
	if a.bucket == nil {
		http.Error(w, "no archive bucket configured", http.StatusNotFound)
		return
	}

	if signed, err := a.bucket.SignedURL(object, time.Hour); err == nil {
		w.Header().Set("Location", signed)
		w.WriteHeader(http.StatusFound)
		return
	}

	rc, err := a.bucket.GetReader(object)
	if err != nil {
		a.lg.Errorf("bucket download %s: %v", object, err)
		http.Error(w, "download failed", http.StatusBadGateway)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, rc); err != nil {
		a.lg.Warnf("stream %s: %v", object, err)
	}
}

func (a *TrackArchiver) serveListing(w http.ResponseWriter) {
	if a.bucket == nil {
		http.Error(w, "no archive bucket configured", http.StatusNotFound)
		return
	}
	objects, err := a.bucket.List("")
	if err != nil {
		a.lg.Errorf("bucket list: %v", err)
		http.Error(w, "listing failed", http.StatusBadGateway)
		return
	}

	type object struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	}
	listing := util.MapSlice(util.SortedMapKeys(objects), func(name string) object {
		return object{Name: name, Size: objects[name]}
	})
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(listing); err != nil {
		a.lg.Warnf("encode listing: %v", err)
	}
}
