// store/trackfile.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package store

import (
	"compress/flate"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/airsports-no/livetracking/calc"
)

// Track files are flate-compressed msgpack, one TrackRecord per file.
// They are written when a calculator finishes and read back by the
// replay tool.

// TrackFileName is the canonical name for a contestant's track file.
func TrackFileName(id calc.ContestantID) string {
	return fmt.Sprintf("track-%d.aslt", id)
}

func StoreTrackFile(path string, rec *TrackRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fw, err := flate.NewWriter(f, flate.BestSpeed)
	if err != nil {
		return err
	}

	if err := msgpack.NewEncoder(fw).Encode(rec); err != nil {
		return err
	}
	return fw.Close()
}

func LoadTrackFile(path string) (*TrackRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fr := flate.NewReader(f)
	defer fr.Close()

	var rec TrackRecord
	if err := msgpack.NewDecoder(fr).Decode(&rec); err != nil {
		return nil, err
	}
	if rec.Contestant == nil || rec.Route == nil || rec.Scorecard == nil {
		return nil, fmt.Errorf("%s: incomplete track record", path)
	}
	return &rec, nil
}
