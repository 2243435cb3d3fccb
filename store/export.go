// store/export.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package store

import (
	"errors"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Archive exports are a zstd-compressed stream of msgpack-encoded
// TrackRecords, one per finished contestant. Unlike the per-contestant
// track files these are written once per event and optimized for size
// rather than write speed.

func ExportArchive(w io.Writer, records []*TrackRecord) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return err
	}

	enc := msgpack.NewEncoder(zw)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func ImportArchive(r io.Reader) ([]*TrackRecord, error) {
	zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var records []*TrackRecord
	dec := msgpack.NewDecoder(zr)
	for {
		var rec TrackRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return nil, err
		}
		records = append(records, &rec)
	}
}
