// calc/position.go
// Copyright(c) 2021-2026 Air Sports Live Tracking contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package calc

import (
	"time"

	"github.com/airsports-no/livetracking/geo"
)

// Position is a single tracker report as seen by the calculator. The
// four receive timestamps are carried through persistence so that
// end-to-end latency can be reconstructed afterwards.
type Position struct {
	DeviceTime               time.Time `json:"device_time" msgpack:"dt"`
	ServerTime               time.Time `json:"server_time" msgpack:"st"`
	ProcessorReceivedTime    time.Time `json:"processor_received_time" msgpack:"prt"`
	CalculatorReceivedTime   time.Time `json:"calculator_received_time" msgpack:"crt"`
	WebsocketTransmittedTime time.Time `json:"websocket_transmitted_time" msgpack:"wtt"`

	Pos          geo.Point `json:"position" msgpack:"p"`
	Altitude     float64   `json:"altitude" msgpack:"a"`
	Speed        float64   `json:"speed" msgpack:"s"`
	Course       float64   `json:"course" msgpack:"c"`
	BatteryLevel float64   `json:"battery_level" msgpack:"b"`

	// Interpolated positions are generated to fill gaps in the stream;
	// they share the real successor's non-geometric fields.
	Interpolated bool `json:"interpolated" msgpack:"i"`
}

// SamePlace reports whether two positions share the exact same
// coordinates; consecutive identical fixes are dropped before scoring.
func (p *Position) SamePlace(o *Position) bool {
	return p.Pos.Lat == o.Pos.Lat && p.Pos.Lon == o.Pos.Lon
}
