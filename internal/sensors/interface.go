// Package sensors adapts the host's hardware information sources to a common
// Reading shape. Every source reports 0 for values it could not read.
package sensors

import (
	"context"

	"codeberg.org/mutker/hwtelemetry/internal/telemetry"
)

// DriveTemp is a drive temperature reported under the drive's model name,
// which does not necessarily match the name used in the storage list.
type DriveTemp struct {
	Label string
	Temp  float32
}

// NetCounters are cumulative byte counters across all interfaces.
type NetCounters struct {
	BytesSent uint64
	BytesRecv uint64
	Valid     bool
}

// Reading is what a single source contributed in one cycle.
type Reading struct {
	CPU        telemetry.CPU
	GPU        telemetry.GPU
	Mobo       telemetry.Mobo
	RAM        telemetry.RAM
	Storage    []telemetry.Storage
	Fans       []telemetry.Fan
	DriveTemps []DriveTemp
	Counters   NetCounters
}

// BaselineSource is the portable source that is always present. It never
// fails; missing values are zero.
type BaselineSource interface {
	Collect(ctx context.Context) Reading
}

// RichSource is a detailed hardware monitor that may or may not be running.
type RichSource interface {
	Available() bool
	Query(ctx context.Context) (Reading, error)
}

// GPUSource reads a vendor GPU by index. Absent devices yield a zero GPU.
type GPUSource interface {
	Query(ctx context.Context, index int) telemetry.GPU
}

// SystemSource answers the OS standard queries for CPU clock and the active
// network link.
type SystemSource interface {
	QueryClock(ctx context.Context) float32
	QueryLinkSpeed(ctx context.Context) (mbps uint32, adapter string)
}

// ThermalSource reads the firmware thermal zone.
type ThermalSource interface {
	QueryTemp(ctx context.Context) float32
}

// Pinger measures round trip latency in milliseconds, 0 on failure.
type Pinger interface {
	Ping(ctx context.Context) float32
}
