// Package fusion merges the readings of several ranked sensor sources into
// one telemetry record per collection cycle.
//
// Scalar fields take the first non-zero value in the order rich monitor, GPU
// vendor library, OS standard queries, baseline, thermal zone. The GPU vendor
// source is only consulted when the rich monitor has no GPU reading, and the
// OS and thermal sources only fill fields that are still unset.
package fusion

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/hwtelemetry/internal/logger"
	"codeberg.org/mutker/hwtelemetry/internal/sensors"
	"codeberg.org/mutker/hwtelemetry/internal/telemetry"
)

// Sources are the collaborators the engine consults. Any of them may be nil.
type Sources struct {
	Baseline sensors.BaselineSource
	Rich     sensors.RichSource
	GPU      sensors.GPUSource
	System   sensors.SystemSource
	Thermal  sensors.ThermalSource
	Pinger   sensors.Pinger
}

// Option configures an Engine.
type Option func(*Engine)

// WithGPUIndex selects the vendor GPU to read.
func WithGPUIndex(index int) Option {
	return func(e *Engine) {
		e.gpuIndex = index
	}
}

// WithClock replaces time.Now for throughput calculation.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine builds telemetry records. Collect is safe for concurrent use but
// throughput rates are only meaningful from a single caller.
type Engine struct {
	src      Sources
	gpuIndex int
	now      func() time.Time

	mu          sync.Mutex
	rates       rateTracker
	richFailing bool
}

func New(src Sources, opts ...Option) *Engine {
	e := &Engine{
		src: src,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Collect produces a complete record. Failing sources contribute nothing
// and never abort the cycle.
func (e *Engine) Collect(ctx context.Context) telemetry.Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	var base sensors.Reading
	if e.src.Baseline != nil {
		base = e.src.Baseline.Collect(ctx)
	}
	sanitize(&base)

	rich := e.queryRich(ctx)
	sanitize(&rich)

	var rec telemetry.Record

	var vendor telemetry.GPU
	if !hasGPU(rich.GPU) && e.src.GPU != nil {
		vendor = e.src.GPU.Query(ctx, e.gpuIndex)
		vendor.Temp = validTemp(vendor.Temp, maxComponentTemp)
	}
	rec.GPU = mergeGPU(rich.GPU, vendor, base.GPU)

	var osCPU telemetry.CPU
	if rich.CPU.Clock == 0 && e.src.System != nil {
		osCPU.Clock = e.src.System.QueryClock(ctx)
	}
	rec.CPU = mergeCPU(rich.CPU, osCPU, base.CPU)
	if rec.CPU.Temp == 0 && e.src.Thermal != nil {
		rec.CPU.Temp = validTemp(e.src.Thermal.QueryTemp(ctx), maxComponentTemp)
	}

	rec.Mobo.Temp = firstNonZero(rich.Mobo.Temp, base.Mobo.Temp)
	rec.RAM = mergeRAM(rich.RAM, base.RAM)

	rec.Storage = pickList(rich.Storage, base.Storage)
	applyDriveTemps(rec.Storage, rich.DriveTemps)
	applyDriveTemps(rec.Storage, base.DriveTemps)

	rec.Fans = pickList(rich.Fans, base.Fans)

	rec.Network = e.network(ctx, rich.Counters, base.Counters)

	return rec
}

func (e *Engine) queryRich(ctx context.Context) sensors.Reading {
	if e.src.Rich == nil || !e.src.Rich.Available() {
		return sensors.Reading{}
	}

	r, err := e.src.Rich.Query(ctx)
	if err != nil {
		if !e.richFailing {
			logger.Warn().Err(err).Msg("Rich sensor source query failed, using fallbacks")
		} else {
			logger.Debug().Err(err).Msg("Rich sensor source query failed")
		}
		e.richFailing = true

		return sensors.Reading{}
	}

	if e.richFailing {
		logger.Info().Msg("Rich sensor source recovered")
		e.richFailing = false
	}

	return r
}

func (e *Engine) network(ctx context.Context, counters ...sensors.NetCounters) telemetry.Network {
	var n telemetry.Network

	for _, c := range counters {
		if c.Valid {
			n.DownKBps, n.UpKBps = e.rates.update(c, e.now())
			break
		}
	}

	if e.src.Pinger != nil {
		n.PingMs = e.src.Pinger.Ping(ctx)
	}

	if e.src.System != nil {
		n.LinkSpeedMbps, n.AdapterName = e.src.System.QueryLinkSpeed(ctx)
	}

	return n
}
