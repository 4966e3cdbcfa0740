package sensors

import (
	"context"
	stderrors "errors"
	"time"

	"codeberg.org/mutker/hwtelemetry/internal/errors"
	"codeberg.org/mutker/hwtelemetry/internal/logger"
)

// HubOptions selects which optional sources the hub tries to bring up.
type HubOptions struct {
	PingTarget  string
	PingTimeout time.Duration
	DisableRich bool
	DisableGPU  bool
	DisablePing bool
}

// Hub owns the long lived source handles. Optional sources stay nil when
// they could not be initialized.
type Hub struct {
	Baseline BaselineSource
	Rich     RichSource
	GPU      GPUSource
	System   SystemSource
	Thermal  ThermalSource
	Pinger   Pinger

	opts    HubOptions
	closers []func() error
}

func NewHub(opts HubOptions) *Hub {
	return &Hub{opts: opts}
}

// TryInit brings up every source independently. A source that fails is
// logged and left disabled; TryInit itself never fails.
func (h *Hub) TryInit(ctx context.Context) {
	h.Baseline = NewBaseline()

	if !h.opts.DisableRich {
		lhm := NewLHMSource()
		if lhm.Probe(ctx) {
			h.Rich = lhm
		}
	}

	if !h.opts.DisableGPU {
		gpu := NewNVMLSource()
		if err := gpu.TryInit(); err != nil {
			logger.Info().Err(err).Msg("GPU vendor source disabled")
		} else {
			h.GPU = gpu
			h.closers = append(h.closers, gpu.Close)
		}
	}

	osSource := NewOSSource()
	h.System = osSource
	h.Thermal = osSource

	if !h.opts.DisablePing {
		h.Pinger = NewTCPPinger(h.opts.PingTarget, h.opts.PingTimeout)
	}

	logger.Info().
		Bool("rich", h.Rich != nil).
		Bool("gpu", h.GPU != nil).
		Bool("ping", h.Pinger != nil).
		Msg("Sensor sources initialized")
}

// Close releases handles in reverse order of acquisition.
func (h *Hub) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	h.closers = nil

	if len(errs) > 0 {
		return errors.New().Wrap(ErrShutdownFailed, stderrors.Join(errs...))
	}

	return nil
}
