//go:build !linux

package sensors

import (
	"context"

	"codeberg.org/mutker/hwtelemetry/internal/errors"
	"codeberg.org/mutker/hwtelemetry/internal/telemetry"
)

// NVMLSource is only available where the go-nvml loader is supported.
// TODO: load nvml.dll on Windows once go-nvml ships a Windows loader.
type NVMLSource struct{}

func NewNVMLSource() *NVMLSource {
	return &NVMLSource{}
}

func (*NVMLSource) TryInit() error {
	return errors.New().New(ErrUnavailable)
}

func (*NVMLSource) Close() error {
	return nil
}

func (*NVMLSource) Query(context.Context, int) telemetry.GPU {
	return telemetry.GPU{}
}
