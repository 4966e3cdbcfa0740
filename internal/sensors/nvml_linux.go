//go:build linux

package sensors

import (
	"context"
	"sync"

	"codeberg.org/mutker/hwtelemetry/internal/errors"
	"codeberg.org/mutker/hwtelemetry/internal/logger"
	"codeberg.org/mutker/hwtelemetry/internal/telemetry"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// nvmlDevice is the subset of nvml.Device the source reads.
type nvmlDevice interface {
	GetTemperature(nvml.TemperatureSensors) (uint32, nvml.Return)
	GetUtilizationRates() (nvml.Utilization, nvml.Return)
	GetClockInfo(nvml.ClockType) (uint32, nvml.Return)
	GetFanSpeed() (uint32, nvml.Return)
	GetMemoryInfo() (nvml.Memory, nvml.Return)
}

// nvmlError represents an NVML-specific error
type nvmlError struct {
	ret nvml.Return
}

func (e nvmlError) Error() string {
	return nvml.ErrorString(e.ret)
}

func newNVMLError(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	return &nvmlError{ret: ret}
}

func isNVMLSuccess(ret nvml.Return) bool {
	return ret == nvml.SUCCESS
}

// NVMLSource reads NVIDIA GPUs through the management library.
type NVMLSource struct {
	mu          sync.Mutex
	initialized bool
	device      func(index int) (nvmlDevice, nvml.Return)
}

func NewNVMLSource() *NVMLSource {
	return &NVMLSource{
		device: func(index int) (nvmlDevice, nvml.Return) {
			return nvml.DeviceGetHandleByIndex(index)
		},
	}
}

// TryInit loads the library and checks that at least one device exists.
func (s *NVMLSource) TryInit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errFactory := errors.New()
	if s.initialized {
		return nil
	}

	if ret := nvml.Init(); !isNVMLSuccess(ret) {
		return errFactory.Wrap(ErrInitFailed, newNVMLError(ret))
	}

	count, ret := nvml.DeviceGetCount()
	if !isNVMLSuccess(ret) || count == 0 {
		_ = nvml.Shutdown()
		if !isNVMLSuccess(ret) {
			return errFactory.Wrap(ErrNoDevice, newNVMLError(ret))
		}
		return errFactory.New(ErrNoDevice)
	}

	if dev, ret := nvml.DeviceGetHandleByIndex(0); isNVMLSuccess(ret) {
		if name, ret := dev.GetName(); isNVMLSuccess(ret) {
			logger.Info().Str("gpu", name).Int("count", count).Msg("NVML initialized")
		}
	}

	s.initialized = true

	return nil
}

func (s *NVMLSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil
	}

	if ret := nvml.Shutdown(); !isNVMLSuccess(ret) {
		return errors.New().Wrap(ErrShutdownFailed, newNVMLError(ret))
	}
	s.initialized = false

	return nil
}

func (s *NVMLSource) Query(_ context.Context, index int) telemetry.GPU {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return telemetry.GPU{}
	}

	dev, ret := s.device(index)
	if !isNVMLSuccess(ret) {
		logger.Debug().Err(newNVMLError(ret)).Int("index", index).Msg("NVML device handle")
		return telemetry.GPU{}
	}

	return gpuFromDevice(dev)
}

// gpuFromDevice reads each metric independently; a failed call leaves its
// field at zero. FanRPM carries NVML's fan percentage since the library does
// not report RPM. NVML has no core voltage reading.
func gpuFromDevice(dev nvmlDevice) telemetry.GPU {
	var g telemetry.GPU

	if temp, ret := dev.GetTemperature(nvml.TEMPERATURE_GPU); isNVMLSuccess(ret) {
		g.Temp = float32(temp)
	}
	if util, ret := dev.GetUtilizationRates(); isNVMLSuccess(ret) {
		g.Load = float32(util.Gpu)
	}
	if clock, ret := dev.GetClockInfo(nvml.CLOCK_GRAPHICS); isNVMLSuccess(ret) {
		g.CoreClock = float32(clock)
	}
	if clock, ret := dev.GetClockInfo(nvml.CLOCK_MEM); isNVMLSuccess(ret) {
		g.MemClock = float32(clock)
	}
	if fan, ret := dev.GetFanSpeed(); isNVMLSuccess(ret) {
		g.FanRPM = float32(fan)
	}
	if mem, ret := dev.GetMemoryInfo(); isNVMLSuccess(ret) {
		g.VRAMUsedMB = float32(float64(mem.Used) / (1024 * 1024))
	}

	return g
}
