package sensors

import "codeberg.org/mutker/hwtelemetry/internal/errors"

const (
	ErrUnavailable    = errors.ErrorCode("sensors_unavailable")
	ErrInitFailed     = errors.ErrorCode("sensors_init_failed")
	ErrShutdownFailed = errors.ErrorCode("sensors_shutdown_failed")
	ErrQueryFailed    = errors.ErrorCode("sensors_query_failed")
	ErrNoDevice       = errors.ErrorCode("sensors_no_device")
	ErrBusy           = errors.ErrorCode("sensors_busy")
)

func init() {
	errors.RegisterMessage(ErrUnavailable, "Sensor source not available on this host")
	errors.RegisterMessage(ErrInitFailed, "Sensor source initialization failed")
	errors.RegisterMessage(ErrShutdownFailed, "Sensor source shutdown failed")
	errors.RegisterMessage(ErrQueryFailed, "Sensor query failed")
	errors.RegisterMessage(ErrNoDevice, "No device found")
	errors.RegisterMessage(ErrBusy, "Previous sensor query still in flight")
}
