package transport

import "codeberg.org/mutker/hwtelemetry/internal/errors"

const (
	ErrBind               = errors.ErrorCode("transport_bind_failed")
	ErrInvalidDestination = errors.ErrorCode("transport_invalid_destination")
	ErrInvalidFilter      = errors.ErrorCode("transport_invalid_source_filter")
	ErrSend               = errors.ErrorCode("transport_send_failed")
	ErrFrameTooLarge      = errors.ErrorCode("transport_frame_too_large")
)

func init() {
	errors.RegisterMessage(ErrBind, "Failed to bind UDP socket")
	errors.RegisterMessage(ErrInvalidDestination, "Invalid destination address")
	errors.RegisterMessage(ErrInvalidFilter, "Invalid source address filter")
	errors.RegisterMessage(ErrSend, "Failed to send datagram")
	errors.RegisterMessage(ErrFrameTooLarge, "Frame exceeds datagram size")
}
