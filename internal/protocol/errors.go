package protocol

import "codeberg.org/mutker/hwtelemetry/internal/errors"

const (
	ErrTooShort        = errors.ErrorCode("protocol_frame_too_short")
	ErrInvalidMagic    = errors.ErrorCode("protocol_invalid_magic")
	ErrVersionMismatch = errors.ErrorCode("protocol_version_mismatch")
	ErrDeserialize     = errors.ErrorCode("protocol_deserialize_failed")
	ErrSerialize       = errors.ErrorCode("protocol_serialize_failed")
)

func init() {
	errors.RegisterMessage(ErrTooShort, "Frame shorter than header")
	errors.RegisterMessage(ErrInvalidMagic, "Frame has wrong magic byte")
	errors.RegisterMessage(ErrVersionMismatch, "Unsupported frame version")
	errors.RegisterMessage(ErrDeserialize, "Frame body is not a valid record")
	errors.RegisterMessage(ErrSerialize, "Failed to serialize record")
}
