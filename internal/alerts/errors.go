package alerts

import "codeberg.org/mutker/hwtelemetry/internal/errors"

const (
	ErrInvalidLevel = errors.ErrorCode("alerts_invalid_level")
	ErrDelivery     = errors.ErrorCode("alerts_delivery_failed")
)

func init() {
	errors.RegisterMessage(ErrInvalidLevel, "Unknown alert level")
	errors.RegisterMessage(ErrDelivery, "Alert notification delivery failed")
}
