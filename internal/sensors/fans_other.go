//go:build !linux

package sensors

import "codeberg.org/mutker/hwtelemetry/internal/telemetry"

// readFans has no portable source outside hwmon; the rich source names fans
// on Windows.
func readFans() []telemetry.Fan {
	return nil
}
