package fusion

import (
	"strings"

	"codeberg.org/mutker/hwtelemetry/internal/sensors"
	"codeberg.org/mutker/hwtelemetry/internal/telemetry"
)

const (
	maxComponentTemp = 150 // CPU, GPU and motherboard
	maxStorageTemp   = 100
)

// firstNonZero returns the first value that is not the unavailable sentinel.
func firstNonZero(values ...float32) float32 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}

	return 0
}

// validTemp rejects readings outside (0, limit) as sensor noise.
func validTemp(v, limit float32) float32 {
	if v <= 0 || v >= limit {
		return 0
	}

	return v
}

// sanitize applies the temperature validity filter to everything a source
// reported before it takes part in the merge.
func sanitize(r *sensors.Reading) {
	r.CPU.Temp = validTemp(r.CPU.Temp, maxComponentTemp)
	r.GPU.Temp = validTemp(r.GPU.Temp, maxComponentTemp)
	r.Mobo.Temp = validTemp(r.Mobo.Temp, maxComponentTemp)

	// Sources may hand out shared slices; filter into fresh ones.
	if len(r.Storage) > 0 {
		storage := make([]telemetry.Storage, len(r.Storage))
		for i, s := range r.Storage {
			s.Temp = validTemp(s.Temp, maxStorageTemp)
			storage[i] = s
		}
		r.Storage = storage
	}

	var kept []sensors.DriveTemp
	for _, d := range r.DriveTemps {
		if validTemp(d.Temp, maxStorageTemp) != 0 {
			kept = append(kept, d)
		}
	}
	r.DriveTemps = kept
}

func mergeCPU(tiers ...telemetry.CPU) telemetry.CPU {
	var out telemetry.CPU
	for _, c := range tiers {
		out.Usage = firstNonZero(out.Usage, c.Usage)
		out.Temp = firstNonZero(out.Temp, c.Temp)
		out.Voltage = firstNonZero(out.Voltage, c.Voltage)
		out.Power = firstNonZero(out.Power, c.Power)
		out.Clock = firstNonZero(out.Clock, c.Clock)
	}

	return out
}

func mergeGPU(tiers ...telemetry.GPU) telemetry.GPU {
	var out telemetry.GPU
	for _, g := range tiers {
		out.Load = firstNonZero(out.Load, g.Load)
		out.Temp = firstNonZero(out.Temp, g.Temp)
		out.Voltage = firstNonZero(out.Voltage, g.Voltage)
		out.CoreClock = firstNonZero(out.CoreClock, g.CoreClock)
		out.MemClock = firstNonZero(out.MemClock, g.MemClock)
		out.FanRPM = firstNonZero(out.FanRPM, g.FanRPM)
		out.VRAMUsedMB = firstNonZero(out.VRAMUsedMB, g.VRAMUsedMB)
	}

	return out
}

func mergeRAM(tiers ...telemetry.RAM) telemetry.RAM {
	var out telemetry.RAM
	for _, r := range tiers {
		out.Percent = firstNonZero(out.Percent, r.Percent)
		out.UsedGB = firstNonZero(out.UsedGB, r.UsedGB)
		out.TotalGB = firstNonZero(out.TotalGB, r.TotalGB)
	}

	return out
}

// hasGPU reports whether a source produced a usable GPU reading.
func hasGPU(g telemetry.GPU) bool {
	return g.Temp != 0 || g.Load != 0
}

// pickList returns a copy of preferred when it has entries, otherwise of
// fallback. Empty results are nil.
func pickList[T any](preferred, fallback []T) []T {
	src := fallback
	if len(preferred) > 0 {
		src = preferred
	}
	if len(src) == 0 {
		return nil
	}

	return append([]T(nil), src...)
}

// applyDriveTemps assigns drive temperatures to storage entries that still
// lack one. A label goes to the first such entry whose name matches it;
// without a match it goes to the first entry still lacking a temperature,
// which can attribute it to the wrong drive when several are unmatched.
func applyDriveTemps(storage []telemetry.Storage, temps []sensors.DriveTemp) {
	for _, dt := range temps {
		slot := -1
		for i := range storage {
			if storage[i].Temp == 0 && storageNamesMatch(storage[i].Name, dt.Label) {
				slot = i
				break
			}
		}
		if slot < 0 {
			for i := range storage {
				if storage[i].Temp == 0 {
					slot = i
					break
				}
			}
		}
		if slot < 0 {
			return
		}

		storage[slot].Temp = dt.Temp
	}
}

// storageNamesMatch is a case-insensitive substring match in either
// direction.
func storageNamesMatch(name, label string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	l := strings.ToLower(strings.TrimSpace(label))
	if n == "" || l == "" {
		return false
	}

	return strings.Contains(n, l) || strings.Contains(l, n)
}
