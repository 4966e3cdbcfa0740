package sensors

import (
	"context"
	"os"
	"strconv"
	"strings"

	"codeberg.org/mutker/hwtelemetry/internal/logger"
	"codeberg.org/mutker/hwtelemetry/internal/telemetry"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
	psensors "github.com/shirou/gopsutil/v4/sensors"
)

const bytesPerGB = 1024 * 1024 * 1024

// Baseline collects the portable metrics through gopsutil.
type Baseline struct {
	// fans is swapped out in tests and on platforms without hwmon.
	fans func() []telemetry.Fan
}

func NewBaseline() *Baseline {
	return &Baseline{fans: readFans}
}

func (b *Baseline) Collect(ctx context.Context) Reading {
	var r Reading

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		r.CPU.Usage = float32(pct[0])
	} else if err != nil {
		logger.Debug().Err(err).Msg("baseline: cpu usage")
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		r.RAM = telemetry.RAM{
			Percent: float32(vm.UsedPercent),
			UsedGB:  float32(float64(vm.Used) / bytesPerGB),
			TotalGB: float32(float64(vm.Total) / bytesPerGB),
		}
	} else {
		logger.Debug().Err(err).Msg("baseline: memory")
	}

	r.Storage = collectDisks(ctx)

	if counters, err := psnet.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		r.Counters = NetCounters{
			BytesSent: counters[0].BytesSent,
			BytesRecv: counters[0].BytesRecv,
			Valid:     true,
		}
	} else if err != nil {
		logger.Debug().Err(err).Msg("baseline: network counters")
	}

	// gopsutil returns partial results together with a warnings error.
	temps, err := psensors.TemperaturesWithContext(ctx)
	if err != nil && len(temps) == 0 {
		logger.Debug().Err(err).Msg("baseline: temperatures")
	}
	r.CPU.Temp = cpuTempFrom(temps)

	if b.fans != nil {
		r.Fans = b.fans()
	}

	return r
}

func collectDisks(ctx context.Context) []telemetry.Storage {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		logger.Debug().Err(err).Msg("baseline: partitions")
		return nil
	}

	var out []telemetry.Storage
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		if seen[p.Device] {
			continue
		}
		seen[p.Device] = true

		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil || usage.Total == 0 {
			continue
		}

		out = append(out, telemetry.Storage{
			Name:      p.Mountpoint,
			Health:    100,
			UsedSpace: float32(usage.UsedPercent),
		})
	}

	return out
}

// cpuTempFrom picks the package sensor when one is exposed, otherwise the
// hottest core reading.
func cpuTempFrom(temps []psensors.TemperatureStat) float32 {
	var pkg, hottest float64
	for _, t := range temps {
		key := strings.ToLower(t.SensorKey)
		if !isCPUSensorKey(key) {
			continue
		}
		if pkg == 0 && (strings.Contains(key, "package") || strings.Contains(key, "tctl") || strings.Contains(key, "tdie")) {
			pkg = t.Temperature
		}
		if t.Temperature > hottest {
			hottest = t.Temperature
		}
	}

	if pkg > 0 {
		return float32(pkg)
	}

	return float32(hottest)
}

func isCPUSensorKey(key string) bool {
	for _, k := range []string{"coretemp", "k10temp", "zenpower", "cpu", "package", "tctl", "tdie"} {
		if strings.Contains(key, k) {
			return true
		}
	}

	return false
}

// thermalZoneTempFrom returns the first firmware thermal zone reading.
func thermalZoneTempFrom(temps []psensors.TemperatureStat) float32 {
	for _, t := range temps {
		key := strings.ToLower(t.SensorKey)
		if (strings.Contains(key, "acpitz") || strings.Contains(key, "thermal_zone")) && t.Temperature > 0 {
			return float32(t.Temperature)
		}
	}

	return 0
}

// readNumber parses a sysfs style file holding a single number.
func readNumber(path string) (float64, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0, false
	}

	return v, true
}
