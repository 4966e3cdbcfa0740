// Package alerts classifies telemetry values against warning and critical
// thresholds and forwards the resulting events to notification sinks.
package alerts

import (
	"fmt"
	"strings"

	"codeberg.org/mutker/hwtelemetry/internal/errors"
	"codeberg.org/mutker/hwtelemetry/internal/telemetry"
)

type Level int

const (
	Normal Level = iota
	Warning
	Critical
)

func (l Level) String() string {
	switch l {
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return "normal"
	}
}

// ParseLevel accepts the names produced by Level.String.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return Normal, nil
	case "warning", "warn":
		return Warning, nil
	case "critical":
		return Critical, nil
	default:
		return Normal, errors.New().WithData(ErrInvalidLevel, s)
	}
}

// Event is one metric at or above its warning threshold.
type Event struct {
	Metric string
	Label  string
	Value  float32
	Unit   string
	Level  Level
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s = %.1f%s", strings.ToUpper(e.Level.String()), e.Label, e.Value, e.Unit)
}

// Thresholds holds a warning and critical value per metric family.
type Thresholds struct {
	CPUTempWarning       float32 `mapstructure:"cpu_temp_warning" validate:"gt=0,ltefield=CPUTempCritical"`
	CPUTempCritical      float32 `mapstructure:"cpu_temp_critical" validate:"gt=0"`
	CPUUsageWarning      float32 `mapstructure:"cpu_usage_warning" validate:"gt=0,ltefield=CPUUsageCritical"`
	CPUUsageCritical     float32 `mapstructure:"cpu_usage_critical" validate:"gt=0"`
	GPUTempWarning       float32 `mapstructure:"gpu_temp_warning" validate:"gt=0,ltefield=GPUTempCritical"`
	GPUTempCritical      float32 `mapstructure:"gpu_temp_critical" validate:"gt=0"`
	GPUUsageWarning      float32 `mapstructure:"gpu_usage_warning" validate:"gt=0,ltefield=GPUUsageCritical"`
	GPUUsageCritical     float32 `mapstructure:"gpu_usage_critical" validate:"gt=0"`
	RAMWarning           float32 `mapstructure:"ram_warning" validate:"gt=0,ltefield=RAMCritical"`
	RAMCritical          float32 `mapstructure:"ram_critical" validate:"gt=0"`
	StorageTempWarning   float32 `mapstructure:"storage_temp_warning" validate:"gt=0,ltefield=StorageTempCritical"`
	StorageTempCritical  float32 `mapstructure:"storage_temp_critical" validate:"gt=0"`
	StorageUsageWarning  float32 `mapstructure:"storage_usage_warning" validate:"gt=0,ltefield=StorageUsageCritical"`
	StorageUsageCritical float32 `mapstructure:"storage_usage_critical" validate:"gt=0"`
	PingWarning          float32 `mapstructure:"ping_warning" validate:"gt=0,ltefield=PingCritical"`
	PingCritical         float32 `mapstructure:"ping_critical" validate:"gt=0"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUTempWarning:       70,
		CPUTempCritical:      85,
		CPUUsageWarning:      70,
		CPUUsageCritical:     90,
		GPUTempWarning:       75,
		GPUTempCritical:      90,
		GPUUsageWarning:      80,
		GPUUsageCritical:     95,
		RAMWarning:           70,
		RAMCritical:          90,
		StorageTempWarning:   45,
		StorageTempCritical:  55,
		StorageUsageWarning:  80,
		StorageUsageCritical: 95,
		PingWarning:          50,
		PingCritical:         100,
	}
}

// LevelFor classifies value without the unavailable-sentinel check.
func LevelFor(value, warn, crit float32) Level {
	switch {
	case value >= crit:
		return Critical
	case value >= warn:
		return Warning
	default:
		return Normal
	}
}

// Evaluate returns the events for rec in a fixed order: CPU temperature and
// usage, GPU temperature and usage, RAM, ping, then temperature and usage of
// each storage entry. Values of zero or less mean the sensor was unavailable
// and never raise an event.
func Evaluate(rec telemetry.Record, th Thresholds) []Event {
	var events []Event

	check := func(metric, label string, value float32, unit string, warn, crit float32) {
		if value <= 0 {
			return
		}
		if level := LevelFor(value, warn, crit); level != Normal {
			events = append(events, Event{Metric: metric, Label: label, Value: value, Unit: unit, Level: level})
		}
	}

	check("cpu_temp", "CPU Temp", rec.CPU.Temp, "°C", th.CPUTempWarning, th.CPUTempCritical)
	check("cpu_usage", "CPU Usage", rec.CPU.Usage, "%", th.CPUUsageWarning, th.CPUUsageCritical)
	check("gpu_temp", "GPU Temp", rec.GPU.Temp, "°C", th.GPUTempWarning, th.GPUTempCritical)
	check("gpu_usage", "GPU Usage", rec.GPU.Load, "%", th.GPUUsageWarning, th.GPUUsageCritical)
	check("ram", "RAM", rec.RAM.Percent, "%", th.RAMWarning, th.RAMCritical)
	check("ping", "Ping", rec.Network.PingMs, "ms", th.PingWarning, th.PingCritical)

	for i, s := range rec.Storage {
		check(fmt.Sprintf("storage_%d_temp", i), s.Name+" Temp", s.Temp, "°C",
			th.StorageTempWarning, th.StorageTempCritical)
		check(fmt.Sprintf("storage_%d_usage", i), s.Name+" Usage", s.UsedSpace, "%",
			th.StorageUsageWarning, th.StorageUsageCritical)
	}

	return events
}
