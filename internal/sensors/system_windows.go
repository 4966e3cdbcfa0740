//go:build windows

package sensors

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/hwtelemetry/internal/logger"
)

const osQueryTimeout = 300 * time.Millisecond

type win32Processor struct {
	CurrentClockSpeed uint32
	MaxClockSpeed     uint32
}

type win32NetworkAdapter struct {
	Name            string
	NetConnectionID string
	Speed           uint64
}

type acpiThermalZone struct {
	CurrentTemperature uint32
}

// OSSource answers the standard WMI classes that every Windows install has.
type OSSource struct {
	clockBusy   atomic.Bool
	linkBusy    atomic.Bool
	thermalBusy atomic.Bool
}

func NewOSSource() *OSSource {
	return &OSSource{}
}

func (s *OSSource) QueryClock(ctx context.Context) float32 {
	ctx, cancel := context.WithTimeout(ctx, osQueryTimeout)
	defer cancel()

	rows, err := queryWMI[win32Processor](ctx, &s.clockBusy, "", "SELECT CurrentClockSpeed, MaxClockSpeed FROM Win32_Processor")
	if err != nil {
		logger.Debug().Err(err).Msg("Win32_Processor query")
		return 0
	}

	var mhz uint32
	for _, p := range rows {
		mhz = max(mhz, p.CurrentClockSpeed)
	}

	return float32(mhz)
}

func (s *OSSource) QueryLinkSpeed(ctx context.Context) (uint32, string) {
	ctx, cancel := context.WithTimeout(ctx, osQueryTimeout)
	defer cancel()

	rows, err := queryWMI[win32NetworkAdapter](ctx, &s.linkBusy, "",
		"SELECT Name, NetConnectionID, Speed FROM Win32_NetworkAdapter WHERE NetConnectionStatus = 2 AND PhysicalAdapter = TRUE")
	if err != nil {
		logger.Debug().Err(err).Msg("Win32_NetworkAdapter query")
		return 0, ""
	}

	adapter, ok := pickAdapter(rows)
	if !ok {
		return 0, ""
	}

	name := adapter.NetConnectionID
	if name == "" {
		name = adapter.Name
	}

	return uint32(adapter.Speed / 1_000_000), name
}

// pickAdapter prefers wired connections, then anything connected.
func pickAdapter(rows []win32NetworkAdapter) (win32NetworkAdapter, bool) {
	for _, want := range []string{"ethernet", "lan"} {
		for _, a := range rows {
			if strings.Contains(strings.ToLower(a.NetConnectionID+" "+a.Name), want) && a.Speed > 0 {
				return a, true
			}
		}
	}
	for _, a := range rows {
		if a.Speed > 0 {
			return a, true
		}
	}

	return win32NetworkAdapter{}, false
}

// QueryTemp reads the ACPI thermal zone, reported in tenths of a kelvin.
func (s *OSSource) QueryTemp(ctx context.Context) float32 {
	ctx, cancel := context.WithTimeout(ctx, osQueryTimeout)
	defer cancel()

	rows, err := queryWMI[acpiThermalZone](ctx, &s.thermalBusy, `root\WMI`, "SELECT CurrentTemperature FROM MSAcpi_ThermalZoneTemperature")
	if err != nil {
		logger.Debug().Err(err).Msg("MSAcpi_ThermalZoneTemperature query")
		return 0
	}

	for _, z := range rows {
		if c := deciKelvinToCelsius(z.CurrentTemperature); c > 0 {
			return c
		}
	}

	return 0
}
