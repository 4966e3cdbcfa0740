//go:build !windows

package sensors

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	"codeberg.org/mutker/hwtelemetry/internal/logger"
	"github.com/shirou/gopsutil/v4/cpu"
	psnet "github.com/shirou/gopsutil/v4/net"
	psensors "github.com/shirou/gopsutil/v4/sensors"
)

var sysClassNet = "/sys/class/net"

// OSSource answers clock, link and thermal zone queries from gopsutil and
// sysfs.
type OSSource struct{}

func NewOSSource() *OSSource {
	return &OSSource{}
}

func (*OSSource) QueryClock(ctx context.Context) float32 {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		logger.Debug().Err(err).Msg("cpu info")
		return 0
	}

	var mhz float64
	for _, info := range infos {
		mhz = max(mhz, info.Mhz)
	}

	return float32(mhz)
}

func (*OSSource) QueryLinkSpeed(ctx context.Context) (uint32, string) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		logger.Debug().Err(err).Msg("network interfaces")
		return 0, ""
	}

	var candidates []string
	for _, iface := range ifaces {
		if !slices.Contains(iface.Flags, "up") || slices.Contains(iface.Flags, "loopback") || len(iface.Addrs) == 0 {
			continue
		}
		candidates = append(candidates, iface.Name)
	}

	name, ok := pickInterface(candidates)
	if !ok {
		return 0, ""
	}

	speed, ok := readNumber(filepath.Join(sysClassNet, name, "speed"))
	if !ok || speed <= 0 {
		return 0, name
	}

	return uint32(speed), name
}

// pickInterface prefers wired interface names.
func pickInterface(names []string) (string, bool) {
	for _, prefix := range []string{"en", "eth"} {
		for _, n := range names {
			if strings.HasPrefix(n, prefix) {
				return n, true
			}
		}
	}
	if len(names) > 0 {
		return names[0], true
	}

	return "", false
}

func (*OSSource) QueryTemp(ctx context.Context) float32 {
	temps, err := psensors.TemperaturesWithContext(ctx)
	if err != nil && len(temps) == 0 {
		logger.Debug().Err(err).Msg("thermal zones")
		return 0
	}

	return thermalZoneTempFrom(temps)
}
