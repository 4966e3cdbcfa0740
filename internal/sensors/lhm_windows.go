//go:build windows

package sensors

import (
	"context"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/hwtelemetry/internal/logger"
)

const lhmQueryTimeout = 300 * time.Millisecond

// LHMSource reads LibreHardwareMonitor over WMI.
type LHMSource struct {
	available atomic.Bool
	busy      atomic.Bool
}

func NewLHMSource() *LHMSource {
	return &LHMSource{}
}

// Probe checks whether the LibreHardwareMonitor namespace answers with any
// hardware and caches the result for Available.
func (s *LHMSource) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	hw, err := queryWMI[lhmHardware](ctx, &s.busy, lhmNamespace, "SELECT Identifier, Name, HardwareType FROM Hardware")
	ok := err == nil && len(hw) > 0
	if err != nil {
		logger.Debug().Err(err).Msg("LibreHardwareMonitor not reachable")
	} else if ok {
		logger.Info().Int("hardware", len(hw)).Msg("LibreHardwareMonitor detected")
	}

	s.available.Store(ok)

	return ok
}

func (s *LHMSource) Available() bool {
	return s.available.Load()
}

func (s *LHMSource) Query(ctx context.Context) (Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, lhmQueryTimeout)
	defer cancel()

	hw, err := queryWMI[lhmHardware](ctx, &s.busy, lhmNamespace, "SELECT Identifier, Name, HardwareType FROM Hardware")
	if err != nil {
		logger.Debug().Err(err).Msg("LibreHardwareMonitor hardware query")
	}

	list, err := queryWMI[lhmSensor](ctx, &s.busy, lhmNamespace, "SELECT Identifier, SensorType, Value, Name, Parent FROM Sensor")
	if err != nil {
		return Reading{}, err
	}

	return parseLHM(list, hw), nil
}
