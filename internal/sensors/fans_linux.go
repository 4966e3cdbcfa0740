package sensors

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"codeberg.org/mutker/hwtelemetry/internal/telemetry"
)

var hwmonRoot = "/sys/class/hwmon"

// readFans lists every hwmon fan that is currently spinning.
func readFans() []telemetry.Fan {
	inputs, err := filepath.Glob(filepath.Join(hwmonRoot, "hwmon*", "fan*_input"))
	if err != nil {
		return nil
	}
	sort.Strings(inputs)

	var fans []telemetry.Fan
	for _, input := range inputs {
		rpm, ok := readNumber(input)
		if !ok || rpm <= 0 {
			continue
		}

		fans = append(fans, telemetry.Fan{Name: fanLabel(input), RPM: float32(rpm)})
	}

	return fans
}

func fanLabel(input string) string {
	dir := filepath.Dir(input)
	base := strings.TrimSuffix(filepath.Base(input), "_input")

	if label, err := os.ReadFile(filepath.Join(dir, base+"_label")); err == nil {
		if s := strings.TrimSpace(string(label)); s != "" {
			return s
		}
	}

	chip := filepath.Base(dir)
	if name, err := os.ReadFile(filepath.Join(dir, "name")); err == nil {
		chip = strings.TrimSpace(string(name))
	}

	return chip + " " + base
}
