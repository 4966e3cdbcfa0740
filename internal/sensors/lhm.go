package sensors

import (
	"strings"

	"codeberg.org/mutker/hwtelemetry/internal/telemetry"
)

// LibreHardwareMonitor publishes its sensor tree over WMI in this namespace
// when it runs elevated or as a service.
const lhmNamespace = `root\LibreHardwareMonitor`

type lhmSensor struct {
	Identifier string
	SensorType string
	Value      float32
	Name       string
	Parent     string
}

type lhmHardware struct {
	Identifier   string
	Name         string
	HardwareType string
}

// parseLHM folds the flat sensor list into a Reading. Hardware entries give
// drives their model name.
func parseLHM(list []lhmSensor, hardware []lhmHardware) Reading {
	names := make(map[string]string, len(hardware))
	for _, h := range hardware {
		names[h.Identifier] = h.Name
	}

	var r Reading
	for _, s := range list {
		id := strings.ToLower(s.Identifier)
		name := strings.ToLower(s.Name)

		switch s.SensorType {
		case "Temperature":
			r.lhmTemperature(id, name, s.Value, s.Parent, names)
		case "Voltage":
			if isCPUID(id) && strings.Contains(name, "core") && r.CPU.Voltage == 0 {
				r.CPU.Voltage = s.Value
			} else if isGPUID(id) && r.GPU.Voltage == 0 {
				r.GPU.Voltage = s.Value
			}
		case "Power":
			if isCPUID(id) && (strings.Contains(name, "package") || r.CPU.Power == 0) {
				r.CPU.Power = s.Value
			}
		case "Load":
			if isGPUID(id) && (strings.Contains(name, "core") || strings.Contains(name, "d3d") || r.GPU.Load == 0) {
				r.GPU.Load = s.Value
			}
		case "Clock":
			switch {
			case isCPUID(id):
				r.CPU.Clock = max(r.CPU.Clock, s.Value)
			case isGPUID(id) && strings.Contains(name, "core"):
				r.GPU.CoreClock = s.Value
			case isGPUID(id) && strings.Contains(name, "memory"):
				r.GPU.MemClock = s.Value
			}
		case "Fan":
			if isGPUID(id) {
				r.GPU.FanRPM = s.Value
			} else {
				r.Fans = append(r.Fans, telemetry.Fan{Name: s.Name, RPM: s.Value})
			}
		case "SmallData", "Data":
			if isGPUID(id) && strings.Contains(name, "memory used") {
				r.GPU.VRAMUsedMB = s.Value
			}
		}
	}

	return r
}

func (r *Reading) lhmTemperature(id, name string, value float32, parent string, names map[string]string) {
	if value <= 0 || value >= 150 {
		return
	}

	switch {
	case isCPUID(id):
		if strings.Contains(name, "package") || strings.Contains(name, "tdie") || strings.Contains(name, "tctl") {
			r.CPU.Temp = value
		} else if r.CPU.Temp == 0 {
			r.CPU.Temp = value
		}
	case isGPUID(id):
		r.GPU.Temp = max(r.GPU.Temp, value)
	case isMoboID(id):
		if strings.Contains(name, "system") || strings.Contains(name, "motherboard") || r.Mobo.Temp == 0 {
			r.Mobo.Temp = value
		}
	case isStorageID(id):
		label, ok := names[parent]
		if !ok {
			label = parent
		}
		r.DriveTemps = append(r.DriveTemps, DriveTemp{Label: label, Temp: value})
	}
}

// Identifiers look like /intelcpu/0/temperature/0 or /nvme/1/temperature/0.

func isCPUID(id string) bool {
	return strings.Contains(id, "cpu")
}

func isGPUID(id string) bool {
	return strings.Contains(id, "gpu")
}

func isMoboID(id string) bool {
	return strings.Contains(id, "/lpc/") || strings.Contains(id, "/ec/") || strings.Contains(id, "/motherboard")
}

func isStorageID(id string) bool {
	return strings.Contains(id, "/nvme/") || strings.Contains(id, "/hdd/") || strings.Contains(id, "/ssd/")
}
