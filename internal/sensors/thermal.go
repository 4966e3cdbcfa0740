package sensors

// deciKelvinToCelsius converts ACPI thermal zone readings.
func deciKelvinToCelsius(v uint32) float32 {
	if v == 0 {
		return 0
	}

	return float32(v)/10 - 273.15
}
