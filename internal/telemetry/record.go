// Package telemetry holds the hardware snapshot that travels from the
// collecting host to the display host.
//
// A zero value in any numeric field means the sensor was unavailable for that
// cycle. Nothing here clamps or validates; producers filter implausible
// readings before building a Record.
package telemetry

// The `toarray` tags make every struct encode as a positional CBOR array, so
// field order below is part of the wire format. Append new fields at the end
// and bump protocol.Version when changing existing ones.

type CPU struct {
	_ struct{} `cbor:",toarray"`

	Usage   float32 // percent
	Temp    float32 // °C
	Voltage float32 // V
	Power   float32 // W
	Clock   float32 // MHz
}

type GPU struct {
	_ struct{} `cbor:",toarray"`

	Load       float32 // percent
	Temp       float32 // °C
	Voltage    float32 // V
	CoreClock  float32 // MHz
	MemClock   float32 // MHz
	FanRPM     float32
	VRAMUsedMB float32
}

type Mobo struct {
	_ struct{} `cbor:",toarray"`

	Temp float32 // °C
}

type RAM struct {
	_ struct{} `cbor:",toarray"`

	Percent float32
	UsedGB  float32
	TotalGB float32
}

// Storage describes one drive or volume. The activity and rate fields are
// reserved and may be zero.
type Storage struct {
	_ struct{} `cbor:",toarray"`

	Name          string
	Temp          float32 // °C
	Health        float32 // percent
	UsedSpace     float32 // percent
	ReadActivity  float32
	WriteActivity float32
	TotalActivity float32
	ReadRate      float32
	WriteRate     float32
	DataReadGB    float32
	DataWrittenGB float32
}

type Fan struct {
	_ struct{} `cbor:",toarray"`

	Name string
	RPM  float32
}

type Network struct {
	_ struct{} `cbor:",toarray"`

	DownKBps      float32
	UpKBps        float32
	PingMs        float32
	LinkSpeedMbps uint32
	AdapterName   string
}

// Record is one complete snapshot produced per sender cycle. Storage and Fans
// are nil when no entries were found.
type Record struct {
	_ struct{} `cbor:",toarray"`

	CPU     CPU
	GPU     GPU
	Mobo    Mobo
	RAM     RAM
	Storage []Storage
	Fans    []Fan
	Network Network
}
