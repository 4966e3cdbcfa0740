package fusion

import (
	"context"
	"fmt"
	"testing"
	"time"

	"codeberg.org/mutker/hwtelemetry/internal/sensors"
	"codeberg.org/mutker/hwtelemetry/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBaseline struct {
	reading sensors.Reading
	calls   int
}

func (f *fakeBaseline) Collect(context.Context) sensors.Reading {
	f.calls++
	return f.reading
}

type fakeRich struct {
	available bool
	reading   sensors.Reading
	err       error
	calls     int
}

func (f *fakeRich) Available() bool { return f.available }

func (f *fakeRich) Query(context.Context) (sensors.Reading, error) {
	f.calls++
	return f.reading, f.err
}

type fakeGPU struct {
	gpu   telemetry.GPU
	calls int
	index int
}

func (f *fakeGPU) Query(_ context.Context, index int) telemetry.GPU {
	f.calls++
	f.index = index
	return f.gpu
}

type fakeSystem struct {
	clock      float32
	link       uint32
	adapter    string
	clockCalls int
}

func (f *fakeSystem) QueryClock(context.Context) float32 {
	f.clockCalls++
	return f.clock
}

func (f *fakeSystem) QueryLinkSpeed(context.Context) (uint32, string) {
	return f.link, f.adapter
}

type fakeThermal struct {
	temp  float32
	calls int
}

func (f *fakeThermal) QueryTemp(context.Context) float32 {
	f.calls++
	return f.temp
}

type fakePinger float32

func (f fakePinger) Ping(context.Context) float32 { return float32(f) }

func TestTier2WinsOverBaseline(t *testing.T) {
	base := &fakeBaseline{reading: sensors.Reading{CPU: telemetry.CPU{Temp: 60}}}
	rich := &fakeRich{available: true, reading: sensors.Reading{CPU: telemetry.CPU{Temp: 75}}}

	rec := New(Sources{Baseline: base, Rich: rich}).Collect(context.Background())
	assert.InDelta(t, 75, rec.CPU.Temp, 0.001)
}

func TestBaselineOnly(t *testing.T) {
	base := &fakeBaseline{reading: sensors.Reading{
		CPU: telemetry.CPU{Usage: 12, Temp: 60},
		RAM: telemetry.RAM{Percent: 40, UsedGB: 6.4, TotalGB: 16},
	}}

	rec := New(Sources{Baseline: base}).Collect(context.Background())
	assert.InDelta(t, 60, rec.CPU.Temp, 0.001)
	assert.InDelta(t, 12, rec.CPU.Usage, 0.001)
	assert.Equal(t, telemetry.RAM{Percent: 40, UsedGB: 6.4, TotalGB: 16}, rec.RAM)
	assert.Equal(t, telemetry.GPU{}, rec.GPU)
	assert.Nil(t, rec.Storage)
	assert.Nil(t, rec.Fans)
}

func TestNoSourcesYieldsZeroRecord(t *testing.T) {
	rec := New(Sources{}).Collect(context.Background())
	assert.Equal(t, telemetry.Record{}, rec)
}

func TestZeroRichFieldFallsThrough(t *testing.T) {
	base := &fakeBaseline{reading: sensors.Reading{CPU: telemetry.CPU{Usage: 33, Temp: 58}}}
	rich := &fakeRich{available: true, reading: sensors.Reading{CPU: telemetry.CPU{Voltage: 1.2, Power: 70}}}

	rec := New(Sources{Baseline: base, Rich: rich}).Collect(context.Background())
	assert.Equal(t, telemetry.CPU{Usage: 33, Temp: 58, Voltage: 1.2, Power: 70}, rec.CPU)
}

func TestUnavailableRichIsNotQueried(t *testing.T) {
	rich := &fakeRich{available: false, reading: sensors.Reading{CPU: telemetry.CPU{Temp: 75}}}

	rec := New(Sources{Rich: rich}).Collect(context.Background())
	assert.Zero(t, rich.calls)
	assert.Zero(t, rec.CPU.Temp)
}

func TestRichFailureContributesNothing(t *testing.T) {
	base := &fakeBaseline{reading: sensors.Reading{CPU: telemetry.CPU{Temp: 60}}}
	rich := &fakeRich{
		available: true,
		reading:   sensors.Reading{CPU: telemetry.CPU{Temp: 75}},
		err:       fmt.Errorf("wmi timeout"),
	}
	e := New(Sources{Baseline: base, Rich: rich})

	rec := e.Collect(context.Background())
	assert.InDelta(t, 60, rec.CPU.Temp, 0.001)
	assert.True(t, e.richFailing)

	rich.err = nil
	rec = e.Collect(context.Background())
	assert.InDelta(t, 75, rec.CPU.Temp, 0.001)
	assert.False(t, e.richFailing)
}

func TestGPUVendorOnlyWithoutRichGPU(t *testing.T) {
	vendor := &fakeGPU{gpu: telemetry.GPU{Load: 50, Temp: 70, CoreClock: 1800}}
	rich := &fakeRich{available: true, reading: sensors.Reading{GPU: telemetry.GPU{Load: 90, Temp: 65}}}

	rec := New(Sources{Rich: rich, GPU: vendor}).Collect(context.Background())
	assert.Zero(t, vendor.calls)
	assert.Equal(t, telemetry.GPU{Load: 90, Temp: 65}, rec.GPU)

	rich.reading = sensors.Reading{GPU: telemetry.GPU{Voltage: 0.9}}
	rec = New(Sources{Rich: rich, GPU: vendor}, WithGPUIndex(1)).Collect(context.Background())
	assert.Equal(t, 1, vendor.calls)
	assert.Equal(t, 1, vendor.index)
	assert.Equal(t, telemetry.GPU{Load: 50, Temp: 70, Voltage: 0.9, CoreClock: 1800}, rec.GPU)
}

func TestOSClockOnlyWhenUnset(t *testing.T) {
	sys := &fakeSystem{clock: 3600}
	rich := &fakeRich{available: true, reading: sensors.Reading{CPU: telemetry.CPU{Clock: 4700}}}

	rec := New(Sources{Rich: rich, System: sys}).Collect(context.Background())
	assert.InDelta(t, 4700, rec.CPU.Clock, 0.001)
	assert.Zero(t, sys.clockCalls)

	rec = New(Sources{System: sys}).Collect(context.Background())
	assert.InDelta(t, 3600, rec.CPU.Clock, 0.001)
	assert.Equal(t, 1, sys.clockCalls)
}

func TestOSClockBeatsBaseline(t *testing.T) {
	sys := &fakeSystem{clock: 3600}
	base := &fakeBaseline{reading: sensors.Reading{CPU: telemetry.CPU{Clock: 2100}}}

	rec := New(Sources{Baseline: base, System: sys}).Collect(context.Background())
	assert.InDelta(t, 3600, rec.CPU.Clock, 0.001)
}

func TestThermalFallbackOnlyWhenCPUTempMissing(t *testing.T) {
	thermal := &fakeThermal{temp: 41}
	base := &fakeBaseline{reading: sensors.Reading{CPU: telemetry.CPU{Temp: 55}}}

	rec := New(Sources{Baseline: base, Thermal: thermal}).Collect(context.Background())
	assert.InDelta(t, 55, rec.CPU.Temp, 0.001)
	assert.Zero(t, thermal.calls)

	rec = New(Sources{Thermal: thermal}).Collect(context.Background())
	assert.InDelta(t, 41, rec.CPU.Temp, 0.001)

	thermal.temp = 3000
	rec = New(Sources{Thermal: thermal}).Collect(context.Background())
	assert.Zero(t, rec.CPU.Temp)
}

func TestTemperatureValidityFilter(t *testing.T) {
	base := &fakeBaseline{reading: sensors.Reading{
		CPU:  telemetry.CPU{Temp: 62},
		Mobo: telemetry.Mobo{Temp: 31},
		Storage: []telemetry.Storage{
			{Name: "C:", Temp: 120},
		},
	}}
	rich := &fakeRich{available: true, reading: sensors.Reading{
		CPU:  telemetry.CPU{Temp: 150},
		GPU:  telemetry.GPU{Temp: -5, Load: 10},
		Mobo: telemetry.Mobo{Temp: 255},
	}}

	rec := New(Sources{Baseline: base, Rich: rich}).Collect(context.Background())
	assert.InDelta(t, 62, rec.CPU.Temp, 0.001)
	assert.Zero(t, rec.GPU.Temp)
	assert.InDelta(t, 10, rec.GPU.Load, 0.001)
	assert.InDelta(t, 31, rec.Mobo.Temp, 0.001)
	require.Len(t, rec.Storage, 1)
	assert.Zero(t, rec.Storage[0].Temp)
}

func TestRichListsReplaceBaseline(t *testing.T) {
	base := &fakeBaseline{reading: sensors.Reading{
		Storage: []telemetry.Storage{{Name: "C:", UsedSpace: 50}},
		Fans:    []telemetry.Fan{{Name: "fan1", RPM: 900}},
	}}
	rich := &fakeRich{available: true, reading: sensors.Reading{
		Fans: []telemetry.Fan{{Name: "CPU Fan", RPM: 1100}, {Name: "Rear", RPM: 800}},
	}}

	rec := New(Sources{Baseline: base, Rich: rich}).Collect(context.Background())
	assert.Equal(t, []telemetry.Fan{{Name: "CPU Fan", RPM: 1100}, {Name: "Rear", RPM: 800}}, rec.Fans)
	assert.Equal(t, []telemetry.Storage{{Name: "C:", UsedSpace: 50}}, rec.Storage)
}

func TestCollectDoesNotAliasSourceLists(t *testing.T) {
	base := &fakeBaseline{reading: sensors.Reading{
		Storage: []telemetry.Storage{{Name: "Samsung SSD"}},
	}}
	rich := &fakeRich{available: true, reading: sensors.Reading{
		DriveTemps: []sensors.DriveTemp{{Label: "samsung", Temp: 40}},
	}}

	rec := New(Sources{Baseline: base, Rich: rich}).Collect(context.Background())
	assert.InDelta(t, 40, rec.Storage[0].Temp, 0.001)
	assert.Zero(t, base.reading.Storage[0].Temp)
}

func TestApplyDriveTemps(t *testing.T) {
	tests := []struct {
		name    string
		storage []telemetry.Storage
		temps   []sensors.DriveTemp
		want    []float32
	}{
		{
			name:    "name match either direction",
			storage: []telemetry.Storage{{Name: "WDC WD40EFRX"}, {Name: "Samsung SSD 980 PRO 1TB"}},
			temps:   []sensors.DriveTemp{{Label: "samsung ssd 980", Temp: 41}, {Label: "WDC WD40EFRX-68N32N0", Temp: 33}},
			want:    []float32{33, 41},
		},
		{
			name:    "first unmatched slot fallback",
			storage: []telemetry.Storage{{Name: "C:"}, {Name: "D:"}},
			temps:   []sensors.DriveTemp{{Label: "Crucial MX500", Temp: 38}, {Label: "Seagate", Temp: 36}},
			want:    []float32{38, 36},
		},
		{
			name:    "already set entries are skipped",
			storage: []telemetry.Storage{{Name: "nvme", Temp: 45}, {Name: "sata"}},
			temps:   []sensors.DriveTemp{{Label: "nvme", Temp: 50}},
			want:    []float32{45, 50},
		},
		{
			name:    "surplus temperatures are dropped",
			storage: []telemetry.Storage{{Name: "C:"}},
			temps:   []sensors.DriveTemp{{Label: "a", Temp: 30}, {Label: "b", Temp: 31}},
			want:    []float32{30},
		},
		{
			name:    "empty names never match",
			storage: []telemetry.Storage{{Name: "disk0"}, {Name: ""}},
			temps:   []sensors.DriveTemp{{Label: "", Temp: 29}},
			want:    []float32{29, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applyDriveTemps(tt.storage, tt.temps)

			got := make([]float32, len(tt.storage))
			for i, s := range tt.storage {
				got[i] = s.Temp
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDriveTempsOutsideRangeAreDropped(t *testing.T) {
	base := &fakeBaseline{reading: sensors.Reading{
		Storage: []telemetry.Storage{{Name: "C:"}},
	}}
	rich := &fakeRich{available: true, reading: sensors.Reading{
		DriveTemps: []sensors.DriveTemp{{Label: "x", Temp: 100}, {Label: "y", Temp: 37}},
	}}

	rec := New(Sources{Baseline: base, Rich: rich}).Collect(context.Background())
	assert.InDelta(t, 37, rec.Storage[0].Temp, 0.001)
}

func TestNetworkRateDerivation(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	base := &fakeBaseline{reading: sensors.Reading{
		Counters: sensors.NetCounters{BytesSent: 1000, BytesRecv: 2000, Valid: true},
	}}
	e := New(Sources{Baseline: base}, WithClock(func() time.Time { return now }))

	rec := e.Collect(context.Background())
	assert.Zero(t, rec.Network.DownKBps)
	assert.Zero(t, rec.Network.UpKBps)

	now = start.Add(time.Second)
	base.reading.Counters = sensors.NetCounters{BytesSent: 3000, BytesRecv: 5000, Valid: true}
	rec = e.Collect(context.Background())
	assert.InDelta(t, 3000.0/1024, rec.Network.DownKBps, 1e-5)
	assert.InDelta(t, 2000.0/1024, rec.Network.UpKBps, 1e-5)
}

func TestRateTracker(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var rt rateTracker

	down, up := rt.update(sensors.NetCounters{BytesSent: 10_000, BytesRecv: 10_000, Valid: true}, t0)
	assert.Zero(t, down)
	assert.Zero(t, up)

	// Counter reset saturates at zero.
	down, up = rt.update(sensors.NetCounters{BytesSent: 500, BytesRecv: 20_240, Valid: true}, t0.Add(2*time.Second))
	assert.InDelta(t, 5, down, 1e-5)
	assert.Zero(t, up)

	// Clock not advancing yields zero.
	down, up = rt.update(sensors.NetCounters{BytesSent: 9000, BytesRecv: 30_000, Valid: true}, t0.Add(2*time.Second))
	assert.Zero(t, down)
	assert.Zero(t, up)

	// Missing counters leave the previous observation in place.
	down, up = rt.update(sensors.NetCounters{}, t0.Add(3*time.Second))
	assert.Zero(t, down)
	assert.Zero(t, up)

	down, up = rt.update(sensors.NetCounters{BytesSent: 10_024, BytesRecv: 30_000, Valid: true}, t0.Add(3*time.Second))
	assert.Zero(t, down)
	assert.InDelta(t, 1, up, 1e-5)
}

func TestPingAndLink(t *testing.T) {
	sys := &fakeSystem{link: 1000, adapter: "Ethernet"}

	rec := New(Sources{System: sys, Pinger: fakePinger(12.5)}).Collect(context.Background())
	assert.Equal(t, telemetry.Network{PingMs: 12.5, LinkSpeedMbps: 1000, AdapterName: "Ethernet"}, rec.Network)
}

func TestStorageNamesMatch(t *testing.T) {
	assert.True(t, storageNamesMatch("Samsung SSD 980", "SAMSUNG ssd"))
	assert.True(t, storageNamesMatch("nvme", "Generic NVMe drive"))
	assert.False(t, storageNamesMatch("C:", "Samsung"))
	assert.False(t, storageNamesMatch("", "Samsung"))
	assert.False(t, storageNamesMatch("C:", "  "))
}
