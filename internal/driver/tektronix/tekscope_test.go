// internal/driver/tektronix/tekscope_test.go
package tektronix

import (
	"bytes"
	"context"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/model"
	"instrument-service/pkg/driver"
)

// mockBus is a scripted instrument endpoint. Each written command consumes
// the next queued reply for that command; reads drain the reply buffer.
type mockBus struct {
	open    bool
	writes  []string
	replies map[string][]string
	raw     map[string][]byte
	buf     []byte
	timeout time.Duration
}

func newMockBus() *mockBus {
	return &mockBus{
		open:    true,
		replies: make(map[string][]string),
		raw:     make(map[string][]byte),
		timeout: 100 * time.Millisecond,
	}
}

func (m *mockBus) reply(cmd, line string) {
	m.replies[cmd] = append(m.replies[cmd], line)
}

func (m *mockBus) Open(ctx context.Context) error { m.open = true; return nil }
func (m *mockBus) Close() error                   { m.open = false; return nil }
func (m *mockBus) IsOpen() bool                   { return m.open }

func (m *mockBus) WriteString(ctx context.Context, cmd string) error {
	m.writes = append(m.writes, cmd)
	if queued := m.replies[cmd]; len(queued) > 0 {
		m.buf = append(m.buf, queued[0]+"\n"...)
		m.replies[cmd] = queued[1:]
	}
	if block, ok := m.raw[cmd]; ok {
		m.buf = append(m.buf, block...)
	}
	return nil
}

func (m *mockBus) ReadLine(ctx context.Context) (string, error) {
	i := bytes.IndexByte(m.buf, '\n')
	if i < 0 {
		return "", driver.Errorf(driver.KindTimeout, "mock.read", "no reply queued")
	}
	line := string(bytes.TrimRight(m.buf[:i], "\r"))
	m.buf = m.buf[i+1:]
	return line, nil
}

func (m *mockBus) ReadBytes(ctx context.Context, n int) ([]byte, error) {
	if len(m.buf) < n {
		return nil, driver.Errorf(driver.KindTimeout, "mock.read", "no reply queued")
	}
	out := make([]byte, n)
	copy(out, m.buf)
	m.buf = m.buf[n:]
	return out, nil
}

func (m *mockBus) ReadRaw(ctx context.Context) ([]byte, error) {
	if len(m.buf) == 0 {
		return nil, driver.Errorf(driver.KindTimeout, "mock.read", "no reply queued")
	}
	out := m.buf
	m.buf = nil
	return out, nil
}

func (m *mockBus) SetTimeout(d time.Duration)           { m.timeout = d }
func (m *mockBus) Timeout() time.Duration               { return m.timeout }
func (m *mockBus) ConnectionType() model.ConnectionType { return model.ConnectionTypeTCP }
func (m *mockBus) Ping(ctx context.Context) error       { return nil }

func scopeInstrument() *model.Instrument {
	return &model.Instrument{
		InstrumentID:     "scope-test",
		InstrumentType:   model.InstrumentTypeOscilloscope,
		Brand:            model.BrandTektronix,
		Model:            "TDS3000",
		ConnectionType:   model.ConnectionTypeTCP,
		ConnectionConfig: model.JSONObject{},
	}
}

func TestAutoDetectIdentifiesSeries(t *testing.T) {
	cases := []struct {
		idn        string
		wantSeries string
		wantToken  string
	}{
		{"TEKTRONIX,TDS 3032,0,CF:91.1CT FV:v3.00", "TDS 3000", "ON"},
		{"TEKTRONIX,TDS 3034B,0,CF:91.1CT FV:v3.41", "TDS 3000", "ON"},
		{"TEKTRONIX,MSO4034,C000001,CF:91.1CT FV:v2.03", "MSO/DPO 4000", "ALL"},
		{"TEKTRONIX,DPO4034,C000002,CF:91.1CT FV:v2.03", "MSO/DPO 4000", "ALL"},
	}

	for _, tc := range cases {
		b := newMockBus()
		b.reply("*IDN?", tc.idn)

		d, err := NewAutoDetectDriver(scopeInstrument(), b, zap.NewNop())
		if err != nil {
			t.Fatalf("NewAutoDetectDriver: %v", err)
		}
		scope := d.(*TekScope)

		if err := scope.Connect(context.Background()); err != nil {
			t.Fatalf("Connect(%q): %v", tc.idn, err)
		}
		if scope.series != tc.wantSeries {
			t.Errorf("series = %q, want %q", scope.series, tc.wantSeries)
		}
		if scope.statsOnToken != tc.wantToken {
			t.Errorf("statsOnToken = %q, want %q", scope.statsOnToken, tc.wantToken)
		}
	}
}

func TestConnectRejectsForeignInstrument(t *testing.T) {
	b := newMockBus()
	b.reply("*IDN?", "KEYSIGHT,DSOX1204A,CN0001,02.11")

	d, err := NewAutoDetectDriver(scopeInstrument(), b, zap.NewNop())
	if err != nil {
		t.Fatalf("NewAutoDetectDriver: %v", err)
	}

	err = d.Connect(context.Background())
	if driver.KindOf(err) != driver.KindProtocol {
		t.Fatalf("err = %v, want protocol error", err)
	}
	if d.IsConnected() {
		t.Error("driver reports connected after failed identification")
	}
}

func TestGetDataScalesWaveform(t *testing.T) {
	b := newMockBus()
	d, err := NewTDS3000Driver(scopeInstrument(), b, zap.NewNop())
	if err != nil {
		t.Fatalf("NewTDS3000Driver: %v", err)
	}
	scope := d.(*TekScope)

	b.reply("wfmpre:nr_pt?", "4")
	b.raw["curve?"] = []byte{'#', '1', '8',
		0x00, 0x0A, // 10
		0x00, 0x14, // 20
		0x00, 0x1E, // 30
		0x00, 0x28, // 40
		'\n'}
	b.reply("wfmpre:xincr?", "1e-06")
	b.reply("wfmpre:ymult?", "0.01")
	b.reply("wfmpre:xzero?", "-2e-06")
	b.reply("wfmpre:yzero?", "0")
	b.reply("wfmpre:pt_off?", "1")
	b.reply("wfmpre:yoff?", "5")
	b.reply("wfmpre:xunit?", `"s"`)
	b.reply("wfmpre:yunit?", `"V"`)

	wf, err := scope.GetData(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}

	if wf.Len() != 4 || len(wf.X) != 4 {
		t.Fatalf("lengths: x=%d y=%d, want 4", len(wf.X), len(wf.Y))
	}
	if wf.XUnit != "s" || wf.YUnit != "V" {
		t.Errorf("units = %q/%q, want s/V", wf.XUnit, wf.YUnit)
	}

	// x[i] = xzero + (i+1 - pt_off)*xincr; y[i] = yzero + (raw - yoff)*ymult
	wantX := []float64{-2e-06, -1e-06, 0, 1e-06}
	wantY := []float64{0.05, 0.15, 0.25, 0.35}
	for i := range wantX {
		if math.Abs(wf.X[i]-wantX[i]) > 1e-12 {
			t.Errorf("x[%d] = %g, want %g", i, wf.X[i], wantX[i])
		}
		if math.Abs(wf.Y[i]-wantY[i]) > 1e-12 {
			t.Errorf("y[%d] = %g, want %g", i, wf.Y[i], wantY[i])
		}
	}

	// Transfer setup must select the source and pin the window.
	wantWrites := []string{
		"data:source ch1",
		"wfmpre:nr_pt?",
		"data:width 2",
		"data:encdg RIBinary",
		"data:start 1",
		"data:stop 10000",
		"curve?",
	}
	for i, want := range wantWrites {
		if b.writes[i] != want {
			t.Errorf("writes[%d] = %q, want %q", i, b.writes[i], want)
		}
	}
}

func TestGetDataChannelValidation(t *testing.T) {
	b := newMockBus()
	d, _ := NewTDS3000Driver(scopeInstrument(), b, zap.NewNop())
	scope := d.(*TekScope)

	for _, ch := range []int{0, 5} {
		_, err := scope.GetData(context.Background(), ch)
		if !driver.IsInvalidArgument(err) {
			t.Errorf("GetData(%d) err = %v, want invalid argument", ch, err)
		}
	}
	if len(b.writes) != 0 {
		t.Errorf("writes = %v, want none on rejected channel", b.writes)
	}
}

func TestSetMeasurementParams(t *testing.T) {
	b := newMockBus()
	d, _ := NewTDS3000Driver(scopeInstrument(), b, zap.NewNop())
	scope := d.(*TekScope)
	ctx := context.Background()

	if err := scope.SetMeasurementParams(ctx, 2, "pk2pk", 3); err != nil {
		t.Fatalf("SetMeasurementParams: %v", err)
	}
	want := "measurement:meas2:type pk2pk;source ch3"
	if b.writes[0] != want {
		t.Errorf("write = %q, want %q", b.writes[0], want)
	}

	if err := scope.SetMeasurementParams(ctx, 5, "pk2pk", 1); !driver.IsInvalidArgument(err) {
		t.Errorf("slot 5 err = %v, want invalid argument", err)
	}
	if err := scope.SetMeasurementParams(ctx, 1, "", 1); !driver.IsInvalidArgument(err) {
		t.Errorf("empty type err = %v, want invalid argument", err)
	}
}

func TestReadMeasurementValue(t *testing.T) {
	b := newMockBus()
	d, _ := NewTDS3000Driver(scopeInstrument(), b, zap.NewNop())
	scope := d.(*TekScope)

	b.reply("measurement:meas1:value?;units?", `9.98e-3;"V"`)
	value, err := scope.ReadMeasurementValue(context.Background(), 1)
	if err != nil {
		t.Fatalf("ReadMeasurementValue: %v", err)
	}
	if value.Value != 9.98e-3 || value.Unit != "V" {
		t.Errorf("value = %+v", value)
	}
}

func TestReadMeasurementStatsRequiresStatsMode(t *testing.T) {
	b := newMockBus()
	d, _ := NewTDS3000Driver(scopeInstrument(), b, zap.NewNop())
	scope := d.(*TekScope)

	b.reply("measu:statistics:mode?", "OFF")
	_, err := scope.ReadMeasurementStats(context.Background(), 1)
	if driver.KindOf(err) != driver.KindPrecondition {
		t.Fatalf("err = %v, want precondition", err)
	}

	// The combined stats query must never go out when the mode is off.
	for _, w := range b.writes {
		if w == "measurement:meas1:value?;mean?;stddev?;minimum?;maximum?;units?" {
			t.Error("stats query sent despite statistics mode being off")
		}
	}
}

func TestReadMeasurementStats(t *testing.T) {
	b := newMockBus()
	d, _ := NewTDS3000Driver(scopeInstrument(), b, zap.NewNop())
	scope := d.(*TekScope)

	b.reply("measu:statistics:mode?", "ON")
	b.reply("measurement:meas3:value?;mean?;stddev?;minimum?;maximum?;units?",
		`1.0;1.1;0.05;0.9;1.3;"V"`)
	b.reply("measurement:statistics:weighting?", "32")

	stats, err := scope.ReadMeasurementStats(context.Background(), 3)
	if err != nil {
		t.Fatalf("ReadMeasurementStats: %v", err)
	}

	if stats.Value.Value != 1.0 || stats.Mean.Value != 1.1 || stats.StdDev.Value != 0.05 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Minimum.Value != 0.9 || stats.Maximum.Value != 1.3 {
		t.Errorf("min/max = %+v/%+v", stats.Minimum, stats.Maximum)
	}
	if stats.NSamps != 32 {
		t.Errorf("nsamps = %d, want 32", stats.NSamps)
	}
	for _, q := range []model.Quantity{stats.Value, stats.Mean, stats.StdDev, stats.Minimum, stats.Maximum} {
		if q.Unit != "V" {
			t.Errorf("unit = %q, want V", q.Unit)
		}
	}
}

func TestEnableMeasurementStatsToken(t *testing.T) {
	ctx := context.Background()

	tds := newMockBus()
	d1, _ := NewTDS3000Driver(scopeInstrument(), tds, zap.NewNop())
	if err := d1.(*TekScope).EnableMeasurementStats(ctx, true); err != nil {
		t.Fatalf("EnableMeasurementStats: %v", err)
	}
	if tds.writes[0] != "measu:statistics:mode ON" {
		t.Errorf("TDS write = %q", tds.writes[0])
	}

	mso := newMockBus()
	d2, _ := NewMSODPO4000Driver(scopeInstrument(), mso, zap.NewNop())
	if err := d2.(*TekScope).EnableMeasurementStats(ctx, true); err != nil {
		t.Fatalf("EnableMeasurementStats: %v", err)
	}
	if mso.writes[0] != "measu:statistics:mode ALL" {
		t.Errorf("MSO write = %q", mso.writes[0])
	}

	if err := d1.(*TekScope).EnableMeasurementStats(ctx, false); err != nil {
		t.Fatalf("EnableMeasurementStats(off): %v", err)
	}
	if tds.writes[1] != "measu:statistics:mode OFF" {
		t.Errorf("off write = %q", tds.writes[1])
	}
}

func TestAcquireStateControl(t *testing.T) {
	b := newMockBus()
	d, _ := NewTDS3000Driver(scopeInstrument(), b, zap.NewNop())
	scope := d.(*TekScope)
	ctx := context.Background()

	if err := scope.RunAcquire(ctx); err != nil {
		t.Fatalf("RunAcquire: %v", err)
	}
	if err := scope.StopAcquire(ctx); err != nil {
		t.Fatalf("StopAcquire: %v", err)
	}
	if b.writes[0] != "acquire:state run" || b.writes[1] != "acquire:state stop" {
		t.Errorf("writes = %v", b.writes)
	}
}

func TestSetMeasurementNsamps(t *testing.T) {
	b := newMockBus()
	d, _ := NewTDS3000Driver(scopeInstrument(), b, zap.NewNop())
	scope := d.(*TekScope)
	ctx := context.Background()

	if err := scope.SetMeasurementNsamps(ctx, 0); !driver.IsInvalidArgument(err) {
		t.Errorf("err = %v, want invalid argument", err)
	}
	if err := scope.SetMeasurementNsamps(ctx, 64); err != nil {
		t.Fatalf("SetMeasurementNsamps: %v", err)
	}
	if b.writes[0] != "measu:stati:weighting 64" {
		t.Errorf("write = %q", b.writes[0])
	}
}
