// internal/driver/newport/n1830c_test.go
package newport

import (
	"bytes"
	"context"
	"strconv"
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
		m.buf = append(m.buf, queued[0]+"\r\n"...)
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

func (m *mockBus) SetTimeout(d time.Duration)          { m.timeout = d }
func (m *mockBus) Timeout() time.Duration              { return m.timeout }
func (m *mockBus) ConnectionType() model.ConnectionType { return model.ConnectionTypeSerial }
func (m *mockBus) Ping(ctx context.Context) error      { return nil }

func testInstrument(instrumentModel string) *model.Instrument {
	return &model.Instrument{
		InstrumentID:     "pm-test",
		InstrumentType:   model.InstrumentTypePowerMeter,
		Brand:            model.BrandNewport,
		Model:            instrumentModel,
		ConnectionType:   model.ConnectionTypeSerial,
		ConnectionConfig: model.JSONObject{},
	}
}

func new1830C(t *testing.T, b *mockBus) *N1830CDriver {
	t.Helper()
	d, err := New1830CDriver(testInstrument("1830-C"), b, zap.NewNop())
	if err != nil {
		t.Fatalf("New1830CDriver: %v", err)
	}
	return d.(*N1830CDriver)
}

func TestN1830CRangeRoundTrip(t *testing.T) {
	b := newMockBus()
	d := new1830C(t, b)
	ctx := context.Background()

	if err := d.SetRange(ctx, 3); err != nil {
		t.Fatalf("SetRange: %v", err)
	}
	if got := b.writes[len(b.writes)-1]; got != "R3" {
		t.Errorf("last write = %q, want %q", got, "R3")
	}

	b.reply("R?", "3")
	n, err := d.GetRange(ctx)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if n != 3 {
		t.Errorf("range = %d, want 3", n)
	}
}

func TestN1830CRangeValidation(t *testing.T) {
	b := newMockBus()
	d := new1830C(t, b)

	for _, n := range []int{-1, 9} {
		err := d.SetRange(context.Background(), n)
		if !driver.IsInvalidArgument(err) {
			t.Errorf("SetRange(%d) err = %v, want invalid argument", n, err)
		}
	}
	if len(b.writes) != 0 {
		t.Errorf("writes = %v, want none on rejected input", b.writes)
	}
}

func TestN1830CUnits(t *testing.T) {
	b := newMockBus()
	d := new1830C(t, b)
	ctx := context.Background()

	if err := d.SetUnits(ctx, "dBm"); err != nil {
		t.Fatalf("SetUnits: %v", err)
	}
	if got := b.writes[len(b.writes)-1]; got != "U2" {
		t.Errorf("last write = %q, want %q", got, "U2")
	}

	b.reply("U?", "2")
	units, err := d.GetUnits(ctx)
	if err != nil {
		t.Fatalf("GetUnits: %v", err)
	}
	if units != driver.PowerUnitsDBM {
		t.Errorf("units = %q, want %q", units, driver.PowerUnitsDBM)
	}
}

func TestN1830CUnitsValidation(t *testing.T) {
	b := newMockBus()
	d := new1830C(t, b)

	err := d.SetUnits(context.Background(), "furlongs")
	if !driver.IsInvalidArgument(err) {
		t.Fatalf("err = %v, want invalid argument", err)
	}
	if len(b.writes) != 0 {
		t.Errorf("writes = %v, want none on rejected input", b.writes)
	}
}

func TestN1830CPowerInWattsMode(t *testing.T) {
	b := newMockBus()
	d := new1830C(t, b)

	b.reply("U?", "1")
	b.reply("D?", "1.5e-03")

	power, err := d.Power(context.Background())
	if err != nil {
		t.Fatalf("Power: %v", err)
	}
	if power.Value != 1.5e-03 || power.Unit != "W" {
		t.Errorf("power = %+v", power)
	}

	// Already in watts mode: no mode switch commands.
	want := []string{"U?", "D?"}
	if len(b.writes) != len(want) {
		t.Fatalf("writes = %v, want %v", b.writes, want)
	}
	for i := range want {
		if b.writes[i] != want[i] {
			t.Errorf("writes[%d] = %q, want %q", i, b.writes[i], want[i])
		}
	}
}

func TestN1830CPowerRestoresUnits(t *testing.T) {
	b := newMockBus()
	d := new1830C(t, b)

	b.reply("U?", "2")
	b.reply("D?", "2.5e-06")

	power, err := d.Power(context.Background())
	if err != nil {
		t.Fatalf("Power: %v", err)
	}
	if power.Value != 2.5e-06 || power.Unit != "W" {
		t.Errorf("power = %+v", power)
	}

	want := []string{"U?", "U1", "D?", "U2"}
	if len(b.writes) != len(want) {
		t.Fatalf("writes = %v, want %v", b.writes, want)
	}
	for i := range want {
		if b.writes[i] != want[i] {
			t.Errorf("writes[%d] = %q, want %q", i, b.writes[i], want[i])
		}
	}
}

func TestN1830CMeasurementValidity(t *testing.T) {
	d := new1830C(t, newMockBus())
	ctx := context.Background()

	// Saturated (4), out-of-range (8) and busy (32) each invalidate the
	// reading; every other bit is ignored.
	for reg := 0; reg < 256; reg++ {
		b := newMockBus()
		d.meterBase.bus = b
		b.reply("Q?", strconv.Itoa(reg))

		valid, err := d.IsMeasurementValid(ctx)
		if err != nil {
			t.Fatalf("IsMeasurementValid(%d): %v", reg, err)
		}
		wantValid := reg&(statusSaturated|statusOutOfRange|statusBusy) == 0
		if valid != wantValid {
			t.Errorf("reg %08b: valid = %v, want %v", reg, valid, wantValid)
		}
	}
}

func TestN1830CHoldIsInverted(t *testing.T) {
	b := newMockBus()
	d := new1830C(t, b)
	ctx := context.Background()

	if err := d.EnableHold(ctx, true); err != nil {
		t.Fatalf("EnableHold: %v", err)
	}
	if err := d.DisableHold(ctx); err != nil {
		t.Fatalf("DisableHold: %v", err)
	}
	if b.writes[0] != "G0" || b.writes[1] != "G1" {
		t.Errorf("writes = %v, want [G0 G1]", b.writes)
	}

	b.reply("G?", "0")
	held, err := d.HoldEnabled(ctx)
	if err != nil {
		t.Fatalf("HoldEnabled: %v", err)
	}
	if !held {
		t.Error("held = false, want true for G? reply 0")
	}
}

func TestN1830CPing(t *testing.T) {
	b := newMockBus()
	d := new1830C(t, b)
	d.isConnected = true
	ctx := context.Background()

	b.reply("Z?", "0")
	if err := d.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	b.reply("Z?", "7")
	err := d.Ping(ctx)
	if driver.KindOf(err) != driver.KindProtocol {
		t.Fatalf("err = %v, want protocol error", err)
	}
}

func TestN1830CStatusByteIsReadOnly(t *testing.T) {
	b := newMockBus()
	d := new1830C(t, b)

	err := d.statusByte.set(context.Background(), b, 1)
	if driver.KindOf(err) != driver.KindUnsupported {
		t.Fatalf("err = %v, want unsupported", err)
	}
	if len(b.writes) != 0 {
		t.Errorf("writes = %v, want none on read-only facet", b.writes)
	}
}
