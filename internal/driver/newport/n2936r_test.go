// internal/driver/newport/n2936r_test.go
package newport

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"instrument-service/pkg/driver"
)

func new2936R(t *testing.T, b *mockBus) *N2936RDriver {
	t.Helper()
	d, err := New2936RDriver(testInstrument("2936-R"), b, zap.NewNop())
	if err != nil {
		t.Fatalf("New2936RDriver: %v", err)
	}
	meter := d.(*N2936RDriver)
	// Keep the inter-command settle short under test.
	meter.delay = time.Millisecond
	return meter
}

func TestN2936RChannelValidation(t *testing.T) {
	b := newMockBus()
	d := new2936R(t, b)
	ctx := context.Background()

	for _, ch := range []int{0, 3, -1} {
		if err := d.SetChannel(ch); !driver.IsInvalidArgument(err) {
			t.Errorf("SetChannel(%d) err = %v, want invalid argument", ch, err)
		}
		if _, err := d.PowerChannel(ctx, ch); !driver.IsInvalidArgument(err) {
			t.Errorf("PowerChannel(%d) err = %v, want invalid argument", ch, err)
		}
	}
	if len(b.writes) != 0 {
		t.Errorf("writes = %v, want none on rejected channel", b.writes)
	}
}

func TestN2936RPowerSelectsChannelFirst(t *testing.T) {
	b := newMockBus()
	d := new2936R(t, b)

	b.reply("pm:power?", "1.23e-04")
	power, err := d.PowerChannel(context.Background(), 2)
	if err != nil {
		t.Fatalf("PowerChannel: %v", err)
	}
	if power.Value != 1.23e-04 || power.Unit != "W" {
		t.Errorf("power = %+v", power)
	}

	want := []string{"pm:channel 2", "pm:power?"}
	if len(b.writes) != len(want) {
		t.Fatalf("writes = %v, want %v", b.writes, want)
	}
	for i := range want {
		if b.writes[i] != want[i] {
			t.Errorf("writes[%d] = %q, want %q", i, b.writes[i], want[i])
		}
	}
}

func TestN2936RUnits(t *testing.T) {
	b := newMockBus()
	d := new2936R(t, b)
	ctx := context.Background()

	if err := d.SetUnitsChannel(ctx, "dBm", 1); err != nil {
		t.Fatalf("SetUnitsChannel: %v", err)
	}
	want := []string{"pm:channel 1", "pm:units 6"}
	for i := range want {
		if b.writes[i] != want[i] {
			t.Errorf("writes[%d] = %q, want %q", i, b.writes[i], want[i])
		}
	}

	if err := d.SetUnitsChannel(ctx, "parsecs", 1); !driver.IsInvalidArgument(err) {
		t.Errorf("err = %v, want invalid argument", err)
	}

	b.reply("pm:units?", "2")
	units, err := d.GetUnits(ctx)
	if err != nil {
		t.Fatalf("GetUnits: %v", err)
	}
	if units != driver.PowerUnitsWatts {
		t.Errorf("units = %q, want watts", units)
	}
}

func TestN2936RDigitalFilterValidation(t *testing.T) {
	b := newMockBus()
	d := new2936R(t, b)
	ctx := context.Background()

	for _, n := range []int{-1, 10001} {
		if err := d.SetDigitalFilter(ctx, n, 1); !driver.IsInvalidArgument(err) {
			t.Errorf("SetDigitalFilter(%d) err = %v, want invalid argument", n, err)
		}
	}
	if len(b.writes) != 0 {
		t.Fatalf("writes = %v, want none on rejected input", b.writes)
	}

	if err := d.SetDigitalFilter(ctx, 500, 2); err != nil {
		t.Fatalf("SetDigitalFilter: %v", err)
	}
	want := []string{"pm:channel 2", "pm:digitalfilter 500"}
	for i := range want {
		if b.writes[i] != want[i] {
			t.Errorf("writes[%d] = %q, want %q", i, b.writes[i], want[i])
		}
	}
}

func TestN2936RRange(t *testing.T) {
	b := newMockBus()
	d := new2936R(t, b)
	ctx := context.Background()

	if err := d.SetRangeChannel(ctx, 8, 1); !driver.IsInvalidArgument(err) {
		t.Errorf("SetRangeChannel(8) accepted, want invalid argument")
	}

	if err := d.SetRangeChannel(ctx, 5, 1); err != nil {
		t.Fatalf("SetRangeChannel: %v", err)
	}
	if got := b.writes[len(b.writes)-1]; got != "pm:range 5" {
		t.Errorf("last write = %q, want %q", got, "pm:range 5")
	}

	b.reply("pm:range?", "5")
	n, err := d.GetRange(ctx)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if n != 5 {
		t.Errorf("range = %d, want 5", n)
	}
}

func TestN2936RUnsupportedOperations(t *testing.T) {
	d := new2936R(t, newMockBus())
	ctx := context.Background()

	if _, err := d.GetWavelength(ctx); driver.KindOf(err) != driver.KindUnsupported {
		t.Errorf("GetWavelength err = %v, want unsupported", err)
	}
	if err := d.SetWavelength(ctx, 850); driver.KindOf(err) != driver.KindUnsupported {
		t.Errorf("SetWavelength err = %v, want unsupported", err)
	}
	if _, err := d.IsMeasurementValid(ctx); driver.KindOf(err) != driver.KindUnsupported {
		t.Errorf("IsMeasurementValid err = %v, want unsupported", err)
	}
	if err := d.EnableZero(ctx); driver.KindOf(err) != driver.KindUnsupported {
		t.Errorf("EnableZero err = %v, want unsupported", err)
	}
}

func TestN2936RReadDeadline(t *testing.T) {
	b := newMockBus()
	d := new2936R(t, b)
	d.readDeadline = 20 * time.Millisecond

	// No reply ever arrives: the byte poll must give up at the deadline
	// instead of looping forever.
	_, err := d.PowerChannel(context.Background(), 1)
	if !driver.IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestN2936RFlushReadStopsOnTimeout(t *testing.T) {
	b := newMockBus()
	d := new2936R(t, b)
	b.buf = []byte("stale junk\r\n")

	if err := d.FlushRead(context.Background()); err != nil {
		t.Fatalf("FlushRead: %v", err)
	}
	if len(b.buf) != 0 {
		t.Errorf("buffer not drained: %q", b.buf)
	}
}
