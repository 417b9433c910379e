// internal/driver/tektronix/measurement.go
package tektronix

import (
	"context"
	"strconv"
	"strings"

	"instrument-service/internal/model"
	"instrument-service/pkg/driver"
)

// SetMeasurementParams configures one of the scope's measurement slots:
// what to measure and on which channel. Type and source go out as one
// combined command.
func (d *TekScope) SetMeasurementParams(ctx context.Context, num driver.MeasurementSlot, mtype string, channel int) error {
	if !num.Valid() {
		return invalidSlot(num)
	}
	if channel < 1 || channel > 4 {
		return driver.Errorf(driver.KindInvalidArgument, "tektronix.measurement",
			"channel must be 1-4, got %d", channel)
	}
	if mtype == "" {
		return driver.Errorf(driver.KindInvalidArgument, "tektronix.measurement",
			"measurement type must not be empty")
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	prefix := measPrefix(num)
	return d.bus.WriteString(ctx, prefix+":type "+mtype+";source ch"+strconv.Itoa(channel))
}

// ReadMeasurementValue reads the current value of a measurement slot as a
// unit-tagged quantity. Value and units come back in one reply.
func (d *TekScope) ReadMeasurementValue(ctx context.Context, num driver.MeasurementSlot) (model.Quantity, error) {
	if !num.Valid() {
		return model.Quantity{}, invalidSlot(num)
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	reply, err := d.ask(ctx, measPrefix(num)+":value?;units?")
	if err != nil {
		return model.Quantity{}, err
	}

	parts := strings.Split(reply, ";")
	if len(parts) != 2 {
		return model.Quantity{}, driver.Errorf(driver.KindProtocol, "tektronix.measurement",
			"expected value;units reply, got %q", reply)
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return model.Quantity{}, driver.Errorf(driver.KindProtocol, "tektronix.measurement",
			"invalid measurement value %q", parts[0])
	}

	return model.Quantity{
		Value: value,
		Unit:  strings.Trim(strings.TrimSpace(parts[1]), `"`),
	}, nil
}

// ReadMeasurementStats reads the value and statistics of a measurement
// slot. Statistics mode must be on; otherwise the call fails before any
// query is sent. The five statistics fields come back in one combined reply
// so they are drawn from a single statistical window; the sample count is a
// second query and can lag that window by a moment.
func (d *TekScope) ReadMeasurementStats(ctx context.Context, num driver.MeasurementSlot) (*model.MeasurementStats, error) {
	if !num.Valid() {
		return nil, invalidSlot(num)
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	on, err := d.statsOnLocked(ctx)
	if err != nil {
		return nil, err
	}
	if !on {
		return nil, driver.Errorf(driver.KindPrecondition, "tektronix.stats",
			"measurement statistics are turned off, please turn them on")
	}

	reply, err := d.ask(ctx, measPrefix(num)+":value?;mean?;stddev?;minimum?;maximum?;units?")
	if err != nil {
		return nil, err
	}

	parts := strings.Split(reply, ";")
	if len(parts) != 6 {
		return nil, driver.Errorf(driver.KindProtocol, "tektronix.stats",
			"expected six-field stats reply, got %q", reply)
	}

	unit := strings.Trim(strings.TrimSpace(parts[5]), `"`)
	fields := make([]model.Quantity, 5)
	for i := 0; i < 5; i++ {
		value, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return nil, driver.Errorf(driver.KindProtocol, "tektronix.stats",
				"invalid stats field %q", parts[i])
		}
		fields[i] = model.Quantity{Value: value, Unit: unit}
	}

	nsamps, err := d.askInt(ctx, "measurement:statistics:weighting?")
	if err != nil {
		return nil, err
	}
	if nsamps < 0 {
		return nil, driver.Errorf(driver.KindProtocol, "tektronix.stats",
			"negative sample count %d", nsamps)
	}

	return &model.MeasurementStats{
		Value:   fields[0],
		Mean:    fields[1],
		StdDev:  fields[2],
		Minimum: fields[3],
		Maximum: fields[4],
		NSamps:  uint(nsamps),
	}, nil
}

// RunAcquire starts acquisition
func (d *TekScope) RunAcquire(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.bus.WriteString(ctx, "acquire:state run")
}

// StopAcquire stops acquisition
func (d *TekScope) StopAcquire(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.bus.WriteString(ctx, "acquire:state stop")
}

// EnableMeasurementStats turns measurement statistics mode on or off. The
// enable token differs per series: the TDS 3000 takes ON, the MSO/DPO 4000
// takes ALL.
func (d *TekScope) EnableMeasurementStats(ctx context.Context, enable bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	token := "OFF"
	if enable {
		token = d.statsOnToken
	}
	return d.bus.WriteString(ctx, "measu:statistics:mode "+token)
}

// AreMeasurementStatsOn reports whether measurement statistics mode is on.
func (d *TekScope) AreMeasurementStatsOn(ctx context.Context) (bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.statsOnLocked(ctx)
}

func (d *TekScope) statsOnLocked(ctx context.Context) (bool, error) {
	reply, err := d.ask(ctx, "measu:statistics:mode?")
	if err != nil {
		return false, err
	}
	return reply != "OFF" && reply != "0", nil
}

// SetMeasurementNsamps sets the number of samples in the statistics window.
func (d *TekScope) SetMeasurementNsamps(ctx context.Context, nsamps int) error {
	if nsamps < 1 {
		return driver.Errorf(driver.KindInvalidArgument, "tektronix.stats",
			"sample count must be positive, got %d", nsamps)
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.bus.WriteString(ctx, "measu:stati:weighting "+strconv.Itoa(nsamps))
}

func measPrefix(num driver.MeasurementSlot) string {
	return "measurement:meas" + strconv.Itoa(int(num))
}

func invalidSlot(num driver.MeasurementSlot) error {
	return driver.Errorf(driver.KindInvalidArgument, "tektronix.measurement",
		"measurement slot must be %d-%d, got %d",
		driver.MinMeasurementSlot, driver.MaxMeasurementSlot, int(num))
}
