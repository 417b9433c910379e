// internal/driver/tektronix/waveform.go
package tektronix

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/model"
	"instrument-service/pkg/driver"
)

// waveformPoints is the fixed transfer window. The scope reports its record
// length via `wfmpre:nr_pt?`, but the transfer is always pinned to 10000
// points so captures are the same size across acquisition settings.
const waveformPoints = 10000

// GetData pulls one channel's waveform and returns it as physically-scaled,
// unit-tagged x/y sequences. The fetch is a fixed multi-command sequence
// over the exclusive bus and must not be interleaved with other traffic.
func (d *TekScope) GetData(ctx context.Context, channel int) (*model.Waveform, error) {
	if channel < 1 || channel > 4 {
		return nil, driver.Errorf(driver.KindInvalidArgument, "tektronix.data",
			"channel must be 1-4, got %d", channel)
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	startTime := time.Now()
	wf, err := d.getDataLocked(ctx, channel)
	d.updateHealthMetrics(err == nil, time.Since(startTime))
	if err != nil {
		d.notifyEvent("error", err)
		return nil, err
	}

	d.logger.Info("Waveform captured",
		zap.Int("channel", channel),
		zap.Int("points", wf.Len()),
		zap.Duration("duration", time.Since(startTime)),
	)
	return wf, nil
}

func (d *TekScope) getDataLocked(ctx context.Context, channel int) (*model.Waveform, error) {
	if err := d.bus.WriteString(ctx, "data:source ch"+strconv.Itoa(channel)); err != nil {
		return nil, err
	}

	// Ask for the record length, then pin the window anyway.
	if _, err := d.askInt(ctx, "wfmpre:nr_pt?"); err != nil {
		return nil, err
	}
	stop := waveformPoints

	setup := []string{
		"data:width 2",
		"data:encdg RIBinary",
		"data:start 1",
		"data:stop " + strconv.Itoa(stop),
	}
	for _, cmd := range setup {
		if err := d.bus.WriteString(ctx, cmd); err != nil {
			return nil, err
		}
	}

	if err := d.bus.WriteString(ctx, "curve?"); err != nil {
		return nil, err
	}
	samples, err := readCurveBlock(ctx, d.bus)
	if err != nil {
		return nil, err
	}

	// Scale and offset factors, one round trip each.
	xIncr, err := d.askFloat(ctx, "wfmpre:xincr?")
	if err != nil {
		return nil, err
	}
	yMult, err := d.askFloat(ctx, "wfmpre:ymult?")
	if err != nil {
		return nil, err
	}
	xZero, err := d.askFloat(ctx, "wfmpre:xzero?")
	if err != nil {
		return nil, err
	}
	yZero, err := d.askFloat(ctx, "wfmpre:yzero?")
	if err != nil {
		return nil, err
	}
	ptOff, err := d.askFloat(ctx, "wfmpre:pt_off?")
	if err != nil {
		return nil, err
	}
	yOff, err := d.askFloat(ctx, "wfmpre:yoff?")
	if err != nil {
		return nil, err
	}

	xUnit, err := d.askQuoted(ctx, "wfmpre:xunit?")
	if err != nil {
		return nil, err
	}
	yUnit, err := d.askQuoted(ctx, "wfmpre:yunit?")
	if err != nil {
		return nil, err
	}

	x := make([]float64, len(samples))
	y := make([]float64, len(samples))
	for i, raw := range samples {
		x[i] = xZero + (float64(i+1)-ptOff)*xIncr
		y[i] = yZero + (float64(raw)-yOff)*yMult
	}

	return &model.Waveform{
		X:     x,
		Y:     y,
		XUnit: xUnit,
		YUnit: yUnit,
	}, nil
}

// askInt sends one query and parses the integer reply.
func (d *TekScope) askInt(ctx context.Context, cmd string) (int, error) {
	line, err := d.ask(ctx, cmd)
	if err != nil {
		return 0, err
	}
	val, err := strconv.Atoi(line)
	if err != nil {
		return 0, driver.Errorf(driver.KindProtocol, "tektronix.query",
			"expected integer reply to %s, got %q", cmd, line)
	}
	return val, nil
}

// askFloat sends one query and parses the numeric reply.
func (d *TekScope) askFloat(ctx context.Context, cmd string) (float64, error) {
	line, err := d.ask(ctx, cmd)
	if err != nil {
		return 0, err
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, driver.Errorf(driver.KindProtocol, "tektronix.query",
			"expected numeric reply to %s, got %q", cmd, line)
	}
	return val, nil
}

// askQuoted sends one query and strips the quotes off the reply.
func (d *TekScope) askQuoted(ctx context.Context, cmd string) (string, error) {
	line, err := d.ask(ctx, cmd)
	if err != nil {
		return "", err
	}
	return strings.Trim(line, `"`), nil
}
