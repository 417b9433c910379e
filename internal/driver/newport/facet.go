// internal/driver/newport/facet.go
package newport

import (
	"context"
	"strconv"
	"strings"

	"instrument-service/internal/bus"
	"instrument-service/pkg/driver"
)

// facet is one single-letter front-panel setting of the 1830-C. The meter
// speaks a terse command set: `<letter>?` queries the setting, and
// `<letter><value>` writes it with no separating space. All replies are
// integer codes on one line.
type facet struct {
	name     string
	cmd      string
	readOnly bool
}

// get queries the facet and returns its integer code.
func (f facet) get(ctx context.Context, b bus.Bus) (int, error) {
	if err := b.WriteString(ctx, f.cmd+"?"); err != nil {
		return 0, err
	}
	line, err := b.ReadLine(ctx)
	if err != nil {
		return 0, err
	}
	val, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, driver.Errorf(driver.KindProtocol, "newport."+f.name,
			"expected integer reply to %s?, got %q", f.cmd, line)
	}
	return val, nil
}

// set writes the facet's integer code. Validation happens before any byte
// reaches the wire, so a rejected value leaves the meter untouched.
func (f facet) set(ctx context.Context, b bus.Bus, val int) error {
	if f.readOnly {
		return driver.Errorf(driver.KindUnsupported, "newport."+f.name,
			"%s is read-only", f.name)
	}
	return b.WriteString(ctx, f.cmd+strconv.Itoa(val))
}

// getBool reads a facet whose codes are 0/1.
func (f facet) getBool(ctx context.Context, b bus.Bus) (bool, error) {
	val, err := f.get(ctx, b)
	if err != nil {
		return false, err
	}
	return val != 0, nil
}

// setBool writes a 0/1-coded facet.
func (f facet) setBool(ctx context.Context, b bus.Bus, enable bool) error {
	return f.set(ctx, b, boolCode(enable))
}

func boolCode(v bool) int {
	if v {
		return 1
	}
	return 0
}
