// internal/bus/errors.go
package bus

import (
	"context"
	"errors"
	"net"
	"os"

	"instrument-service/pkg/driver"
)

// classify maps transport failures onto the driver error taxonomy. Deadline
// and timeout conditions become KindTimeout; everything else at this layer
// is a connection-level failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *driver.Error
	if errors.As(err, &de) {
		return err
	}
	if isTimeoutErr(err) {
		return driver.NewError(driver.KindTimeout, op, err)
	}
	return driver.NewError(driver.KindTransport, op, err)
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
