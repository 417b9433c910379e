// internal/driver/tektronix/curve.go
package tektronix

import (
	"context"
	"encoding/binary"
	"strconv"

	"instrument-service/pkg/driver"
)

// curveSource is the slice of the bus the block fetch needs.
type curveSource interface {
	ReadBytes(ctx context.Context, n int) ([]byte, error)
}

// readCurveBlock reads the scope's binary block reply to `curve?` straight
// off the connection. The block is `#<d><nnn...><payload>`: one digit-count
// byte, that many ASCII digits giving the payload byte count, then the
// payload as big-endian int16 samples. Every read is sized from the header,
// so payload bytes that happen to equal the response terminator cannot end
// the block early.
func readCurveBlock(ctx context.Context, src curveSource) ([]int16, error) {
	const op = "tektronix.curve"

	header, err := src.ReadBytes(ctx, 2)
	if err != nil {
		return nil, err
	}
	if header[0] != '#' {
		return nil, driver.Errorf(driver.KindProtocol, op,
			"binary response missing # header")
	}

	digitCount := int(header[1] - '0')
	if digitCount < 1 || digitCount > 9 {
		return nil, driver.Errorf(driver.KindProtocol, op,
			"invalid digit count byte %q", header[1])
	}

	lengthField, err := src.ReadBytes(ctx, digitCount)
	if err != nil {
		return nil, err
	}
	numBytes, err := strconv.Atoi(string(lengthField))
	if err != nil {
		return nil, driver.Errorf(driver.KindProtocol, op,
			"invalid length field %q", lengthField)
	}
	if numBytes%2 != 0 {
		return nil, driver.Errorf(driver.KindProtocol, op,
			"declared payload length %d is not a whole number of samples", numBytes)
	}

	payload, err := src.ReadBytes(ctx, numBytes)
	if err != nil {
		return nil, err
	}

	// Consume the response terminator. A quiet line just means the scope
	// did not send one.
	if _, err := src.ReadBytes(ctx, 1); err != nil && !driver.IsTimeout(err) {
		return nil, err
	}

	samples := make([]int16, numBytes/2)
	for i := range samples {
		samples[i] = int16(binary.BigEndian.Uint16(payload[2*i:]))
	}
	return samples, nil
}
