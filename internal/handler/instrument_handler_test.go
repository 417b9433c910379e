// internal/handler/instrument_handler_test.go
package handler

import (
	"errors"
	"net/http"
	"testing"

	"instrument-service/pkg/driver"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{driver.Errorf(driver.KindInvalidArgument, "op", "bad range"), http.StatusBadRequest},
		{driver.Errorf(driver.KindPrecondition, "op", "stats off"), http.StatusConflict},
		{driver.Errorf(driver.KindUnsupported, "op", "no wavelength"), http.StatusUnprocessableEntity},
		{driver.Errorf(driver.KindTimeout, "op", "no reply"), http.StatusGatewayTimeout},
		{driver.Errorf(driver.KindTransport, "op", "port closed"), http.StatusBadGateway},
		{driver.Errorf(driver.KindProtocol, "op", "garbled reply"), http.StatusBadGateway},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		if got := statusForError(tc.err); got != tc.want {
			t.Errorf("statusForError(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestStatusForWrappedError(t *testing.T) {
	// Kind classification must survive wrapping.
	inner := driver.Errorf(driver.KindTimeout, "op", "no reply")
	wrapped := errors.Join(errors.New("while reading power"), inner)
	if got := statusForError(wrapped); got != http.StatusGatewayTimeout {
		t.Errorf("wrapped timeout = %d, want 504", got)
	}
}
