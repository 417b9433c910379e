// internal/service/instrument_service_test.go
package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"instrument-service/internal/config"
	internalDriver "instrument-service/internal/driver"
	"instrument-service/internal/model"
)

func testConfig() *config.Config {
	return &config.Config{
		Instrument: config.InstrumentConfig{
			HealthCheckInterval: time.Second,
			PingInterval:        time.Second,
			OperationTimeout:    5 * time.Second,
		},
	}
}

func newTestService(t *testing.T) *InstrumentService {
	t.Helper()
	logger := zap.NewNop()
	registry := internalDriver.NewRegistry(logger)
	internalDriver.RegisterDefaultDrivers(registry, logger)

	cfg := testConfig()
	return NewInstrumentService(registry, cfg, logger)
}

func scopeRequest(id string) *RegisterInstrumentRequest {
	return &RegisterInstrumentRequest{
		InstrumentID:   id,
		InstrumentType: model.InstrumentTypeOscilloscope,
		Brand:          model.BrandTektronix,
		Model:          "TDS3000",
		ConnectionType: model.ConnectionTypeTCP,
		ConnectionConfig: map[string]interface{}{
			"host": "192.168.1.50",
			"port": 4000,
		},
		UserID: "tester",
	}
}

func meterRequest(id string) *RegisterInstrumentRequest {
	return &RegisterInstrumentRequest{
		InstrumentID:   id,
		InstrumentType: model.InstrumentTypePowerMeter,
		Brand:          model.BrandNewport,
		Model:          "1830-C",
		ConnectionType: model.ConnectionTypeSerial,
		ConnectionConfig: map[string]interface{}{
			"port":      "/dev/ttyUSB0",
			"baud_rate": 9600,
		},
		UserID: "tester",
	}
}

func TestRegisterInstrument(t *testing.T) {
	svc := newTestService(t)

	inst, err := svc.RegisterInstrument(context.Background(), scopeRequest("scope-1"))
	if err != nil {
		t.Fatalf("RegisterInstrument: %v", err)
	}

	if inst.Status != model.InstrumentStatusOffline {
		t.Errorf("status = %q, want offline", inst.Status)
	}
	if inst.ID == uuid.Nil {
		t.Error("ID not assigned")
	}
	if len(inst.Capabilities) == 0 {
		t.Error("capabilities not populated from driver")
	}

	got, err := svc.GetInstrument(context.Background(), "scope-1")
	if err != nil {
		t.Fatalf("GetInstrument: %v", err)
	}
	if got.InstrumentID != "scope-1" {
		t.Errorf("instrument_id = %q", got.InstrumentID)
	}
}

func TestRegisterInstrumentRejectsDuplicate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RegisterInstrument(ctx, scopeRequest("scope-1")); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := svc.RegisterInstrument(ctx, scopeRequest("scope-1"))
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("err = %v, want already-exists", err)
	}
}

func TestRegisterInstrumentRejectsUnsupported(t *testing.T) {
	svc := newTestService(t)

	req := scopeRequest("mystery-1")
	req.Brand = model.InstrumentBrand("ACME")
	_, err := svc.RegisterInstrument(context.Background(), req)
	if err == nil || !strings.Contains(err.Error(), "unsupported instrument") {
		t.Fatalf("err = %v, want unsupported", err)
	}
}

func TestRegisterInstrumentRejectsBadConnectionConfig(t *testing.T) {
	svc := newTestService(t)

	req := scopeRequest("scope-1")
	req.ConnectionConfig = map[string]interface{}{"port": 4000} // no host
	_, err := svc.RegisterInstrument(context.Background(), req)
	if err == nil || !strings.Contains(err.Error(), "invalid connection config") {
		t.Fatalf("err = %v, want config validation failure", err)
	}
}

func TestRegisterInstrumentValidation(t *testing.T) {
	svc := newTestService(t)

	req := scopeRequest("")
	_, err := svc.RegisterInstrument(context.Background(), req)
	if err == nil || !strings.Contains(err.Error(), "instrument_id is required") {
		t.Fatalf("err = %v, want missing-id validation failure", err)
	}
}

func TestListInstrumentsFiltersAndSorts(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, req := range []*RegisterInstrumentRequest{
		scopeRequest("scope-b"),
		scopeRequest("scope-a"),
		meterRequest("meter-1"),
	} {
		if _, err := svc.RegisterInstrument(ctx, req); err != nil {
			t.Fatalf("register %s: %v", req.InstrumentID, err)
		}
	}

	all := svc.ListInstruments(ctx, nil)
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	wantOrder := []string{"meter-1", "scope-a", "scope-b"}
	for i, want := range wantOrder {
		if all[i].InstrumentID != want {
			t.Errorf("all[%d] = %q, want %q", i, all[i].InstrumentID, want)
		}
	}

	scopeType := model.InstrumentTypeOscilloscope
	scopes := svc.ListInstruments(ctx, &InstrumentFilter{InstrumentType: &scopeType})
	if len(scopes) != 2 {
		t.Errorf("scopes = %d, want 2", len(scopes))
	}

	brand := model.BrandNewport
	meters := svc.ListInstruments(ctx, &InstrumentFilter{Brand: &brand})
	if len(meters) != 1 || meters[0].InstrumentID != "meter-1" {
		t.Errorf("meters = %v", meters)
	}
}

func TestRemoveInstrument(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RegisterInstrument(ctx, meterRequest("meter-1")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.RemoveInstrument(ctx, "meter-1", "tester"); err != nil {
		t.Fatalf("RemoveInstrument: %v", err)
	}
	if _, err := svc.GetInstrument(ctx, "meter-1"); err == nil {
		t.Error("instrument still present after removal")
	}
}

func TestRemoveInstrumentRefusesOnline(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RegisterInstrument(ctx, meterRequest("meter-1")); err != nil {
		t.Fatalf("register: %v", err)
	}
	svc.instruments["meter-1"].instrument.Status = model.InstrumentStatusOnline

	err := svc.RemoveInstrument(ctx, "meter-1", "tester")
	if err == nil || !strings.Contains(err.Error(), "disconnect first") {
		t.Fatalf("err = %v, want refusal for online instrument", err)
	}
}

func TestWithPowerMeterTypeMismatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RegisterInstrument(ctx, scopeRequest("scope-1")); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := svc.WithPowerMeter("scope-1", nil)
	if err == nil || !strings.Contains(err.Error(), "not a power meter") {
		t.Fatalf("err = %v, want type mismatch", err)
	}
	if err := svc.WithScope("missing", nil); err == nil {
		t.Error("WithScope on unknown instrument succeeded")
	}
}

func TestGetInstrumentHealth(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RegisterInstrument(ctx, scopeRequest("scope-1")); err != nil {
		t.Fatalf("register: %v", err)
	}

	health, err := svc.GetInstrumentHealth(ctx, "scope-1")
	if err != nil {
		t.Fatalf("GetInstrumentHealth: %v", err)
	}
	if health.InstrumentID != "scope-1" {
		t.Errorf("instrument_id = %q", health.InstrumentID)
	}
	if health.Status != string(model.InstrumentStatusOffline) {
		t.Errorf("status = %q, want offline", health.Status)
	}
}
