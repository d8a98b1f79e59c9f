package catalog

import (
	"testing"
	"time"

	"github.com/micro-ha/hive-bridge/internal/model"
)

func TestHeatingDerivedSensors(t *testing.T) {
	cat := Ingest(samplePayload(), time.Now(), nil)

	tests := []struct {
		id    string
		name  string
		state any
	}{
		{"heat-1-current_temperature", "Living Room Current Temperature", 19.5},
		{"heat-1-target_temperature", "Living Room Target Temperature", 21.0},
		{"heat-1-heating_state", "Living Room State", "ON"},
		{"heat-1-heating_mode", "Living Room Mode", "MANUAL"},
		{"heat-1-heating_boost", "Living Room Boost", "OFF"},
	}
	for _, tc := range tests {
		t.Run(tc.id, func(t *testing.T) {
			record := mustRecord(t, cat, tc.id)
			if record.Capability != model.CapabilitySensor {
				t.Fatalf("expected sensor, got %s", record.Capability)
			}
			if record.DisplayName != tc.name {
				t.Fatalf("expected name %q, got %q", tc.name, record.DisplayName)
			}
			if record.ParentID != "heat-1" || record.VendorType != "heating" {
				t.Fatalf("unexpected parent linkage: %+v", record)
			}
			if record.Status[model.StatusState] != tc.state {
				t.Fatalf("expected state %v, got %v", tc.state, record.Status[model.StatusState])
			}
			if record.Info.BatteryLevel != nil {
				t.Fatalf("derived record must not carry battery level")
			}
		})
	}

	current := mustRecord(t, cat, "heat-1-current_temperature")
	if unit, _ := current.Status.String(model.StatusUnit); unit != "°C" {
		t.Fatalf("expected °C unit, got %q", unit)
	}
}

func TestDerivedRecordsFollowParent(t *testing.T) {
	cat := Ingest(samplePayload(), time.Now(), nil)
	records := cat.Records()

	for i, record := range records {
		if record.ID != "heat-1" {
			continue
		}
		if i+1 >= len(records) || records[i+1].ID != "heat-1-current_temperature" {
			t.Fatalf("expected derived sensors right after heat-1")
		}
		return
	}
	t.Fatalf("heat-1 not found")
}

func TestHotWaterDerivedSensors(t *testing.T) {
	cat := Ingest(samplePayload(), time.Now(), nil)

	if state := mustRecord(t, cat, "water-1-hotwater_state").Status[model.StatusState]; state != "ON" {
		t.Fatalf("expected hot water state ON, got %v", state)
	}
	if mode := mustRecord(t, cat, "water-1-hotwater_mode").Status[model.StatusState]; mode != "BOOST" {
		t.Fatalf("expected mode BOOST, got %v", mode)
	}
	boost := mustRecord(t, cat, "water-1-hotwater_boost")
	if boost.Status[model.StatusState] != "ON" {
		t.Fatalf("expected boost ON, got %v", boost.Status[model.StatusState])
	}
	if minutes, _ := boost.Status.Int(model.StatusBoostMinutes); minutes != 25 {
		t.Fatalf("expected 25 boost minutes, got %d", minutes)
	}
}

func TestHubConnectivity(t *testing.T) {
	payload := samplePayload()
	payload.Devices[0].Props["online"] = false

	cat := Ingest(payload, time.Now(), nil)
	record := mustRecord(t, cat, "hub-1-connectivity")

	if record.Capability != model.CapabilityBinarySensor {
		t.Fatalf("expected binary sensor, got %s", record.Capability)
	}
	if record.DisplayName != "Hub Connectivity" {
		t.Fatalf("unexpected name %q", record.DisplayName)
	}
	if on, _ := record.Status.Bool(model.StatusState); on {
		t.Fatalf("expected offline hub to report disconnected")
	}
	if !record.Info.Online {
		t.Fatalf("connectivity sensor must stay available while the hub is offline")
	}
	if kind, _ := record.Status.String(model.StatusSensorKind); kind != "connectivity" {
		t.Fatalf("expected connectivity kind, got %q", kind)
	}
}

func TestSenseEventSensors(t *testing.T) {
	cat := Ingest(samplePayload(), time.Now(), nil)

	sense := mustRecord(t, cat, "sense-1")
	if sense.Capability != model.CapabilityHub {
		t.Fatalf("expected sense hub bucketed as hub, got %s", sense.Capability)
	}

	tests := []struct {
		id     string
		kind   string
		active bool
	}{
		{"sense-1-glass_break", "sound", true},
		{"sense-1-smoke_co", "smoke", false},
		{"sense-1-dog_bark", "sound", false},
	}
	for _, tc := range tests {
		record := mustRecord(t, cat, tc.id)
		if record.Capability != model.CapabilityBinarySensor {
			t.Fatalf("%s: expected binary sensor, got %s", tc.id, record.Capability)
		}
		if active, _ := record.Status.Bool(model.StatusState); active != tc.active {
			t.Fatalf("%s: expected active=%v", tc.id, tc.active)
		}
		if kind, _ := record.Status.String(model.StatusSensorKind); kind != tc.kind {
			t.Fatalf("%s: expected kind %q, got %q", tc.id, tc.kind, kind)
		}
	}
}

func TestClimateWithoutReadingsSkipsTemperatureSensors(t *testing.T) {
	payload := samplePayload()
	delete(payload.Products[0].Props, "temperature")
	delete(payload.Products[0].State, "target")

	cat := Ingest(payload, time.Now(), nil)
	for _, id := range []string{"heat-1-current_temperature", "heat-1-target_temperature"} {
		if _, err := cat.ByID(id); err == nil {
			t.Fatalf("expected %s to be skipped without a reading", id)
		}
	}
	mustRecord(t, cat, "heat-1-heating_state")
}
