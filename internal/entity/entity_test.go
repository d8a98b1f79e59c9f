package entity

import (
	"errors"
	"reflect"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/micro-ha/hive-bridge/internal/catalog"
	"github.com/micro-ha/hive-bridge/internal/command"
	"github.com/micro-ha/hive-bridge/internal/hiveapi"
	"github.com/micro-ha/hive-bridge/internal/model"
)

type staticSource struct {
	cat atomic.Pointer[catalog.Catalog]
}

func (s *staticSource) Catalog() *catalog.Catalog { return s.cat.Load() }

func ingest(payload hiveapi.Payload) *catalog.Catalog {
	return catalog.Ingest(payload, time.Now(), nil)
}

func samplePayload() hiveapi.Payload {
	return hiveapi.Payload{
		Products: []hiveapi.Node{
			{
				ID: "heat-1", Type: "heating", Parent: "stat-1",
				Props: map[string]any{"online": true, "temperature": 19.5, "working": true},
				State: map[string]any{"name": "Living Room", "mode": "SCHEDULE", "target": 20.0},
			},
			{
				ID: "water-1", Type: "hotwater",
				Props: map[string]any{"online": true, "previous": map[string]any{"mode": "SCHEDULE"}},
				State: map[string]any{"name": "Hot Water", "mode": "BOOST", "boost": 20.0, "status": "ON"},
			},
			{ID: "plug-1", Type: "activeplug", Props: map[string]any{"online": false}, State: map[string]any{"name": "Kettle", "status": "ON"}},
			{ID: "plug-2", Type: "activeplug", Props: map[string]any{"online": true}, State: map[string]any{"name": "Kettle!", "status": "OFF"}},
			{ID: "alarm-1", Type: "alarm", Props: map[string]any{"online": true}, State: map[string]any{"name": "Alarm", "mode": "asleep"}},
		},
		Devices: []hiveapi.Node{
			{ID: "hub-1", Type: "hub", Props: map[string]any{"online": true}, State: map[string]any{"name": "Hub"}},
			{ID: "stat-1", Type: "thermostatui", Props: map[string]any{"online": true, "battery": 80.0}, State: map[string]any{"name": "Thermostat"}},
		},
	}
}

func newTestRegistry(t *testing.T) (*Registry, *staticSource, *command.LookupIndex) {
	t.Helper()
	source := &staticSource{}
	source.cat.Store(ingest(samplePayload()))
	index := command.NewLookupIndex()
	registry := NewRegistry(source, index)
	if added := registry.Sync(source.Catalog()); added != 15 {
		t.Fatalf("expected 15 entities registered, got %d", added)
	}
	return registry, source, index
}

func viewsByID(views []View) map[string]View {
	out := make(map[string]View, len(views))
	for _, view := range views {
		out[view.EntityID] = view
	}
	return out
}

func TestSyncRegistersEntities(t *testing.T) {
	registry, source, index := newTestRegistry(t)

	want := []string{
		"alarm_control_panel.alarm",
		"binary_sensor.hub_connectivity",
		"climate.living_room",
		"sensor.hot_water_boost",
		"sensor.hot_water_mode",
		"sensor.hot_water_state",
		"sensor.living_room_boost",
		"sensor.living_room_current_temperature",
		"sensor.living_room_mode",
		"sensor.living_room_state",
		"sensor.living_room_target_temperature",
		"sensor.thermostat_battery",
		"switch.kettle",
		"switch.kettle_2",
		"water_heater.hot_water",
	}
	if got := index.EntityIDs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected entity ids:\n got %v\nwant %v", got, want)
	}

	deviceID, ok := index.Resolve("switch.kettle_2")
	if !ok || deviceID != "plug-2" {
		t.Fatalf("expected switch.kettle_2 -> plug-2, got %q (%v)", deviceID, ok)
	}

	if added := registry.Sync(source.Catalog()); added != 0 {
		t.Fatalf("expected second sync to add nothing, got %d", added)
	}
	if registry.Len() != 15 {
		t.Fatalf("expected 15 entities, got %d", registry.Len())
	}
}

func TestViewsMapState(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	views := viewsByID(registry.Views())

	climate := views["climate.living_room"]
	if climate.State != "auto" || !climate.Available {
		t.Fatalf("unexpected climate view: %+v", climate)
	}
	if climate.UniqueID != "heat-1-heating" {
		t.Fatalf("unexpected unique id %q", climate.UniqueID)
	}
	if climate.Attributes["current_temperature"] != 19.5 || climate.Attributes["temperature"] != 20.0 {
		t.Fatalf("unexpected temperatures: %v", climate.Attributes)
	}
	if climate.Attributes["hvac_action"] != "heating" || climate.Attributes["preset_mode"] != "none" {
		t.Fatalf("unexpected climate attributes: %v", climate.Attributes)
	}
	if !slices.Contains(climate.Commands, command.BoostOn) || !slices.Contains(climate.Commands, command.SetPreset) {
		t.Fatalf("climate commands missing boost or preset: %v", climate.Commands)
	}

	water := views["water_heater.hot_water"]
	if water.State != "eco" {
		t.Fatalf("expected eco while boosting from schedule, got %q", water.State)
	}
	if water.Attributes["boost"] != true || water.Attributes["boost_minutes"] != 20 {
		t.Fatalf("unexpected water attributes: %v", water.Attributes)
	}

	plug := views["switch.kettle"]
	if plug.State != StateOn || plug.Available {
		t.Fatalf("unexpected plug view: %+v", plug)
	}

	if state := views["alarm_control_panel.alarm"].State; state != "armed_night" {
		t.Fatalf("expected armed_night, got %q", state)
	}

	battery := views["sensor.thermostat_battery"]
	if battery.State != "80" || battery.Name != "Thermostat Battery" {
		t.Fatalf("unexpected battery view: %+v", battery)
	}
	if battery.Attributes["unit_of_measurement"] != "%" {
		t.Fatalf("expected %% unit, got %v", battery.Attributes["unit_of_measurement"])
	}
}

func TestDerivedSensorViews(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	views := viewsByID(registry.Views())

	tests := []struct {
		entityID string
		name     string
		state    string
	}{
		{"sensor.living_room_current_temperature", "Living Room Current Temperature", "19.5"},
		{"sensor.living_room_target_temperature", "Living Room Target Temperature", "20"},
		{"sensor.living_room_state", "Living Room State", "ON"},
		{"sensor.living_room_mode", "Living Room Mode", "SCHEDULE"},
		{"sensor.living_room_boost", "Living Room Boost", "OFF"},
		{"sensor.hot_water_state", "Hot Water State", "ON"},
		{"sensor.hot_water_mode", "Hot Water Mode", "BOOST"},
		{"sensor.hot_water_boost", "Hot Water Boost", "ON"},
		{"binary_sensor.hub_connectivity", "Hub Connectivity", StateOn},
	}
	for _, tc := range tests {
		t.Run(tc.entityID, func(t *testing.T) {
			view, ok := views[tc.entityID]
			if !ok {
				t.Fatalf("entity %s not registered", tc.entityID)
			}
			if view.Name != tc.name || view.State != tc.state {
				t.Fatalf("expected %q=%q, got %q=%q", tc.name, tc.state, view.Name, view.State)
			}
			if len(view.Commands) != 0 {
				t.Fatalf("derived entities take no commands, got %v", view.Commands)
			}
		})
	}

	if unit := views["sensor.living_room_current_temperature"].Attributes["unit_of_measurement"]; unit != "°C" {
		t.Fatalf("expected °C unit, got %v", unit)
	}
	if minutes := views["sensor.hot_water_boost"].Attributes["boost_minutes"]; minutes != 20 {
		t.Fatalf("expected boost_minutes 20, got %v", minutes)
	}
	if class := views["binary_sensor.hub_connectivity"].Attributes["device_class"]; class != "connectivity" {
		t.Fatalf("expected connectivity class, got %v", class)
	}
}

func TestSenseEventEntities(t *testing.T) {
	payload := samplePayload()
	payload.Products = append(payload.Products, hiveapi.Node{
		ID: "sense-1", Type: "sense",
		Props: map[string]any{"online": true, "sensors": map[string]any{"SMOKE_CO": map[string]any{"active": true}}},
		State: map[string]any{"name": "Sense"},
	})
	source := &staticSource{}
	source.cat.Store(ingest(payload))
	registry := NewRegistry(source, command.NewLookupIndex())
	registry.Sync(source.Catalog())

	views := viewsByID(registry.Views())
	if _, ok := views["binary_sensor.sense"]; ok {
		t.Fatalf("sense hub itself must not become an entity")
	}
	smoke := views["binary_sensor.sense_smoke_co"]
	if smoke.State != StateOn || smoke.Attributes["device_class"] != "smoke" {
		t.Fatalf("unexpected smoke view: %+v", smoke)
	}
	if glass := views["binary_sensor.sense_glass_break"]; glass.State != StateOff {
		t.Fatalf("expected glass break off, got %q", glass.State)
	}
	if _, ok := views["binary_sensor.sense_dog_bark"]; !ok {
		t.Fatalf("dog bark sensor not registered")
	}
}

func TestAlarmTriggeredOverridesMode(t *testing.T) {
	view := Adapt("alarm_control_panel.alarm", model.DeviceRecord{
		ID: "alarm-1", VendorType: "alarm", Capability: model.CapabilityAlarm,
		Status: model.Status{model.StatusMode: "home", model.StatusTriggered: true},
	})
	if view.State != "triggered" {
		t.Fatalf("expected triggered, got %q", view.State)
	}
}

func TestRemovedDeviceBecomesUnavailable(t *testing.T) {
	registry, source, index := newTestRegistry(t)

	payload := samplePayload()
	payload.Products = payload.Products[:2]
	source.cat.Store(ingest(payload))

	view, err := registry.View("switch.kettle")
	if err != nil {
		t.Fatalf("View returned error: %v", err)
	}
	if view.State != StateUnavailable || view.Available {
		t.Fatalf("expected unavailable view, got %+v", view)
	}

	if _, ok := index.Resolve("switch.kettle"); !ok {
		t.Fatalf("index entries are never removed")
	}

	if _, err := registry.View("switch.toaster"); !errors.Is(err, model.ErrUnknownEntity) {
		t.Fatalf("expected ErrUnknownEntity, got %v", err)
	}
}

func TestEmptyCatalogViews(t *testing.T) {
	source := &staticSource{}
	registry := NewRegistry(source, command.NewLookupIndex())
	if added := registry.Sync(source.Catalog()); added != 0 {
		t.Fatalf("expected nothing registered, got %d", added)
	}
	if views := registry.Views(); len(views) != 0 {
		t.Fatalf("expected no views, got %d", len(views))
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Living Room":    "living_room",
		"  Hot--Water! ": "hot_water",
		"Kettle 2":       "kettle_2",
		"!!!":            "",
	}
	for input, want := range cases {
		if got := Slugify(input); got != want {
			t.Fatalf("Slugify(%q) = %q, want %q", input, got, want)
		}
	}
}
