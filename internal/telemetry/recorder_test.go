package telemetry

import (
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/micro-ha/hive-bridge/internal/catalog"
	"github.com/micro-ha/hive-bridge/internal/hiveapi"
)

type capture struct {
	points []*write.Point
}

func (c *capture) WritePoint(point *write.Point) { c.points = append(c.points, point) }

type fixedCatalog struct{ cat *catalog.Catalog }

func (f fixedCatalog) Catalog() *catalog.Catalog { return f.cat }

func fieldMap(point *write.Point) map[string]any {
	out := map[string]any{}
	for _, field := range point.FieldList() {
		out[field.Key] = field.Value
	}
	return out
}

func TestRecordWritesClimateAndBattery(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cat := catalog.Ingest(hiveapi.Payload{
		Products: []hiveapi.Node{
			{
				ID: "heat-1", Type: "heating",
				Props: map[string]any{"online": true, "temperature": 19.5, "working": true},
				State: map[string]any{"name": "Living Room", "mode": "MANUAL", "target": 21.0},
			},
			{ID: "plug-1", Type: "activeplug", Props: map[string]any{"online": true}, State: map[string]any{"name": "Kettle"}},
		},
		Devices: []hiveapi.Node{
			{ID: "stat-1", Type: "thermostatui", Props: map[string]any{"online": true, "battery": 75.0}, State: map[string]any{"name": "Thermostat"}},
		},
	}, at, nil)

	sink := &capture{}
	rec := NewRecorder(sink, fixedCatalog{cat}, nil)
	if written := rec.Record(); written != 2 {
		t.Fatalf("expected 2 points, derived sensors must not add any, got %d", written)
	}

	climate := sink.points[0]
	if climate.Name() != MeasurementClimate || !climate.Time().Equal(at) {
		t.Fatalf("unexpected climate point %s at %v", climate.Name(), climate.Time())
	}
	fields := fieldMap(climate)
	if fields["current"] != 19.5 || fields["target"] != 21.0 || fields["heating"] != true {
		t.Fatalf("unexpected climate fields %v", fields)
	}

	battery := sink.points[1]
	if battery.Name() != MeasurementBattery {
		t.Fatalf("expected battery measurement, got %s", battery.Name())
	}
	if level := fieldMap(battery)["level"]; level != int64(75) {
		t.Fatalf("expected battery level 75, got %v (%T)", level, level)
	}
}

func TestRecordEmptyCatalog(t *testing.T) {
	sink := &capture{}
	if written := NewRecorder(sink, fixedCatalog{catalog.Empty()}, nil).Record(); written != 0 {
		t.Fatalf("expected no points, got %d", written)
	}
	if len(sink.points) != 0 {
		t.Fatalf("expected empty sink, got %d points", len(sink.points))
	}
}
