package telemetry

import (
	"io"
	"log/slog"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/micro-ha/hive-bridge/internal/catalog"
	"github.com/micro-ha/hive-bridge/internal/model"
)

const (
	MeasurementClimate = "climate"
	MeasurementBattery = "battery"
)

type PointWriter interface {
	WritePoint(point *write.Point)
}

type CatalogSource interface {
	Catalog() *catalog.Catalog
}

// Recorder turns each new snapshot into points. It is a session observer
// and only queues points; the write API sends them in the background.
type Recorder struct {
	writer PointWriter
	source CatalogSource
	logger *slog.Logger
}

func NewRecorder(writer PointWriter, source CatalogSource, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Recorder{writer: writer, source: source, logger: logger}
}

// Record writes points for the current snapshot and returns their count.
func (r *Recorder) Record() int {
	cat := r.source.Catalog()
	at := cat.LastRefreshed()
	if at.IsZero() {
		at = time.Now()
	}

	written := 0
	for _, rec := range cat.Records() {
		for _, point := range points(rec, at) {
			r.writer.WritePoint(point)
			written++
		}
	}
	r.logger.Debug("telemetry recorded", "points", written)
	return written
}

func points(rec model.DeviceRecord, at time.Time) []*write.Point {
	tags := map[string]string{"device_id": rec.ID, "name": rec.DisplayName}
	var out []*write.Point

	if rec.Capability == model.CapabilityClimate {
		fields := map[string]any{}
		if current, ok := rec.Status.Float(model.StatusCurrentTemp); ok {
			fields["current"] = current
		}
		if target, ok := rec.Status.Float(model.StatusTargetTemp); ok {
			fields["target"] = target
		}
		if heating, ok := rec.Status.Bool(model.StatusHeating); ok {
			fields["heating"] = heating
		}
		if len(fields) > 0 {
			out = append(out, write.NewPoint(MeasurementClimate, tags, fields, at))
		}
	}

	if level, ok := batteryLevel(rec); ok {
		out = append(out, write.NewPoint(MeasurementBattery, tags, map[string]any{"level": level}, at))
	}
	return out
}

func batteryLevel(rec model.DeviceRecord) (int, bool) {
	if kind, _ := rec.Status.String(model.StatusSensorKind); kind == "battery" {
		if level, ok := rec.Status.Int(model.StatusState); ok {
			return level, true
		}
	}
	if rec.Info.BatteryLevel != nil {
		return *rec.Info.BatteryLevel, true
	}
	return 0, false
}
