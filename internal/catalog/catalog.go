// Package catalog turns the raw device listing into normalized records
// grouped by capability. A Catalog is never modified after Ingest returns.
package catalog

import (
	"fmt"
	"maps"
	"time"

	"github.com/micro-ha/hive-bridge/internal/model"
)

type Catalog struct {
	records     []model.DeviceRecord
	byID        map[string]int
	buckets     map[model.Capability][]int
	refreshedAt time.Time
}

// Empty returns a catalog without records.
func Empty() *Catalog {
	return &Catalog{byID: map[string]int{}, buckets: map[model.Capability][]int{}}
}

// Len returns the number of records.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.records)
}

// LastRefreshed is the time the source payload was fetched.
func (c *Catalog) LastRefreshed() time.Time {
	if c == nil {
		return time.Time{}
	}
	return c.refreshedAt
}

// Records returns every record in ingest order.
func (c *Catalog) Records() []model.DeviceRecord {
	if c == nil {
		return []model.DeviceRecord{}
	}
	out := make([]model.DeviceRecord, 0, len(c.records))
	for _, record := range c.records {
		out = append(out, cloneRecord(record))
	}
	return out
}

// ByCapability returns the records of one bucket. The result is never nil.
func (c *Catalog) ByCapability(capability model.Capability) []model.DeviceRecord {
	out := []model.DeviceRecord{}
	if c == nil {
		return out
	}
	for _, idx := range c.buckets[capability] {
		out = append(out, cloneRecord(c.records[idx]))
	}
	return out
}

// ByID returns the record with id or model.ErrNotFound.
func (c *Catalog) ByID(id string) (model.DeviceRecord, error) {
	if c == nil {
		return model.DeviceRecord{}, fmt.Errorf("device %q: %w", id, model.ErrNotFound)
	}
	idx, ok := c.byID[id]
	if !ok {
		return model.DeviceRecord{}, fmt.Errorf("device %q: %w", id, model.ErrNotFound)
	}
	return cloneRecord(c.records[idx]), nil
}

// Counts returns the number of records per capability.
func (c *Catalog) Counts() map[model.Capability]int {
	out := make(map[model.Capability]int, len(model.Capabilities))
	for _, capability := range model.Capabilities {
		out[capability] = 0
		if c != nil {
			out[capability] = len(c.buckets[capability])
		}
	}
	return out
}

func cloneRecord(record model.DeviceRecord) model.DeviceRecord {
	record.Status = maps.Clone(record.Status)
	if record.Info.BatteryLevel != nil {
		level := *record.Info.BatteryLevel
		record.Info.BatteryLevel = &level
	}
	return record
}
