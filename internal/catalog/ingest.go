package catalog

import (
	"io"
	"log/slog"
	"time"

	"github.com/micro-ha/hive-bridge/internal/hiveapi"
	"github.com/micro-ha/hive-bridge/internal/model"
)

// ActionVendorType marks records built from quick actions.
const ActionVendorType = "action"

// Ingest normalizes a raw payload. It has no side effects besides logging:
// the same payload always yields an equal catalog. Records of unknown
// vendor types are dropped, duplicate ids keep the first occurrence.
func Ingest(raw hiveapi.Payload, fetchedAt time.Time, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cat := Empty()
	cat.refreshedAt = fetchedAt.UTC()

	parents := make(map[string]hiveapi.Node, len(raw.Devices))
	for _, node := range raw.Devices {
		if node.ID != "" {
			parents[node.ID] = node
		}
	}

	add := func(record model.DeviceRecord) bool {
		if record.ID == "" {
			logger.Warn("dropping record without id", "vendor_type", record.VendorType)
			return false
		}
		if _, exists := cat.byID[record.ID]; exists {
			logger.Warn("dropping duplicate device id", "id", record.ID, "vendor_type", record.VendorType)
			return false
		}
		cat.byID[record.ID] = len(cat.records)
		cat.buckets[record.Capability] = append(cat.buckets[record.Capability], len(cat.records))
		cat.records = append(cat.records, record)
		return true
	}
	addWithDerived := func(record model.DeviceRecord) {
		if !add(record) {
			return
		}
		for _, extra := range derive(record) {
			add(extra)
		}
	}

	for _, node := range raw.Products {
		spec, ok := productTypes[node.Type]
		if !ok {
			logger.Warn("dropping product of unknown type", "id", node.ID, "vendor_type", node.Type)
			continue
		}
		record := baseRecord(node, spec.capability)
		inheritInfo(&record.Info, node, parents)
		record.Status = spec.status(node)
		addWithDerived(record)
	}

	for _, node := range raw.Devices {
		spec, ok := deviceTypes[node.Type]
		if !ok {
			if _, backed := productTypes[node.Type]; backed {
				// Covered by the product of the same id.
				logger.Debug("skipping product backed device", "id", node.ID, "vendor_type", node.Type)
				continue
			}
			logger.Warn("dropping device of unknown type", "id", node.ID, "vendor_type", node.Type)
			continue
		}
		record := baseRecord(node, spec.capability)
		record.Status = spec.status(node)
		addWithDerived(record)
	}

	for _, action := range raw.Actions {
		add(model.DeviceRecord{
			ID:          action.ID,
			DisplayName: fallback(action.Name, "Action "+action.ID),
			Capability:  model.CapabilitySwitch,
			VendorType:  ActionVendorType,
			Status:      model.Status{model.StatusState: action.Enabled},
			Info:        model.DeviceInfo{Online: true, Model: "Action", Manufacturer: "Hive"},
		})
	}

	logger.Debug("catalog ingested", "records", len(cat.records), "products", len(raw.Products), "devices", len(raw.Devices), "actions", len(raw.Actions))
	return cat
}

func baseRecord(node hiveapi.Node, capability model.Capability) model.DeviceRecord {
	record := model.DeviceRecord{
		ID:          node.ID,
		DisplayName: fallback(str(node.State["name"]), node.Type+" "+node.ID),
		Capability:  capability,
		VendorType:  node.Type,
		ParentID:    node.Parent,
		Info: model.DeviceInfo{
			Model:           str(node.Props["model"]),
			Manufacturer:    str(node.Props["manufacturer"]),
			FirmwareVersion: str(node.Props["version"]),
		},
	}
	if online, ok := node.Props["online"].(bool); ok {
		record.Info.Online = online
	}
	if battery, ok := num(node.Props["battery"]); ok {
		level := int(battery)
		record.Info.BatteryLevel = &level
	}
	return record
}

// inheritInfo fills product metadata from the physical device it runs on.
func inheritInfo(info *model.DeviceInfo, node hiveapi.Node, parents map[string]hiveapi.Node) {
	parent, ok := parents[node.Parent]
	if !ok {
		return
	}
	if info.Model == "" {
		info.Model = str(parent.Props["model"])
	}
	if info.Manufacturer == "" {
		info.Manufacturer = str(parent.Props["manufacturer"])
	}
	if info.FirmwareVersion == "" {
		info.FirmwareVersion = str(parent.Props["version"])
	}
	if _, own := node.Props["online"].(bool); !own {
		if online, ok := parent.Props["online"].(bool); ok {
			info.Online = online
		}
	}
	if info.BatteryLevel == nil {
		if battery, ok := num(parent.Props["battery"]); ok {
			level := int(battery)
			info.BatteryLevel = &level
		}
	}
}

func fallback(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
