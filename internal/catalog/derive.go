package catalog

import (
	"github.com/micro-ha/hive-bridge/internal/model"
)

// derivedSpec describes one extra record built from a product or device.
// Derived records share their parent's metadata and carry no commands.
type derivedSpec struct {
	key          string
	label        string
	capability   model.Capability
	alwaysOnline bool
	status       func(parent model.DeviceRecord) (model.Status, bool)
}

var temperatureSensors = []derivedSpec{
	{key: "current_temperature", label: "Current Temperature", capability: model.CapabilitySensor, status: temperature(model.StatusCurrentTemp)},
	{key: "target_temperature", label: "Target Temperature", capability: model.CapabilitySensor, status: temperature(model.StatusTargetTemp)},
}

var derivedTypes = map[string][]derivedSpec{
	"heating": append(append([]derivedSpec(nil), temperatureSensors...),
		derivedSpec{key: "heating_state", label: "State", capability: model.CapabilitySensor, status: onOffText(model.StatusHeating)},
		derivedSpec{key: "heating_mode", label: "Mode", capability: model.CapabilitySensor, status: modeText},
		derivedSpec{key: "heating_boost", label: "Boost", capability: model.CapabilitySensor, status: boostText},
	),
	"trvcontrol": temperatureSensors,
	"hotwater": {
		{key: "hotwater_state", label: "State", capability: model.CapabilitySensor, status: onOffText(model.StatusState)},
		{key: "hotwater_mode", label: "Mode", capability: model.CapabilitySensor, status: modeText},
		{key: "hotwater_boost", label: "Boost", capability: model.CapabilitySensor, status: boostText},
	},
	"hub": {
		{key: "connectivity", label: "Connectivity", capability: model.CapabilityBinarySensor, alwaysOnline: true, status: connectivity},
	},
	"sense": {
		{key: "glass_break", label: "Glass Break", capability: model.CapabilityBinarySensor, status: senseEvent("glass_break", "sound")},
		{key: "smoke_co", label: "Smoke CO", capability: model.CapabilityBinarySensor, status: senseEvent("smoke_co", "smoke")},
		{key: "dog_bark", label: "Dog Bark", capability: model.CapabilityBinarySensor, status: senseEvent("dog_bark", "sound")},
	},
}

// derive returns the extra records of parent in table order. Their ids are
// "<parent id>-<key>" so they never collide with vendor ids.
func derive(parent model.DeviceRecord) []model.DeviceRecord {
	specs := derivedTypes[parent.VendorType]
	if len(specs) == 0 {
		return nil
	}
	out := make([]model.DeviceRecord, 0, len(specs))
	for _, spec := range specs {
		status, ok := spec.status(parent)
		if !ok {
			continue
		}
		info := parent.Info
		info.BatteryLevel = nil
		if spec.alwaysOnline {
			info.Online = true
		}
		out = append(out, model.DeviceRecord{
			ID:          parent.ID + "-" + spec.key,
			DisplayName: parent.DisplayName + " " + spec.label,
			Capability:  spec.capability,
			VendorType:  parent.VendorType,
			ParentID:    parent.ID,
			Status:      status,
			Info:        info,
		})
	}
	return out
}

func temperature(key string) func(model.DeviceRecord) (model.Status, bool) {
	return func(parent model.DeviceRecord) (model.Status, bool) {
		value, ok := parent.Status.Float(key)
		if !ok {
			return nil, false
		}
		return model.Status{
			model.StatusState:      value,
			model.StatusSensorKind: "temperature",
			model.StatusUnit:       "°C",
		}, true
	}
}

func onOffText(key string) func(model.DeviceRecord) (model.Status, bool) {
	return func(parent model.DeviceRecord) (model.Status, bool) {
		on, ok := parent.Status.Bool(key)
		if !ok {
			return nil, false
		}
		return model.Status{model.StatusState: onOffWord(on)}, true
	}
}

func modeText(parent model.DeviceRecord) (model.Status, bool) {
	mode, ok := parent.Status.String(model.StatusMode)
	if !ok || mode == "" {
		return nil, false
	}
	return model.Status{model.StatusState: mode}, true
}

func boostText(parent model.DeviceRecord) (model.Status, bool) {
	boosting, _ := parent.Status.Bool(model.StatusBoost)
	status := model.Status{model.StatusState: onOffWord(boosting)}
	if minutes, ok := parent.Status.Int(model.StatusBoostMinutes); ok && boosting {
		status[model.StatusBoostMinutes] = minutes
	}
	return status, true
}

func connectivity(parent model.DeviceRecord) (model.Status, bool) {
	return model.Status{
		model.StatusState:      parent.Info.Online,
		model.StatusSensorKind: "connectivity",
	}, true
}

func senseEvent(key, kind string) func(model.DeviceRecord) (model.Status, bool) {
	return func(parent model.DeviceRecord) (model.Status, bool) {
		active, _ := parent.Status.Bool(key)
		return model.Status{
			model.StatusState:      active,
			model.StatusSensorKind: kind,
		}, true
	}
}

func onOffWord(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
