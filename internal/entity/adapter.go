// Package entity presents catalog records as home automation entities.
//
// Every capability is described by one mapping entry: the entity domain,
// how the state string is derived and which status fields become
// attributes. Records are never cached; views are rebuilt from the current
// catalog on every read.
package entity

import (
	"strconv"
	"strings"

	"github.com/micro-ha/hive-bridge/internal/command"
	"github.com/micro-ha/hive-bridge/internal/model"
)

const (
	StateOn          = "on"
	StateOff         = "off"
	StateUnknown     = "unknown"
	StateUnavailable = "unavailable"
)

// View is the externally visible form of one entity.
type View struct {
	EntityID   string            `json:"entity_id"`
	UniqueID   string            `json:"unique_id"`
	DeviceID   string            `json:"device_id"`
	Domain     string            `json:"domain"`
	Name       string            `json:"name"`
	State      string            `json:"state"`
	Available  bool              `json:"available"`
	Attributes map[string]any    `json:"attributes,omitempty"`
	Commands   []string          `json:"commands,omitempty"`
	Device     *model.DeviceInfo `json:"device,omitempty"`
}

type field struct {
	attr   string
	status string
}

type mapping struct {
	domain string
	state  func(model.Status) string
	fields []field
	extra  func(model.Status, map[string]any)
	suffix func(model.Status) string
}

var (
	hvacModes  = map[string]string{"SCHEDULE": "auto", "MANUAL": "heat", "OFF": "off"}
	waterModes = map[string]string{"SCHEDULE": "eco", "ON": "on", "MANUAL": "on", "OFF": "off"}
	alarmModes = map[string]string{"home": "disarmed", "asleep": "armed_night", "away": "armed_away"}
)

var mappings = map[model.Capability]mapping{
	model.CapabilityClimate: {
		domain: "climate",
		state:  boostAware(hvacModes, "heat"),
		fields: []field{
			{"current_temperature", model.StatusCurrentTemp},
			{"temperature", model.StatusTargetTemp},
			{"min_temp", model.StatusMinTemp},
			{"max_temp", model.StatusMaxTemp},
			{"boost_minutes", model.StatusBoostMinutes},
		},
		extra: func(s model.Status, attrs map[string]any) {
			attrs["hvac_action"] = "idle"
			if heating, _ := s.Bool(model.StatusHeating); heating {
				attrs["hvac_action"] = "heating"
			}
			attrs["preset_modes"] = []string{"none", "boost"}
			attrs["preset_mode"] = "none"
			if boost, _ := s.Bool(model.StatusBoost); boost {
				attrs["preset_mode"] = "boost"
			}
		},
	},
	model.CapabilityWaterHeater: {
		domain: "water_heater",
		state:  boostAware(waterModes, "on"),
		fields: []field{
			{"boost", model.StatusBoost},
			{"boost_minutes", model.StatusBoostMinutes},
			{"is_heating", model.StatusState},
		},
	},
	model.CapabilitySwitch: {
		domain: "switch",
		state:  onOff,
		fields: []field{{"current_power_w", model.StatusPowerUsage}},
	},
	model.CapabilityLight: {
		domain: "light",
		state:  onOff,
		fields: []field{
			{"brightness", model.StatusBrightness},
			{"color_temp_kelvin", model.StatusColorTemp},
			{"hue", model.StatusHue},
			{"saturation", model.StatusSaturation},
		},
	},
	model.CapabilityBinarySensor: {
		domain: "binary_sensor",
		state:  onOff,
		fields: []field{{"device_class", model.StatusSensorKind}},
	},
	model.CapabilitySensor: {
		domain: "sensor",
		state:  sensorState,
		fields: []field{
			{"device_class", model.StatusSensorKind},
			{"unit_of_measurement", model.StatusUnit},
			{"boost_minutes", model.StatusBoostMinutes},
		},
		suffix: func(s model.Status) string {
			label, _ := s.String(model.StatusLabel)
			return label
		},
	},
	model.CapabilityAlarm: {
		domain: "alarm_control_panel",
		state: func(s model.Status) string {
			if triggered, _ := s.Bool(model.StatusTriggered); triggered {
				return "triggered"
			}
			mode, _ := s.String(model.StatusMode)
			if state, ok := alarmModes[strings.ToLower(mode)]; ok {
				return state
			}
			return StateUnknown
		},
	},
}

// Domain returns the entity domain for capability. Hubs have none.
func Domain(capability model.Capability) (string, bool) {
	m, ok := mappings[capability]
	return m.domain, ok
}

// Adapt builds the view of rec under entityID.
func Adapt(entityID string, rec model.DeviceRecord) View {
	m, ok := mappings[rec.Capability]
	view := View{
		EntityID:  entityID,
		UniqueID:  rec.UniqueID(),
		DeviceID:  rec.ID,
		Domain:    m.domain,
		Name:      displayName(rec),
		Available: rec.Info.Online,
		State:     StateUnknown,
		Commands:  command.Commands(rec.Capability),
	}
	if !ok {
		return view
	}
	view.State = m.state(rec.Status)

	attrs := map[string]any{}
	for _, f := range m.fields {
		if value, present := rec.Status[f.status]; present {
			attrs[f.attr] = value
		}
	}
	if m.extra != nil {
		m.extra(rec.Status, attrs)
	}
	if rec.Info.BatteryLevel != nil {
		attrs["battery_level"] = *rec.Info.BatteryLevel
	}
	if len(attrs) > 0 {
		view.Attributes = attrs
	}
	info := rec.Info
	view.Device = &info
	return view
}

func displayName(rec model.DeviceRecord) string {
	name := rec.DisplayName
	m, ok := mappings[rec.Capability]
	if !ok || m.suffix == nil {
		return name
	}
	if suffix := m.suffix(rec.Status); suffix != "" {
		name += " " + strings.ToUpper(suffix[:1]) + suffix[1:]
	}
	return name
}

// sensorState renders whole numbers without a fraction and text as is.
func sensorState(s model.Status) string {
	switch v := s[model.StatusState].(type) {
	case string:
		if v == "" {
			return StateUnknown
		}
		return v
	case bool:
		return onOff(s)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return StateUnknown
	default:
		if value, ok := s.Int(model.StatusState); ok {
			return strconv.Itoa(value)
		}
		return StateUnknown
	}
}

func onOff(s model.Status) string {
	on, ok := s.Bool(model.StatusState)
	switch {
	case !ok:
		return StateUnknown
	case on:
		return StateOn
	default:
		return StateOff
	}
}

// boostAware maps the vendor mode. While boosting the mode reads BOOST,
// so the previous mode is shown instead.
func boostAware(modes map[string]string, boosting string) func(model.Status) string {
	return func(s model.Status) string {
		mode, _ := s.String(model.StatusMode)
		if mode == "BOOST" {
			previous, _ := s.String(model.StatusPreviousMode)
			if state, ok := modes[previous]; ok && state != StateOff {
				return state
			}
			return boosting
		}
		if state, ok := modes[mode]; ok {
			return state
		}
		return StateUnknown
	}
}
