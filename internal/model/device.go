package model

import (
	"math"
	"strconv"
	"time"
)

// Capability is the normalized bucket a device record belongs to.
type Capability string

const (
	CapabilityClimate      Capability = "climate"
	CapabilitySwitch       Capability = "switch"
	CapabilityLight        Capability = "light"
	CapabilitySensor       Capability = "sensor"
	CapabilityBinarySensor Capability = "binary_sensor"
	CapabilityWaterHeater  Capability = "water_heater"
	CapabilityAlarm        Capability = "alarm"
	CapabilityHub          Capability = "hub"
)

// Capabilities lists every bucket in a stable order.
var Capabilities = []Capability{
	CapabilityClimate,
	CapabilitySwitch,
	CapabilityLight,
	CapabilitySensor,
	CapabilityBinarySensor,
	CapabilityWaterHeater,
	CapabilityAlarm,
	CapabilityHub,
}

func (c Capability) Valid() bool {
	for _, known := range Capabilities {
		if c == known {
			return true
		}
	}
	return false
}

// Status keys shared by the catalog and its consumers.
const (
	StatusState         = "state"
	StatusMode          = "mode"
	StatusPreviousMode  = "previous_mode"
	StatusCurrentTemp   = "current_temperature"
	StatusTargetTemp    = "target_temperature"
	StatusMinTemp       = "min_temperature"
	StatusMaxTemp       = "max_temperature"
	StatusBoost         = "boost"
	StatusBoostMinutes  = "boost_minutes"
	StatusHeating       = "heating"
	StatusPowerUsage    = "power_usage"
	StatusBrightness    = "brightness"
	StatusColorTemp     = "color_temp"
	StatusHue           = "hue"
	StatusSaturation    = "saturation"
	StatusBattery       = "battery"
	StatusTriggered     = "triggered"
	StatusSensorKind    = "kind"
	StatusLabel         = "label"
	StatusUnit          = "unit"
	StatusOnline        = "online"
	StatusSupportsColor = "supports_color"
)

// Status holds capability specific attributes of one device.
type Status map[string]any

func (s Status) Float(key string) (float64, bool) {
	switch v := s[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func (s Status) Int(key string) (int, bool) {
	f, ok := s.Float(key)
	if !ok {
		return 0, false
	}
	return int(math.Round(f)), true
}

func (s Status) Bool(key string) (bool, bool) {
	switch v := s[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	default:
		return false, false
	}
}

func (s Status) String(key string) (string, bool) {
	v, ok := s[key].(string)
	return v, ok
}

// DeviceInfo is descriptive metadata about the physical device.
type DeviceInfo struct {
	Model           string `json:"model,omitempty"`
	Manufacturer    string `json:"manufacturer,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	Online          bool   `json:"online"`
	BatteryLevel    *int   `json:"battery_level,omitempty"`
}

// DeviceRecord is one normalized device in the catalog.
type DeviceRecord struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Capability  Capability `json:"capability"`
	VendorType  string     `json:"vendor_type"`
	ParentID    string     `json:"parent_id,omitempty"`
	Status      Status     `json:"status"`
	Info        DeviceInfo `json:"device_info"`
}

// UniqueID is the stable identity used for entity registration.
func (d DeviceRecord) UniqueID() string {
	return d.ID + "-" + d.VendorType
}

// SessionInfo summarizes the session for API consumers.
type SessionInfo struct {
	State         string     `json:"state"`
	Username      string     `json:"username,omitempty"`
	LastRefreshed *time.Time `json:"last_refreshed,omitempty"`
	ScanInterval  int        `json:"scan_interval"`
	Devices       int        `json:"devices"`
}
