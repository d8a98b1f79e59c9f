package catalog

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/micro-ha/hive-bridge/internal/hiveapi"
	"github.com/micro-ha/hive-bridge/internal/model"
)

type typeSpec struct {
	capability model.Capability
	status     func(node hiveapi.Node) model.Status
}

var productTypes = map[string]typeSpec{
	"heating":             {model.CapabilityClimate, climateStatus},
	"trvcontrol":          {model.CapabilityClimate, climateStatus},
	"hotwater":            {model.CapabilityWaterHeater, waterHeaterStatus},
	"activeplug":          {model.CapabilitySwitch, plugStatus},
	"warmwhitelight":      {model.CapabilityLight, lightStatus},
	"tuneablelight":       {model.CapabilityLight, lightStatus},
	"colourtuneablelight": {model.CapabilityLight, lightStatus},
	"motionsensor":        {model.CapabilityBinarySensor, motionStatus},
	"contactsensor":       {model.CapabilityBinarySensor, contactStatus},
	"alarm":               {model.CapabilityAlarm, alarmStatus},
	"sense":               {model.CapabilityHub, senseStatus},
}

var deviceTypes = map[string]typeSpec{
	"hub":          {model.CapabilityHub, hubStatus},
	"thermostatui": {model.CapabilitySensor, batteryStatus},
	"trv":          {model.CapabilitySensor, batteryStatus},
}

const (
	defaultMinTemp = 5.0
	defaultMaxTemp = 32.0
)

func climateStatus(node hiveapi.Node) model.Status {
	status := model.Status{
		model.StatusMode:    strings.ToUpper(str(node.State["mode"])),
		model.StatusHeating: node.Props["working"] == true,
		model.StatusMinTemp: numOr(node.Props["minHeat"], defaultMinTemp),
		model.StatusMaxTemp: numOr(node.Props["maxHeat"], defaultMaxTemp),
	}
	if current, ok := num(node.Props["temperature"]); ok {
		status[model.StatusCurrentTemp] = math.Round(current*10) / 10
	}
	if target, ok := num(node.State["target"]); ok {
		status[model.StatusTargetTemp] = target
	}
	applyBoost(status, node)
	return status
}

func waterHeaterStatus(node hiveapi.Node) model.Status {
	status := model.Status{
		model.StatusMode:  strings.ToUpper(str(node.State["mode"])),
		model.StatusState: strings.EqualFold(str(node.State["status"]), "ON") || node.Props["working"] == true,
	}
	applyBoost(status, node)
	return status
}

// applyBoost records boost state and the mode to return to afterwards.
func applyBoost(status model.Status, node hiveapi.Node) {
	minutes, hasMinutes := num(node.State["boost"])
	boosting := status[model.StatusMode] == "BOOST" || (hasMinutes && minutes > 0)
	status[model.StatusBoost] = boosting
	if hasMinutes && minutes > 0 {
		status[model.StatusBoostMinutes] = int(minutes)
	}
	if previous, ok := node.Props["previous"].(map[string]any); ok {
		if mode := strings.ToUpper(str(previous["mode"])); mode != "" {
			status[model.StatusPreviousMode] = mode
		}
	}
}

func plugStatus(node hiveapi.Node) model.Status {
	status := model.Status{model.StatusState: isOn(node.State["status"])}
	if power, ok := num(node.Props["powerConsumption"]); ok {
		status[model.StatusPowerUsage] = power
	}
	return status
}

func lightStatus(node hiveapi.Node) model.Status {
	status := model.Status{
		model.StatusState:         isOn(node.State["status"]),
		model.StatusSupportsColor: node.Type == "colourtuneablelight",
	}
	if brightness, ok := num(node.State["brightness"]); ok {
		status[model.StatusBrightness] = int(brightness)
	}
	if node.Type != "warmwhitelight" {
		if kelvin, ok := num(node.State["colourTemperature"]); ok {
			status[model.StatusColorTemp] = int(kelvin)
		}
	}
	if node.Type == "colourtuneablelight" {
		if hue, ok := num(node.State["hue"]); ok {
			status[model.StatusHue] = int(hue)
		}
		if saturation, ok := num(node.State["saturation"]); ok {
			status[model.StatusSaturation] = int(saturation)
		}
	}
	return status
}

func motionStatus(node hiveapi.Node) model.Status {
	motion, _ := node.Props["motion"].(map[string]any)
	return model.Status{
		model.StatusState:      motion["status"] == true,
		model.StatusSensorKind: "motion",
	}
}

func contactStatus(node hiveapi.Node) model.Status {
	return model.Status{
		model.StatusState:      strings.EqualFold(str(node.Props["status"]), "OPEN"),
		model.StatusSensorKind: "opening",
	}
}

func alarmStatus(node hiveapi.Node) model.Status {
	return model.Status{
		model.StatusMode:      strings.ToLower(str(node.State["mode"])),
		model.StatusTriggered: node.Props["triggered"] == true || node.State["alarmActive"] == true,
	}
}

func batteryStatus(node hiveapi.Node) model.Status {
	status := model.Status{
		model.StatusSensorKind: "battery",
		model.StatusLabel:      "battery",
		model.StatusUnit:       "%",
	}
	if battery, ok := num(node.Props["battery"]); ok {
		status[model.StatusState] = int(battery)
	}
	return status
}

func hubStatus(node hiveapi.Node) model.Status {
	return model.Status{model.StatusOnline: node.Props["online"] == true}
}

// senseStatus keeps the hub's online flag and the raw event sensor map.
func senseStatus(node hiveapi.Node) model.Status {
	status := hubStatus(node)
	sensors, _ := node.Props["sensors"].(map[string]any)
	for key, raw := range sensors {
		sensor, _ := raw.(map[string]any)
		status[strings.ToLower(key)] = sensor["active"] == true
	}
	return status
}

func isOn(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "ON")
	default:
		return false
	}
}

func num(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func numOr(v any, def float64) float64 {
	if f, ok := num(v); ok {
		return f
	}
	return def
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		if v == nil {
			return ""
		}
		return fmt.Sprintf("%v", v)
	}
}
