package command

import (
	"math"
	"sort"
	"strings"

	"github.com/micro-ha/hive-bridge/internal/catalog"
	"github.com/micro-ha/hive-bridge/internal/hiveapi"
	"github.com/micro-ha/hive-bridge/internal/model"
)

const (
	TurnOn         = "turnOn"
	TurnOff        = "turnOff"
	SetMode        = "setMode"
	SetTemperature = "setTemperature"
	BoostOn        = "boostOn"
	BoostOff       = "boostOff"
	SetPreset      = "setPreset"
)

const (
	DefaultBoostTemperature = 25.0
	DefaultBoostMinutes     = 30
	fallbackMode            = "SCHEDULE"
)

type builder func(rec model.DeviceRecord, p Params) ([]hiveapi.Mutation, error)

type definition struct {
	params []ParamField
	build  builder
}

var (
	climateModes = modeSet{options: []string{"SCHEDULE", "MANUAL", "OFF"}, aliases: map[string]string{"auto": "SCHEDULE", "heat": "MANUAL"}}
	waterModes   = modeSet{options: []string{"SCHEDULE", "ON", "OFF"}, aliases: map[string]string{"eco": "SCHEDULE", "manual": "ON"}}
	alarmModes   = modeSet{options: []string{"home", "asleep", "away"}, aliases: map[string]string{"disarmed": "home", "armed_night": "asleep", "armed_away": "away"}}
)

var definitions = map[string]map[model.Capability]definition{
	TurnOn: {
		model.CapabilitySwitch:      {build: switchPower(true)},
		model.CapabilityLight:       {params: lightParams, build: lightOn},
		model.CapabilityClimate:     {build: restoreMode},
		model.CapabilityWaterHeater: {build: fixedMode("ON")},
	},
	TurnOff: {
		model.CapabilitySwitch:      {build: switchPower(false)},
		model.CapabilityLight:       {build: fixedStatus("OFF")},
		model.CapabilityClimate:     {build: fixedMode("OFF")},
		model.CapabilityWaterHeater: {build: fixedMode("OFF")},
	},
	SetMode: {
		model.CapabilityClimate:     climateModes.definition(),
		model.CapabilityWaterHeater: waterModes.definition(),
		model.CapabilityAlarm:       alarmModes.definition(),
	},
	SetTemperature: {
		model.CapabilityClimate: {
			params: []ParamField{{Key: "temperature", Kind: ParamNumber, Required: true}},
			build:  setTarget,
		},
	},
	BoostOn: {
		model.CapabilityClimate: {
			params: []ParamField{
				{Key: "minutes", Kind: ParamInt, Default: float64(DefaultBoostMinutes), Min: bound(1)},
				{Key: "temperature", Kind: ParamNumber, Default: DefaultBoostTemperature},
			},
			build: heatingBoost,
		},
		model.CapabilityWaterHeater: {
			params: []ParamField{{Key: "minutes", Kind: ParamInt, Default: float64(DefaultBoostMinutes), Min: bound(1)}},
			build:  waterBoost,
		},
	},
	BoostOff: {
		model.CapabilityClimate:     {build: boostOff},
		model.CapabilityWaterHeater: {build: boostOff},
	},
	SetPreset: {
		model.CapabilityClimate: {
			params: []ParamField{{Key: "preset", Kind: ParamEnum, Required: true, Options: []string{PresetBoost, PresetNone}}},
			build:  setPreset,
		},
	},
}

const (
	PresetBoost = "boost"
	PresetNone  = "none"
)

var lightParams = []ParamField{
	{Key: "brightness", Kind: ParamInt, Min: bound(5), Max: bound(100)},
	{Key: "color_temp", Kind: ParamInt, Min: bound(2000), Max: bound(6535)},
	{Key: "hue", Kind: ParamInt, Min: bound(0), Max: bound(360)},
	{Key: "saturation", Kind: ParamInt, Min: bound(0), Max: bound(100)},
}

// Commands lists the command names a capability accepts.
func Commands(capability model.Capability) []string {
	out := make([]string, 0, len(definitions))
	for name, byCapability := range definitions {
		if _, ok := byCapability[capability]; ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func lookup(name string, capability model.Capability) (definition, bool) {
	byCapability, ok := definitions[name]
	if !ok {
		return definition{}, false
	}
	def, ok := byCapability[capability]
	return def, ok
}

type modeSet struct {
	options []string
	aliases map[string]string
}

func (s modeSet) definition() definition {
	options := append([]string(nil), s.options...)
	for alias := range s.aliases {
		options = append(options, alias)
	}
	return definition{
		params: []ParamField{{Key: "mode", Kind: ParamEnum, Required: true, Options: options}},
		build: func(rec model.DeviceRecord, p Params) ([]hiveapi.Mutation, error) {
			mode, _ := p.String("mode")
			if canonical, ok := s.aliases[mode]; ok {
				mode = canonical
			}
			return nodeBody(rec, map[string]any{"mode": mode}), nil
		},
	}
}

func nodeBody(rec model.DeviceRecord, body map[string]any) []hiveapi.Mutation {
	return []hiveapi.Mutation{hiveapi.NodeUpdate(rec.VendorType, rec.ID, body)}
}

func switchPower(on bool) builder {
	return func(rec model.DeviceRecord, _ Params) ([]hiveapi.Mutation, error) {
		if rec.VendorType == catalog.ActionVendorType {
			return []hiveapi.Mutation{hiveapi.ActionUpdate(rec.ID, on)}, nil
		}
		status := "OFF"
		if on {
			status = "ON"
		}
		return nodeBody(rec, map[string]any{"status": status}), nil
	}
}

func fixedStatus(status string) builder {
	return func(rec model.DeviceRecord, _ Params) ([]hiveapi.Mutation, error) {
		return nodeBody(rec, map[string]any{"status": status}), nil
	}
}

func fixedMode(mode string) builder {
	return func(rec model.DeviceRecord, _ Params) ([]hiveapi.Mutation, error) {
		return nodeBody(rec, map[string]any{"mode": mode}), nil
	}
}

func restoreMode(rec model.DeviceRecord, _ Params) ([]hiveapi.Mutation, error) {
	return nodeBody(rec, map[string]any{"mode": previousMode(rec, "OFF")}), nil
}

// previousMode is the mode to return to after a boost. Modes listed in
// exclude, BOOST and unknown values fall back to SCHEDULE.
func previousMode(rec model.DeviceRecord, exclude ...string) string {
	mode, _ := rec.Status.String(model.StatusPreviousMode)
	mode = strings.ToUpper(mode)
	if mode == "" || mode == "BOOST" {
		return fallbackMode
	}
	for _, excluded := range exclude {
		if mode == excluded {
			return fallbackMode
		}
	}
	return mode
}

func lightOn(rec model.DeviceRecord, p Params) ([]hiveapi.Mutation, error) {
	body := map[string]any{"status": "ON"}
	if brightness, ok := p.Int("brightness"); ok {
		body["brightness"] = brightness
	}
	if kelvin, ok := p.Int("color_temp"); ok {
		if rec.VendorType == "warmwhitelight" {
			return nil, &ValidationError{Field: "color_temp", Message: "is not supported by this light"}
		}
		body["colourMode"] = "WHITE"
		body["colourTemperature"] = kelvin
	}
	hue, hasHue := p.Int("hue")
	saturation, hasSaturation := p.Int("saturation")
	if hasHue || hasSaturation {
		if supports, _ := rec.Status.Bool(model.StatusSupportsColor); !supports {
			return nil, &ValidationError{Field: "hue", Message: "is not supported by this light"}
		}
		if hasHue != hasSaturation {
			return nil, &ValidationError{Message: "hue and saturation must be set together"}
		}
		if _, ok := body["colourMode"]; ok {
			return nil, &ValidationError{Message: "color_temp and hue are mutually exclusive"}
		}
		body["colourMode"] = "COLOUR"
		body["hue"] = hue
		body["saturation"] = saturation
		body["value"] = 100
	}
	return nodeBody(rec, body), nil
}

func setTarget(rec model.DeviceRecord, p Params) ([]hiveapi.Mutation, error) {
	target, _ := p.Float("temperature")
	if err := checkTemperature(rec, target); err != nil {
		return nil, err
	}
	return nodeBody(rec, map[string]any{"target": target}), nil
}

func checkTemperature(rec model.DeviceRecord, target float64) error {
	if lowest, ok := rec.Status.Float(model.StatusMinTemp); ok && target < lowest {
		return &ValidationError{Field: "temperature", Message: "is below the device minimum"}
	}
	if highest, ok := rec.Status.Float(model.StatusMaxTemp); ok && target > highest {
		return &ValidationError{Field: "temperature", Message: "is above the device maximum"}
	}
	return nil
}

func heatingBoost(rec model.DeviceRecord, p Params) ([]hiveapi.Mutation, error) {
	minutes, _ := p.Int("minutes")
	target, _ := p.Float("temperature")
	if err := checkTemperature(rec, target); err != nil {
		return nil, err
	}
	return nodeBody(rec, map[string]any{"mode": "BOOST", "boost": minutes, "target": target}), nil
}

func waterBoost(rec model.DeviceRecord, p Params) ([]hiveapi.Mutation, error) {
	minutes, _ := p.Int("minutes")
	return nodeBody(rec, map[string]any{"mode": "BOOST", "boost": minutes}), nil
}

// boostOff is a no-op unless a boost is running.
func boostOff(rec model.DeviceRecord, _ Params) ([]hiveapi.Mutation, error) {
	if boosting, _ := rec.Status.Bool(model.StatusBoost); !boosting {
		return nil, nil
	}
	return nodeBody(rec, map[string]any{"mode": previousMode(rec)}), nil
}

// setPreset maps the climate presets onto boost. The boost preset heats to
// half a degree above the current reading, rounded to the nearest half.
func setPreset(rec model.DeviceRecord, p Params) ([]hiveapi.Mutation, error) {
	preset, _ := p.String("preset")
	if preset == PresetNone {
		return boostOff(rec, p)
	}
	return nodeBody(rec, map[string]any{
		"mode":   "BOOST",
		"boost":  DefaultBoostMinutes,
		"target": presetBoostTarget(rec),
	}), nil
}

func presetBoostTarget(rec model.DeviceRecord) float64 {
	current, ok := rec.Status.Float(model.StatusCurrentTemp)
	if !ok {
		return DefaultBoostTemperature
	}
	target := math.Round(current*2)/2 + 0.5
	if lowest, ok := rec.Status.Float(model.StatusMinTemp); ok && target < lowest {
		target = lowest
	}
	if highest, ok := rec.Status.Float(model.StatusMaxTemp); ok && target > highest {
		target = highest
	}
	return target
}
