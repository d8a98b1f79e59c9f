// Package command routes user commands from entities to vendor mutations.
package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/micro-ha/hive-bridge/internal/catalog"
	"github.com/micro-ha/hive-bridge/internal/hiveapi"
	"github.com/micro-ha/hive-bridge/internal/model"
)

// Session is the part of the session manager commands need.
type Session interface {
	Catalog() *catalog.Catalog
	Mutate(ctx context.Context, mutation hiveapi.Mutation) error
	RefreshAndNotify(ctx context.Context) error
}

type Dispatcher struct {
	session Session
	index   *LookupIndex
	logger  *slog.Logger
}

func NewDispatcher(session Session, index *LookupIndex, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{session: session, index: index, logger: logger}
}

// Execute runs name against the device behind entityID. After the vendor
// accepts the change the session is refreshed so observers see the new
// state. Vendor failures are returned as is and never retried here.
func (d *Dispatcher) Execute(ctx context.Context, entityID, name string, params map[string]any) error {
	return d.execute(ctx, entityID, name, "", params)
}

// BoostHeating boosts a climate entity for minutes at temperature. A nil
// temperature selects DefaultBoostTemperature.
func (d *Dispatcher) BoostHeating(ctx context.Context, entityID string, minutes int, temperature *float64) error {
	if minutes <= 0 {
		return &ValidationError{Field: "minutes", Message: "must be a positive integer"}
	}
	params := map[string]any{"minutes": float64(minutes)}
	if temperature != nil {
		params["temperature"] = *temperature
	}
	return d.execute(ctx, entityID, BoostOn, model.CapabilityClimate, params)
}

// BoostHotWater starts (mode "on") or cancels (mode "off") a hot water
// boost. Zero minutes selects DefaultBoostMinutes; empty mode means "on".
func (d *Dispatcher) BoostHotWater(ctx context.Context, entityID string, minutes int, mode string) error {
	if minutes < 0 {
		return &ValidationError{Field: "minutes", Message: "must be a positive integer"}
	}
	if minutes == 0 {
		minutes = DefaultBoostMinutes
	}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "on":
		return d.execute(ctx, entityID, BoostOn, model.CapabilityWaterHeater, map[string]any{"minutes": float64(minutes)})
	case "off":
		return d.execute(ctx, entityID, BoostOff, model.CapabilityWaterHeater, nil)
	default:
		return &ValidationError{Field: "mode", Message: fmt.Sprintf("has invalid value %q", mode)}
	}
}

func (d *Dispatcher) execute(ctx context.Context, entityID, name string, want model.Capability, raw map[string]any) error {
	deviceID, ok := d.index.Resolve(entityID)
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrUnknownEntity, entityID)
	}
	rec, err := d.session.Catalog().ByID(deviceID)
	if err != nil {
		return fmt.Errorf("entity %s: %w", entityID, err)
	}
	if want != "" && rec.Capability != want {
		return fmt.Errorf("%w: %s is a %s", model.ErrUnsupportedCommand, entityID, rec.Capability)
	}
	def, ok := lookup(name, rec.Capability)
	if !ok {
		return fmt.Errorf("%w: %s on %s", model.ErrUnsupportedCommand, name, rec.Capability)
	}
	params, err := validateParams(def.params, raw)
	if err != nil {
		return err
	}
	mutations, err := def.build(rec, params)
	if err != nil {
		return err
	}
	if len(mutations) == 0 {
		d.logger.Debug("command needs no change", "entity_id", entityID, "command", name)
		return nil
	}

	for _, mutation := range mutations {
		if err := d.session.Mutate(ctx, mutation); err != nil {
			d.logger.Warn("command failed", "entity_id", entityID, "command", name, "request", mutation.String(), "err", err)
			return fmt.Errorf("%s %s: %w", name, entityID, err)
		}
	}
	d.logger.Info("command applied", "entity_id", entityID, "device_id", rec.ID, "command", name)

	if err := d.session.RefreshAndNotify(ctx); err != nil {
		d.logger.Warn("refresh after command failed", "entity_id", entityID, "err", err)
	}
	return nil
}
