package warm

import (
	"context"
	"fmt"

	"github.com/c360/tiercache/errors"
	"github.com/c360/tiercache/store"
)

// validateConfig checks the fields the engine depends on. Query function
// names are not resolved here: configs may be created before the process
// that registers their function starts.
func validateConfig(cfg *store.WarmingConfig) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Warmer", "validateConfig", "config cannot be nil")
	}
	if cfg.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Warmer", "validateConfig", "name is required")
	}
	if cfg.KeyPattern == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Warmer", "validateConfig",
			fmt.Sprintf("%s: key_pattern is required", cfg.Name))
	}
	if cfg.QueryFunction == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Warmer", "validateConfig",
			fmt.Sprintf("%s: query_function is required", cfg.Name))
	}
	if cfg.WarmOnSchedule && cfg.ScheduleInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Warmer", "validateConfig",
			fmt.Sprintf("%s: schedule_interval must be positive when warm_on_schedule is set", cfg.Name))
	}
	return nil
}

// CreateConfig registers a new warming config; names are unique
func (w *Warmer) CreateConfig(ctx context.Context, cfg *store.WarmingConfig) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}
	if err := w.store.CreateWarmingConfig(ctx, cfg); err != nil {
		return errors.Wrap(err, "Warmer", "CreateConfig", cfg.Name)
	}

	w.logger.Info("warming config created",
		"job", cfg.Name,
		"query_function", cfg.QueryFunction,
		"schedule_interval", cfg.ScheduleInterval)
	return nil
}

// UpdateConfig replaces an existing warming config
func (w *Warmer) UpdateConfig(ctx context.Context, cfg *store.WarmingConfig) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}
	if err := w.store.UpdateWarmingConfig(ctx, cfg); err != nil {
		return errors.Wrap(err, "Warmer", "UpdateConfig", cfg.Name)
	}

	w.logger.Info("warming config updated", "job", cfg.Name)
	return nil
}

// GetConfig fetches one warming config by name
func (w *Warmer) GetConfig(ctx context.Context, name string) (*store.WarmingConfig, error) {
	cfg, err := w.store.GetWarmingConfig(ctx, name)
	if err != nil {
		return nil, errors.Wrap(err, "Warmer", "GetConfig", name)
	}
	return cfg, nil
}

// DeleteConfig removes a warming config
func (w *Warmer) DeleteConfig(ctx context.Context, name string) error {
	if err := w.store.DeleteWarmingConfig(ctx, name); err != nil {
		return errors.Wrap(err, "Warmer", "DeleteConfig", name)
	}

	w.logger.Info("warming config deleted", "job", name)
	return nil
}

// ListConfigs returns all warming configs in descending priority order
func (w *Warmer) ListConfigs(ctx context.Context) ([]*store.WarmingConfig, error) {
	configs, err := w.store.ListWarmingConfigs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Warmer", "ListConfigs", "list")
	}
	return configs, nil
}
