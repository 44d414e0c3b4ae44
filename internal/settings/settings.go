// Package settings exposes process-wide key/value settings.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"bintrade-core/internal/apperr"
	"bintrade-core/internal/store"
)

// Well-known keys.
const (
	MinDeposit              = "min_deposit"
	MinWithdraw             = "min_withdraw"
	MinTradeAmount          = "min_trade_amount"
	DefaultProfitPercentage = "default_profit_percentage"
)

// Service reads settings at request time. Writes are last-writer-wins.
type Service struct {
	store store.Settings
}

// New creates a settings service.
func New(s store.Settings) *Service {
	return &Service{store: s}
}

// Get returns the value for key and whether it is set.
func (s *Service) Get(ctx context.Context, key string) (string, bool, error) {
	return s.store.GetSetting(ctx, key)
}

// Set stores a value.
func (s *Service) Set(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return apperr.Validation("setting key is required")
	}
	if err := s.store.SaveSetting(ctx, key, value); err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	return nil
}

// All returns every stored setting.
func (s *Service) All(ctx context.Context) (map[string]string, error) {
	return s.store.ListSettings(ctx)
}

// Decimal returns the numeric value of key, or def when unset or unparseable.
func (s *Service) Decimal(ctx context.Context, key string, def decimal.Decimal) decimal.Decimal {
	raw, ok, err := s.store.GetSetting(ctx, key)
	if err != nil || !ok || strings.TrimSpace(raw) == "" {
		return def
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("⚠️ [SETTINGS] %s=%q is not numeric, using %s", key, raw, def)
		return def
	}
	return d
}

// Seed loads a flat YAML map from path and stores the keys that are not already set.
// A missing file is not an error.
func (s *Service) Seed(ctx context.Context, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read settings seed: %w", err)
	}
	return s.SeedYAML(ctx, raw)
}

// SeedYAML is Seed for in-memory YAML content.
func (s *Service) SeedYAML(ctx context.Context, raw []byte) (int, error) {
	var values map[string]string
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return 0, fmt.Errorf("parse settings seed: %w", err)
	}
	seeded := 0
	for k, v := range values {
		if _, ok, err := s.store.GetSetting(ctx, k); err != nil {
			return seeded, err
		} else if ok {
			continue
		}
		if err := s.store.SaveSetting(ctx, k, v); err != nil {
			return seeded, err
		}
		seeded++
	}
	return seeded, nil
}
