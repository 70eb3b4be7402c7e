// Package bizconfig loads, caches, persists and validates tenant business configuration.
package bizconfig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-finsight/pkg/cache"
	"github.com/ekaya-inc/ekaya-finsight/pkg/config"
	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

// CacheTTL is how long a configuration stays in the shared cache.
const CacheTTL = 24 * time.Hour

// CacheKey is the shared-cache key for a tenant configuration.
func CacheKey(clientID, datasetID string) string {
	return "bizconfig:" + models.ConfigKey(clientID, datasetID)
}

// Store is the tenant configuration store.
type Store struct {
	cache   cache.Store
	backend Backend
	tenant  config.TenantConfig
	logger  *zap.Logger
	now     func() time.Time

	activeMu sync.Mutex
	active   *models.BusinessConfiguration
}

// NewStore creates a Store. cacheStore may be nil, in which case only the backend is used.
func NewStore(cacheStore cache.Store, backend Backend, tenant config.TenantConfig, logger *zap.Logger) *Store {
	return &Store{
		cache:   cacheStore,
		backend: backend,
		tenant:  tenant,
		logger:  logger.Named("bizconfig"),
		now:     time.Now,
	}
}

// Load returns the configuration for a tenant: cache, then backend, then
// defaults built from the tabular sources (which are persisted).
func (s *Store) Load(ctx context.Context, clientID, datasetID string) (*models.BusinessConfiguration, error) {
	key := CacheKey(clientID, datasetID)
	if s.cache != nil {
		var cfg models.BusinessConfiguration
		err := cache.GetJSON(ctx, s.cache, key, &cfg)
		if err == nil {
			return &cfg, nil
		}
		if !cache.IsMiss(err) {
			s.logger.Warn("Config cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	cfg, err := s.backend.Get(ctx, clientID, datasetID)
	if err == nil {
		s.setCache(ctx, cfg)
		return cfg, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		s.logger.Warn("Config backend read failed", zap.String("client_id", clientID), zap.Error(err))
	}

	cfg, defErr := s.BuildDefaults(clientID, datasetID)
	if defErr != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", apperrors.ErrConfigLoad, clientID, datasetID, defErr)
	}
	if err := s.Save(ctx, cfg); err != nil {
		s.logger.Error("Failed to persist default configuration", zap.String("client_id", clientID), zap.Error(err))
	}
	s.logger.Info("Materialized default configuration",
		zap.String("client_id", clientID),
		zap.String("dataset_id", datasetID),
		zap.Int("gl_accounts", len(cfg.GLAccounts)))
	return cfg, nil
}

// Save persists cfg, bumps UpdatedAt and refreshes the cache.
func (s *Store) Save(ctx context.Context, cfg *models.BusinessConfiguration) error {
	cfg.UpdatedAt = s.now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = cfg.UpdatedAt
	}
	if err := s.backend.Upsert(ctx, cfg); err != nil {
		return fmt.Errorf("failed to save configuration %s: %w", cfg.Key(), err)
	}
	s.setCache(ctx, cfg)
	return nil
}

func (s *Store) setCache(ctx context.Context, cfg *models.BusinessConfiguration) {
	if s.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, s.cache, CacheKey(cfg.ClientID, cfg.DatasetID), cfg, CacheTTL); err != nil {
		s.logger.Warn("Config cache write failed", zap.String("key", cfg.Key()), zap.Error(err))
	}
}

// BuildDefaults materializes a configuration from the tenant's GL and material sheets.
func (s *Store) BuildDefaults(clientID, datasetID string) (*models.BusinessConfiguration, error) {
	accounts, err := LoadGLMappingFile(s.tenant.GLMappingPath)
	if err != nil {
		return nil, err
	}

	material := models.NewMaterialGroupHierarchy()
	if s.tenant.MaterialHierarchyPath != "" {
		if _, statErr := os.Stat(s.tenant.MaterialHierarchyPath); statErr == nil {
			material, err = LoadMaterialHierarchyFile(s.tenant.MaterialHierarchyPath)
			if err != nil {
				return nil, err
			}
		}
	}

	now := s.now().UTC()
	return &models.BusinessConfiguration{
		ClientID:          clientID,
		DatasetID:         datasetID,
		Version:           1,
		GLAccounts:        accounts,
		MaterialHierarchy: material,
		Dimensions:        defaultDimensions(),
		TimeColumn:        s.tenant.TimeColumn,
		RevenueColumn:     s.tenant.RevenueColumn,
		AmountColumn:      s.tenant.AmountColumn,
		CreatedAt:         now,
		UpdatedAt:         now,
		IsActive:          true,
	}, nil
}

func defaultDimensions() []models.DimensionConfig {
	return []models.DimensionConfig{
		{Name: "Region", Code: "region", DataType: "string"},
		{Name: "Product", Code: "product", DataType: "string"},
		{Name: "Customer", Code: "customer", DataType: "string"},
		{Name: "Department", Code: "department", DataType: "string"},
	}
}

// SetActive replaces the process-wide active configuration.
func (s *Store) SetActive(cfg *models.BusinessConfiguration) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	s.active = cfg
}

// GetActive returns the active configuration, loading the tenant named by
// CLIENT_ID/DATASET on first access.
func (s *Store) GetActive(ctx context.Context) (*models.BusinessConfiguration, error) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if s.active != nil {
		return s.active, nil
	}
	cfg, err := s.Load(ctx, s.tenant.ClientID, s.tenant.DatasetID)
	if err != nil {
		return nil, err
	}
	s.active = cfg
	return cfg, nil
}

// AddRule appends a rule to a tenant configuration and saves it.
// Rules are never removed; see DeactivateRule.
func (s *Store) AddRule(ctx context.Context, clientID, datasetID string, rule models.BusinessRule) (*models.BusinessConfiguration, error) {
	if rule.Priority < 0 {
		return nil, fmt.Errorf("%w: rule %s has negative priority", apperrors.ErrConfigInvalid, rule.ID)
	}
	cfg, err := s.Load(ctx, clientID, datasetID)
	if err != nil {
		return nil, err
	}
	for _, r := range cfg.Rules {
		if r.ID == rule.ID {
			return nil, fmt.Errorf("%w: rule %s already exists", apperrors.ErrConfigInvalid, rule.ID)
		}
	}
	cfg.Rules = append(cfg.Rules, rule)
	cfg.Version++
	if err := s.Save(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DeactivateRule marks a rule inactive.
func (s *Store) DeactivateRule(ctx context.Context, clientID, datasetID, ruleID string) error {
	cfg, err := s.Load(ctx, clientID, datasetID)
	if err != nil {
		return err
	}
	found := false
	for i := range cfg.Rules {
		if cfg.Rules[i].ID == ruleID {
			cfg.Rules[i].IsActive = false
			found = true
		}
	}
	if !found {
		return fmt.Errorf("rule %s: %w", ruleID, apperrors.ErrNotFound)
	}
	cfg.Version++
	return s.Save(ctx, cfg)
}

// ActiveRules returns cfg's active rules of a type, lowest priority first.
func ActiveRules(cfg *models.BusinessConfiguration, typ models.RuleType) []models.BusinessRule {
	var out []models.BusinessRule
	for _, r := range cfg.Rules {
		if r.IsActive && r.Type == typ {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}
