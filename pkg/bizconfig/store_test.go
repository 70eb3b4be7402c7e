package bizconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-finsight/pkg/cache"
	"github.com/ekaya-inc/ekaya-finsight/pkg/config"
	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

func newTestStore(t *testing.T) (*Store, *cache.MemoryStore, *FileBackend) {
	t.Helper()
	dir := t.TempDir()
	glPath := filepath.Join(dir, "gl.csv")
	require.NoError(t, os.WriteFile(glPath, []byte(glCSV), 0o644))

	tenant := config.TenantConfig{
		ClientID:      "arizona_beverages",
		DatasetID:     "finance",
		GLMappingPath: glPath,
		TimeColumn:    "Posting_Date",
		RevenueColumn: "Gross_Revenue",
		AmountColumn:  "GL_Amount_in_CC",
	}
	mem := cache.NewMemoryStore()
	backend := NewFileBackend(filepath.Join(dir, "configs"))
	return NewStore(mem, backend, tenant, zap.NewNop()), mem, backend
}

func TestStore_LoadMaterializesDefaultsAndPersists(t *testing.T) {
	ctx := context.Background()
	store, mem, backend := newTestStore(t)

	cfg, err := store.Load(ctx, "arizona_beverages", "finance")
	require.NoError(t, err)
	assert.Len(t, cfg.GLAccounts, 2)
	assert.Equal(t, "Posting_Date", cfg.TimeColumn)
	assert.True(t, cfg.IsActive)

	_, err = os.Stat(backend.Path("arizona_beverages", "finance"))
	assert.NoError(t, err)

	ok, err := mem.Exists(ctx, CacheKey("arizona_beverages", "finance"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mem, _ := newTestStore(t)

	cfg, err := store.Load(ctx, "arizona_beverages", "finance")
	require.NoError(t, err)
	cfg.Rules = append(cfg.Rules, models.BusinessRule{ID: "r1", Type: models.RuleTypeValidation, Formula: "x > 0", IsActive: true})
	require.NoError(t, store.Save(ctx, cfg))

	// Drop the cache so the next load comes from the JSON file.
	require.NoError(t, mem.Delete(ctx, CacheKey("arizona_beverages", "finance")))

	loaded, err := store.Load(ctx, "arizona_beverages", "finance")
	require.NoError(t, err)
	assert.Equal(t, cfg.GLAccounts, loaded.GLAccounts)
	assert.Equal(t, cfg.Rules, loaded.Rules)
	assert.Equal(t, cfg.Dimensions, loaded.Dimensions)
	assert.True(t, cfg.UpdatedAt.Equal(loaded.UpdatedAt))
}

func TestStore_SaveBumpsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	cfg := &models.BusinessConfiguration{ClientID: "c", DatasetID: "d"}
	require.NoError(t, store.Save(ctx, cfg))
	assert.Equal(t, fixed, cfg.UpdatedAt)
	assert.Equal(t, fixed, cfg.CreatedAt)
}

func TestStore_LoadFailsWithoutAnySource(t *testing.T) {
	store := NewStore(nil, NewFileBackend(t.TempDir()), config.TenantConfig{GLMappingPath: "/nonexistent/gl.csv"}, zap.NewNop())

	_, err := store.Load(context.Background(), "nobody", "finance")
	assert.ErrorIs(t, err, apperrors.ErrConfigLoad)
}

func TestStore_GetActiveLoadsConfiguredTenant(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	cfg, err := store.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "arizona_beverages", cfg.ClientID)

	other := &models.BusinessConfiguration{ClientID: "other"}
	store.SetActive(other)
	got, err := store.GetActive(ctx)
	require.NoError(t, err)
	assert.Same(t, other, got)
}

func TestStore_Rules(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	_, err := store.AddRule(ctx, "arizona_beverages", "finance", models.BusinessRule{ID: "late", Type: models.RuleTypeCalculation, Priority: 9, IsActive: true})
	require.NoError(t, err)
	cfg, err := store.AddRule(ctx, "arizona_beverages", "finance", models.BusinessRule{ID: "early", Type: models.RuleTypeCalculation, Priority: 1, IsActive: true})
	require.NoError(t, err)

	rules := ActiveRules(cfg, models.RuleTypeCalculation)
	require.Len(t, rules, 2)
	assert.Equal(t, "early", rules[0].ID)

	_, err = store.AddRule(ctx, "arizona_beverages", "finance", models.BusinessRule{ID: "early", Type: models.RuleTypeCalculation})
	assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)

	_, err = store.AddRule(ctx, "arizona_beverages", "finance", models.BusinessRule{ID: "neg", Priority: -1})
	assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)

	require.NoError(t, store.DeactivateRule(ctx, "arizona_beverages", "finance", "late"))
	cfg, err = store.Load(ctx, "arizona_beverages", "finance")
	require.NoError(t, err)
	assert.Len(t, cfg.Rules, 2)
	assert.Len(t, ActiveRules(cfg, models.RuleTypeCalculation), 1)

	assert.ErrorIs(t, store.DeactivateRule(ctx, "arizona_beverages", "finance", "missing"), apperrors.ErrNotFound)
}
