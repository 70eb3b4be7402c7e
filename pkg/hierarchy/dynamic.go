package hierarchy

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/registry"
)

// ConfigLoader resolves a tenant's business configuration.
type ConfigLoader interface {
	Load(ctx context.Context, clientID, datasetID string) (*models.BusinessConfiguration, error)
}

// Deps wires a tenant hierarchy to its mapping sources.
type Deps struct {
	Registry  *registry.Registry
	Loader    ConfigLoader
	DatasetID string
	Options   Options
	// Overrides is applied after the tenant mapping, when set.
	Overrides *Overrides
}

// NewDynamic builds a hierarchy whose buckets carry the tenant's real GL
// accounts. When no mapping can be obtained the default ranges stay in effect.
func NewDynamic(ctx context.Context, clientID string, deps Deps, logger *zap.Logger) (*Hierarchy, error) {
	h := NewStatic(deps.Options, logger)
	h.clientID = clientID
	h.registry = deps.Registry
	if h.registry == nil {
		h.registry = registry.New(logger)
	}

	if !h.registry.HasMappings(clientID) && deps.Loader != nil {
		cfg, err := deps.Loader.Load(ctx, clientID, deps.DatasetID)
		if err != nil {
			h.logger.Warn("No GL mapping for tenant, using default account ranges",
				zap.String("client_id", clientID), zap.Error(err))
		} else {
			h.registry.RegisterConfiguration(cfg)
			h.applyColumns(cfg)
		}
	}

	if h.registry.HasMappings(clientID) {
		h.applyTenantBuckets()
	}
	if deps.Overrides != nil {
		h.applyOverrides(deps.Overrides)
	}
	h.regenerateFormulas()
	return h, nil
}

func (h *Hierarchy) applyColumns(cfg *models.BusinessConfiguration) {
	if cfg.TimeColumn != "" {
		h.opts.Columns.Time = cfg.TimeColumn
	}
	if cfg.RevenueColumn != "" {
		h.opts.Columns.Revenue = cfg.RevenueColumn
	}
	if cfg.AmountColumn != "" {
		h.opts.Columns.Amount = cfg.AmountColumn
	}
}

func matchPattern(pattern, bucketID string) (exact, wildcard bool) {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return false, strings.HasPrefix(bucketID, prefix)
	}
	return pattern == bucketID, false
}

// l2ForTenantBucket picks the L2 buckets a tenant bucket feeds. Exact source
// matches win; a wildcard only applies when its L1 parent is not already
// covered by an exact match; names are consulted when nothing matched.
func (h *Hierarchy) l2ForTenantBucket(bucketID, bucketName string) []string {
	id := strings.ToUpper(bucketID)
	var exact, wild []string
	for _, code := range h.bucketOrder {
		for _, p := range h.buckets[code].SourceBuckets {
			e, w := matchPattern(strings.ToUpper(p), id)
			if e {
				exact = append(exact, code)
				break
			}
			if w {
				wild = append(wild, code)
				break
			}
		}
	}

	covered := make(map[string]bool)
	for _, code := range exact {
		covered[h.buckets[code].ParentMetric] = true
	}
	out := append([]string(nil), exact...)
	for _, code := range wild {
		if !covered[h.buckets[code].ParentMetric] {
			out = append(out, code)
		}
	}
	if len(out) > 0 {
		return out
	}

	name := strings.ToLower(bucketName)
	for _, alias := range bucketNameAliases {
		if strings.Contains(name, alias.substr) {
			return []string{alias.l2}
		}
	}
	return nil
}

// applyTenantBuckets replaces each L2 bucket's accounts with the tenant's.
// Default ranges are dropped so unmapped buckets contribute nothing.
func (h *Hierarchy) applyTenantBuckets() {
	assigned := make(map[string][]string)
	tenantBuckets := h.registry.GetAllBuckets(h.clientID)
	ids := make([]string, 0, len(tenantBuckets))
	for id := range tenantBuckets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var unmapped []string
	for _, id := range ids {
		targets := h.l2ForTenantBucket(id, tenantBuckets[id])
		if len(targets) == 0 {
			unmapped = append(unmapped, id)
			continue
		}
		accounts := h.registry.GetGLAccountsForBucket(h.clientID, id)
		for _, l2 := range targets {
			assigned[l2] = append(assigned[l2], accounts...)
		}
	}

	for _, code := range h.bucketOrder {
		accts := assigned[code]
		sort.Strings(accts)
		h.buckets[code].GLAccounts = accts
		h.buckets[code].GLAccountRanges = nil
	}
	if len(unmapped) > 0 {
		h.logger.Info("Tenant buckets not mapped to the financial hierarchy",
			zap.String("client_id", h.clientID), zap.Strings("buckets", unmapped))
	}
}
