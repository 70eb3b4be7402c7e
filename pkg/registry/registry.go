// Package registry is the process-wide index over tenant business configuration.
//
// Readers load an immutable snapshot through an atomic pointer and never block.
// Writers copy the affected tenant, mutate the copy and publish a new snapshot
// under a mutex. The intended discipline is load at startup or on explicit
// refresh; concurrent writers for the same tenant are serialised but their
// relative order is undefined.
package registry

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

// MaxSearchResults caps SearchGLAccounts.
const MaxSearchResults = 100

type tenantIndex struct {
	accounts     map[string]*models.GLAccountMapping
	bucketAccts  map[string][]string // bucket_id -> accounts
	bucketByName map[string][]string // lower(bucket_name) -> accounts
	material     *models.MaterialGroupHierarchy
	rules        map[models.RuleType][]models.BusinessRule
	dimensions   map[string]models.DimensionConfig
}

func newTenantIndex() *tenantIndex {
	return &tenantIndex{
		accounts:     make(map[string]*models.GLAccountMapping),
		bucketAccts:  make(map[string][]string),
		bucketByName: make(map[string][]string),
		rules:        make(map[models.RuleType][]models.BusinessRule),
		dimensions:   make(map[string]models.DimensionConfig),
	}
}

// clone copies the maps; mapping values are shared since they are never mutated in place.
func (t *tenantIndex) clone() *tenantIndex {
	c := newTenantIndex()
	for k, v := range t.accounts {
		c.accounts[k] = v
	}
	for k, v := range t.bucketAccts {
		c.bucketAccts[k] = append([]string(nil), v...)
	}
	for k, v := range t.bucketByName {
		c.bucketByName[k] = append([]string(nil), v...)
	}
	for k, v := range t.rules {
		c.rules[k] = append([]models.BusinessRule(nil), v...)
	}
	for k, v := range t.dimensions {
		c.dimensions[k] = v
	}
	c.material = t.material
	return c
}

type snapshot map[string]*tenantIndex

// Registry indexes GL mappings, material hierarchies, rules and dimensions per tenant.
type Registry struct {
	current atomic.Pointer[snapshot]
	writeMu sync.Mutex
	logger  *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	r := &Registry{logger: logger.Named("registry")}
	empty := snapshot{}
	r.current.Store(&empty)
	return r
}

func (r *Registry) tenant(clientID string) *tenantIndex {
	return (*r.current.Load())[clientID]
}

// update applies fn to a private copy of clientID's index and publishes it.
func (r *Registry) update(clientID string, fn func(t *tenantIndex)) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	old := *r.current.Load()
	next := make(snapshot, len(old)+1)
	for k, v := range old {
		next[k] = v
	}

	var t *tenantIndex
	if existing, ok := old[clientID]; ok {
		t = existing.clone()
	} else {
		t = newTenantIndex()
	}
	fn(t)
	next[clientID] = t
	r.current.Store(&next)
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// RegisterGLMapping indexes m for clientID, replacing any previous mapping for the account.
func (r *Registry) RegisterGLMapping(clientID string, m *models.GLAccountMapping) {
	r.RegisterGLMappings(clientID, []*models.GLAccountMapping{m})
}

// RegisterGLMappings indexes a batch under one snapshot publication.
func (r *Registry) RegisterGLMappings(clientID string, mappings []*models.GLAccountMapping) {
	r.update(clientID, func(t *tenantIndex) {
		for _, m := range mappings {
			if prev, ok := t.accounts[m.AccountNumber]; ok {
				t.bucketAccts[prev.BucketID] = removeString(t.bucketAccts[prev.BucketID], prev.AccountNumber)
				name := strings.ToLower(prev.BucketName)
				t.bucketByName[name] = removeString(t.bucketByName[name], prev.AccountNumber)
			}
			t.accounts[m.AccountNumber] = m
			t.bucketAccts[m.BucketID] = append(t.bucketAccts[m.BucketID], m.AccountNumber)
			if m.BucketName != "" {
				name := strings.ToLower(m.BucketName)
				t.bucketByName[name] = append(t.bucketByName[name], m.AccountNumber)
			}
		}
	})
	r.logger.Debug("Registered GL mappings", zap.String("client_id", clientID), zap.Int("count", len(mappings)))
}

func (r *Registry) RegisterMaterialHierarchy(clientID string, h *models.MaterialGroupHierarchy) {
	r.update(clientID, func(t *tenantIndex) { t.material = h })
}

// RegisterBusinessRule appends rule; rules are kept sorted by priority.
func (r *Registry) RegisterBusinessRule(clientID string, rule models.BusinessRule) {
	r.update(clientID, func(t *tenantIndex) {
		rules := append(t.rules[rule.Type], rule)
		sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
		t.rules[rule.Type] = rules
	})
}

func (r *Registry) RegisterDimension(clientID string, dim models.DimensionConfig) {
	r.update(clientID, func(t *tenantIndex) { t.dimensions[dim.Code] = dim })
}

// RegisterConfiguration replaces everything known about cfg's tenant.
func (r *Registry) RegisterConfiguration(cfg *models.BusinessConfiguration) {
	r.ClearClientMappings(cfg.ClientID)

	mappings := make([]*models.GLAccountMapping, 0, len(cfg.GLAccounts))
	for _, m := range cfg.GLAccounts {
		mappings = append(mappings, m)
	}
	sort.Slice(mappings, func(i, j int) bool { return mappings[i].AccountNumber < mappings[j].AccountNumber })
	r.RegisterGLMappings(cfg.ClientID, mappings)

	r.update(cfg.ClientID, func(t *tenantIndex) {
		t.material = cfg.MaterialHierarchy
		for _, rule := range cfg.Rules {
			t.rules[rule.Type] = append(t.rules[rule.Type], rule)
		}
		for typ := range t.rules {
			rules := t.rules[typ]
			sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
		}
		for _, d := range cfg.Dimensions {
			t.dimensions[d.Code] = d
		}
	})
	r.logger.Info("Registered business configuration",
		zap.String("client_id", cfg.ClientID),
		zap.Int("gl_accounts", len(cfg.GLAccounts)),
		zap.Int("rules", len(cfg.Rules)))
}

// ClearClientMappings removes all indices for clientID.
func (r *Registry) ClearClientMappings(clientID string) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	old := *r.current.Load()
	if _, ok := old[clientID]; !ok {
		return
	}
	next := make(snapshot, len(old))
	for k, v := range old {
		if k != clientID {
			next[k] = v
		}
	}
	r.current.Store(&next)
}

// HasMappings reports whether any GL account is registered for clientID.
func (r *Registry) HasMappings(clientID string) bool {
	t := r.tenant(clientID)
	return t != nil && len(t.accounts) > 0
}

func (r *Registry) GetGLAccount(clientID, account string) (*models.GLAccountMapping, bool) {
	t := r.tenant(clientID)
	if t == nil {
		return nil, false
	}
	m, ok := t.accounts[account]
	return m, ok
}

// GetBucketForGL returns the bucket id for account, or "" if unknown.
func (r *Registry) GetBucketForGL(clientID, account string) string {
	if m, ok := r.GetGLAccount(clientID, account); ok {
		return m.BucketID
	}
	return ""
}

// GetGLAccountsForBucket returns the sorted accounts mapped to bucketID.
func (r *Registry) GetGLAccountsForBucket(clientID, bucketID string) []string {
	t := r.tenant(clientID)
	if t == nil {
		return nil
	}
	out := append([]string(nil), t.bucketAccts[bucketID]...)
	sort.Strings(out)
	return out
}

// GetGLAccountsForBucketName matches bucket names case-insensitively, ignoring surrounding space.
func (r *Registry) GetGLAccountsForBucketName(clientID, bucketName string) []string {
	t := r.tenant(clientID)
	if t == nil {
		return nil
	}
	out := append([]string(nil), t.bucketByName[strings.ToLower(strings.TrimSpace(bucketName))]...)
	sort.Strings(out)
	return out
}

// SearchGLAccounts does a case-insensitive substring search over account
// number, description and bucket name.
func (r *Registry) SearchGLAccounts(clientID, term string) []*models.GLAccountMapping {
	t := r.tenant(clientID)
	if t == nil {
		return nil
	}
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return nil
	}

	var out []*models.GLAccountMapping
	for _, m := range t.accounts {
		if strings.Contains(strings.ToLower(m.AccountNumber), needle) ||
			strings.Contains(strings.ToLower(m.Description), needle) ||
			strings.Contains(strings.ToLower(m.BucketName), needle) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountNumber < out[j].AccountNumber })
	if len(out) > MaxSearchResults {
		out = out[:MaxSearchResults]
	}
	return out
}

// GetAllBuckets returns bucket id -> bucket name for every bucket with at least one account.
func (r *Registry) GetAllBuckets(clientID string) map[string]string {
	t := r.tenant(clientID)
	out := make(map[string]string)
	if t == nil {
		return out
	}
	for id, accts := range t.bucketAccts {
		if len(accts) == 0 {
			continue
		}
		name := ""
		if m, ok := t.accounts[accts[0]]; ok {
			name = m.BucketName
		}
		out[id] = name
	}
	return out
}

// GetAccountsWithPrefix lists known accounts starting with prefix, sorted.
func (r *Registry) GetAccountsWithPrefix(clientID, prefix string) []string {
	t := r.tenant(clientID)
	if t == nil || prefix == "" {
		return nil
	}
	var out []string
	for acct := range t.accounts {
		if strings.HasPrefix(acct, prefix) {
			out = append(out, acct)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) GetMaterialHierarchy(clientID string) *models.MaterialGroupHierarchy {
	t := r.tenant(clientID)
	if t == nil {
		return nil
	}
	return t.material
}

// GetRules returns active rules of type typ, lowest priority first.
func (r *Registry) GetRules(clientID string, typ models.RuleType) []models.BusinessRule {
	t := r.tenant(clientID)
	if t == nil {
		return nil
	}
	var out []models.BusinessRule
	for _, rule := range t.rules[typ] {
		if rule.IsActive {
			out = append(out, rule)
		}
	}
	return out
}

func (r *Registry) GetDimension(clientID, code string) (models.DimensionConfig, bool) {
	t := r.tenant(clientID)
	if t == nil {
		return models.DimensionConfig{}, false
	}
	d, ok := t.dimensions[code]
	return d, ok
}
