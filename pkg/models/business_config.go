package models

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// GL Account Mapping
// ============================================================================

// AccountType classifies a GL account.
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeRevenue   AccountType = "revenue"
	AccountTypeExpense   AccountType = "expense"
	AccountTypeEquity    AccountType = "equity"
)

// NormalBalance is the side of the ledger an account normally carries.
type NormalBalance string

const (
	NormalBalanceDebit  NormalBalance = "debit"
	NormalBalanceCredit NormalBalance = "credit"
)

// GLAccountMapping maps a single GL account to its reporting bucket.
type GLAccountMapping struct {
	AccountNumber    string            `json:"account_number"`
	Description      string            `json:"description"`
	BucketID         string            `json:"bucket_id"`
	BucketName       string            `json:"bucket_name"`
	AccountType      AccountType       `json:"account_type"`
	NormalBalance    NormalBalance     `json:"normal_balance"`
	IsActive         bool              `json:"is_active"`
	CustomAttributes map[string]string `json:"custom_attributes,omitempty"`
}

// InferAccountType derives account type and normal balance from a bucket code.
// Revenue buckets are credit-normal; everything else in the P&L is a debit-normal expense.
func InferAccountType(bucketID string) (AccountType, NormalBalance) {
	upper := strings.ToUpper(strings.TrimSpace(bucketID))
	switch {
	case upper == "REV" || strings.HasPrefix(upper, "REVENUE") || upper == "FIN_INC" || upper == "OOI":
		return AccountTypeRevenue, NormalBalanceCredit
	case strings.HasPrefix(upper, "ASSET"):
		return AccountTypeAsset, NormalBalanceDebit
	case strings.HasPrefix(upper, "LIAB"):
		return AccountTypeLiability, NormalBalanceCredit
	case strings.HasPrefix(upper, "EQUITY"):
		return AccountTypeEquity, NormalBalanceCredit
	default:
		return AccountTypeExpense, NormalBalanceDebit
	}
}

// ============================================================================
// Material Group Hierarchy
// ============================================================================

// MaterialGroupHierarchy holds the five parallel material group maps (code -> description).
type MaterialGroupHierarchy struct {
	MG1 map[string]string `json:"mg1"`
	MG2 map[string]string `json:"mg2"`
	MG3 map[string]string `json:"mg3"`
	MG4 map[string]string `json:"mg4"`
	MG5 map[string]string `json:"mg5"`
}

// NewMaterialGroupHierarchy returns a hierarchy with all five levels initialised.
func NewMaterialGroupHierarchy() *MaterialGroupHierarchy {
	return &MaterialGroupHierarchy{
		MG1: map[string]string{},
		MG2: map[string]string{},
		MG3: map[string]string{},
		MG4: map[string]string{},
		MG5: map[string]string{},
	}
}

// Level returns the map for level n (1..5), or nil.
func (h *MaterialGroupHierarchy) Level(n int) map[string]string {
	switch n {
	case 1:
		return h.MG1
	case 2:
		return h.MG2
	case 3:
		return h.MG3
	case 4:
		return h.MG4
	case 5:
		return h.MG5
	}
	return nil
}

// Path returns the ordered "Level:Description" entries for the given codes.
// Nil codes are skipped; unknown codes fall back to the raw code.
func (h *MaterialGroupHierarchy) Path(codes ...*string) []string {
	path := []string{}
	for i, code := range codes {
		if i >= 5 {
			break
		}
		if code == nil || *code == "" {
			continue
		}
		desc := *code
		if level := h.Level(i + 1); level != nil {
			if d, ok := level[*code]; ok && d != "" {
				desc = d
			}
		}
		path = append(path, fmt.Sprintf("MG%d:%s", i+1, desc))
	}
	return path
}

// ============================================================================
// Hierarchy Definitions, Rules, Dimensions
// ============================================================================

// AggregationType is how a hierarchy level rolls up.
type AggregationType string

const (
	AggregationSum    AggregationType = "sum"
	AggregationAvg    AggregationType = "avg"
	AggregationMin    AggregationType = "min"
	AggregationMax    AggregationType = "max"
	AggregationCount  AggregationType = "count"
	AggregationCustom AggregationType = "custom"
)

// HierarchyLevel is one level of a custom hierarchy definition.
type HierarchyLevel struct {
	Number        int             `json:"number"`
	Name          string          `json:"name"`
	Code          string          `json:"code"`
	ParentCode    string          `json:"parent_code,omitempty"`
	Aggregation   AggregationType `json:"aggregation"`
	CustomFormula string          `json:"custom_formula,omitempty"`
}

// HierarchyDefinition describes a tenant hierarchy (e.g. a product or cost-centre tree).
type HierarchyDefinition struct {
	Type   string           `json:"type"`
	Name   string           `json:"name"`
	Levels []HierarchyLevel `json:"levels"`
	Root   string           `json:"root"`
}

// RuleType classifies business rules.
type RuleType string

const (
	RuleTypeCalculation    RuleType = "calculation"
	RuleTypeValidation     RuleType = "validation"
	RuleTypeTransformation RuleType = "transformation"
)

// BusinessRule is an append-only tenant rule. Deactivate with IsActive=false.
type BusinessRule struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Type      RuleType `json:"type"`
	Condition string   `json:"condition,omitempty"`
	Formula   string   `json:"formula"`
	AppliesTo []string `json:"applies_to"`
	Priority  int      `json:"priority"`
	IsActive  bool     `json:"is_active"`
}

// DimensionConfig describes a reporting dimension available to a tenant.
type DimensionConfig struct {
	Name          string   `json:"name"`
	Code          string   `json:"code"`
	DataType      string   `json:"data_type"`
	AllowedValues []string `json:"allowed_values,omitempty"`
	Hierarchy     string   `json:"hierarchy,omitempty"`
	Default       string   `json:"default,omitempty"`
	Required      bool     `json:"required"`
}

// ============================================================================
// Business Configuration
// ============================================================================

// BusinessConfiguration aggregates one tenant's configuration.
type BusinessConfiguration struct {
	ClientID  string `json:"client_id"`
	DatasetID string `json:"dataset_id"`
	Version   int    `json:"version"`

	GLAccounts        map[string]*GLAccountMapping `json:"gl_accounts"`
	MaterialHierarchy *MaterialGroupHierarchy      `json:"material_hierarchy,omitempty"`
	Hierarchies       []HierarchyDefinition        `json:"hierarchies,omitempty"`
	Rules             []BusinessRule               `json:"rules,omitempty"`
	Dimensions        []DimensionConfig            `json:"dimensions,omitempty"`

	// Column conventions of the tenant's GL fact table.
	TimeColumn    string `json:"time_column,omitempty"`
	RevenueColumn string `json:"revenue_column,omitempty"`
	AmountColumn  string `json:"amount_column,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	IsActive  bool      `json:"is_active"`
}

// Key returns the "{client}:{dataset}" cache key for this configuration.
func (c *BusinessConfiguration) Key() string {
	return ConfigKey(c.ClientID, c.DatasetID)
}

// ConfigKey builds the tenant configuration key.
func ConfigKey(clientID, datasetID string) string {
	return clientID + ":" + datasetID
}

// BucketAccounts groups active account numbers by bucket id.
func (c *BusinessConfiguration) BucketAccounts() map[string][]string {
	out := make(map[string][]string)
	for num, m := range c.GLAccounts {
		if !m.IsActive {
			continue
		}
		out[m.BucketID] = append(out[m.BucketID], num)
	}
	return out
}
