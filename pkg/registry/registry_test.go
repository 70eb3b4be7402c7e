package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

const tenant = "arizona_beverages"

func fixtureMappings() []*models.GLAccountMapping {
	return []*models.GLAccountMapping{
		{AccountNumber: "40000000", Description: "Gross Sales", BucketID: "REV", BucketName: "Revenue", IsActive: true},
		{AccountNumber: "40100000", Description: "Sales Discounts", BucketID: "SALE_DS", BucketName: "Sales Discounts", IsActive: true},
		{AccountNumber: "50000000", Description: "Raw Materials", BucketID: "COGS_DM", BucketName: "COGS Direct Material", IsActive: true},
		{AccountNumber: "50100000", Description: "Packaging", BucketID: "COGS_PK", BucketName: "COGS Packaging", IsActive: true},
		{AccountNumber: "60410000", Description: "Office Rent", BucketID: "GNA_RENT", BucketName: "G&A Rent", IsActive: true},
	}
}

func TestRegistry_BucketRoundTrip(t *testing.T) {
	r := New(zap.NewNop())
	r.RegisterGLMappings(tenant, fixtureMappings())

	for _, m := range fixtureMappings() {
		assert.Equal(t, m.BucketID, r.GetBucketForGL(tenant, m.AccountNumber))
		assert.Contains(t, r.GetGLAccountsForBucket(tenant, m.BucketID), m.AccountNumber)
	}
}

func TestRegistry_ReRegisterMovesAccount(t *testing.T) {
	r := New(zap.NewNop())
	r.RegisterGLMappings(tenant, fixtureMappings())

	r.RegisterGLMapping(tenant, &models.GLAccountMapping{
		AccountNumber: "50100000", BucketID: "COGS_DM", BucketName: "COGS Direct Material", IsActive: true,
	})

	assert.Equal(t, "COGS_DM", r.GetBucketForGL(tenant, "50100000"))
	assert.NotContains(t, r.GetGLAccountsForBucket(tenant, "COGS_PK"), "50100000")
	assert.ElementsMatch(t, []string{"50000000", "50100000"}, r.GetGLAccountsForBucket(tenant, "COGS_DM"))
}

func TestRegistry_BucketNameCaseInsensitive(t *testing.T) {
	r := New(zap.NewNop())
	r.RegisterGLMappings(tenant, fixtureMappings())

	assert.Equal(t, []string{"40000000"}, r.GetGLAccountsForBucketName(tenant, "  REVENUE "))
}

func TestRegistry_SearchGLAccounts(t *testing.T) {
	r := New(zap.NewNop())
	r.RegisterGLMappings(tenant, fixtureMappings())

	byNumber := r.SearchGLAccounts(tenant, "6041")
	require.Len(t, byNumber, 1)
	assert.Equal(t, "60410000", byNumber[0].AccountNumber)

	byDescription := r.SearchGLAccounts(tenant, "packag")
	require.Len(t, byDescription, 1)

	byBucket := r.SearchGLAccounts(tenant, "cogs")
	assert.Len(t, byBucket, 2)

	assert.Empty(t, r.SearchGLAccounts(tenant, ""))
	assert.Empty(t, r.SearchGLAccounts("unknown", "cogs"))
}

func TestRegistry_ClearClientMappings(t *testing.T) {
	r := New(zap.NewNop())
	r.RegisterGLMappings(tenant, fixtureMappings())
	r.RegisterGLMappings("other", fixtureMappings()[:1])

	r.ClearClientMappings(tenant)
	assert.False(t, r.HasMappings(tenant))
	assert.True(t, r.HasMappings("other"))
}

func TestRegistry_RulesSortedAndFiltered(t *testing.T) {
	r := New(zap.NewNop())
	r.RegisterBusinessRule(tenant, models.BusinessRule{ID: "b", Type: models.RuleTypeCalculation, Priority: 5, IsActive: true})
	r.RegisterBusinessRule(tenant, models.BusinessRule{ID: "a", Type: models.RuleTypeCalculation, Priority: 1, IsActive: true})
	r.RegisterBusinessRule(tenant, models.BusinessRule{ID: "c", Type: models.RuleTypeCalculation, Priority: 0, IsActive: false})

	rules := r.GetRules(tenant, models.RuleTypeCalculation)
	require.Len(t, rules, 2)
	assert.Equal(t, "a", rules[0].ID)
	assert.Equal(t, "b", rules[1].ID)
}

func TestRegistry_RegisterConfiguration(t *testing.T) {
	cfg := &models.BusinessConfiguration{
		ClientID:          tenant,
		GLAccounts:        map[string]*models.GLAccountMapping{},
		MaterialHierarchy: models.NewMaterialGroupHierarchy(),
		Dimensions:        []models.DimensionConfig{{Code: "region", Name: "Region"}},
	}
	for _, m := range fixtureMappings() {
		cfg.GLAccounts[m.AccountNumber] = m
	}

	r := New(zap.NewNop())
	r.RegisterConfiguration(cfg)

	assert.Len(t, r.GetAllBuckets(tenant), 5)
	assert.NotNil(t, r.GetMaterialHierarchy(tenant))
	_, ok := r.GetDimension(tenant, "region")
	assert.True(t, ok)
	assert.Equal(t, []string{"60410000"}, r.GetAccountsWithPrefix(tenant, "6041"))
}

func TestRegistry_ReadersDuringWrites(t *testing.T) {
	r := New(zap.NewNop())
	r.RegisterGLMappings(tenant, fixtureMappings())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				assert.Equal(t, "REV", r.GetBucketForGL(tenant, "40000000"))
			}
		}()
	}
	for j := 0; j < 50; j++ {
		r.RegisterGLMapping(tenant, &models.GLAccountMapping{
			AccountNumber: fmt.Sprintf("7%07d", j), BucketID: "OOE", IsActive: true,
		})
	}
	wg.Wait()
	assert.Len(t, r.GetGLAccountsForBucket(tenant, "OOE"), 50)
}
