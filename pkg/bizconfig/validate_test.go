package bizconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/ekaya-finsight/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

func TestValidate(t *testing.T) {
	valid := &models.BusinessConfiguration{
		ClientID: "arizona_beverages",
		GLAccounts: map[string]*models.GLAccountMapping{
			"40000000": {AccountNumber: "40000000", BucketID: "REV"},
		},
		Hierarchies: []models.HierarchyDefinition{{
			Name: "product",
			Root: "brand",
			Levels: []models.HierarchyLevel{
				{Number: 1, Code: "brand", Aggregation: models.AggregationSum},
				{Number: 2, Code: "sku", ParentCode: "brand", Aggregation: models.AggregationSum},
			},
		}},
		Rules: []models.BusinessRule{{ID: "r", Priority: 0}},
	}

	tests := []struct {
		name   string
		mutate func(c *models.BusinessConfiguration)
		errors int
	}{
		{"valid", func(*models.BusinessConfiguration) {}, 0},
		{"key mismatch", func(c *models.BusinessConfiguration) {
			c.GLAccounts["1"] = &models.GLAccountMapping{AccountNumber: "40000000", BucketID: "REV"}
		}, 2},
		{"hierarchy without levels", func(c *models.BusinessConfiguration) {
			c.Hierarchies = append(c.Hierarchies, models.HierarchyDefinition{Name: "empty"})
		}, 1},
		{"unresolvable parent", func(c *models.BusinessConfiguration) {
			c.Hierarchies[0].Levels[1].ParentCode = "category"
		}, 1},
		{"negative priority", func(c *models.BusinessConfiguration) {
			c.Rules[0].Priority = -2
		}, 1},
		{"missing bucket", func(c *models.BusinessConfiguration) {
			c.GLAccounts["40000000"].BucketID = ""
		}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := cloneConfig(valid)
			tt.mutate(cfg)
			errs := Validate(cfg)
			assert.Len(t, errs, tt.errors)
			for _, err := range errs {
				assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
			}
		})
	}
}

func cloneConfig(c *models.BusinessConfiguration) *models.BusinessConfiguration {
	out := *c
	out.GLAccounts = make(map[string]*models.GLAccountMapping, len(c.GLAccounts))
	for k, v := range c.GLAccounts {
		m := *v
		out.GLAccounts[k] = &m
	}
	out.Hierarchies = nil
	for _, h := range c.Hierarchies {
		h.Levels = append([]models.HierarchyLevel(nil), h.Levels...)
		out.Hierarchies = append(out.Hierarchies, h)
	}
	out.Rules = append([]models.BusinessRule(nil), c.Rules...)
	return &out
}
