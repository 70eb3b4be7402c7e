package format

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

func TestValue(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		display  models.DisplayType
		expected string
	}{
		{"currency", 1234567.891, models.DisplayCurrency, "$1,234,567.89"},
		{"negative currency", -950.5, models.DisplayCurrency, "-$950.50"},
		{"small currency", 12, models.DisplayCurrency, "$12.00"},
		{"currency from string", "123456.78", models.DisplayCurrency, "$123,456.78"},
		{"percentage", 45.678, models.DisplayPercentage, "45.68%"},
		{"integer", int64(1234567), models.DisplayInteger, "1,234,567"},
		{"integer rounds", 999.6, models.DisplayInteger, "1,000"},
		{"date", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), models.DisplayDate, "2024-01-15"},
		{"date string", "2024-03-31T00:00:00Z", models.DisplayDate, "2024-03-31"},
		{"text", "West", models.DisplayText, "West"},
		{"non numeric currency", "n/a", models.DisplayCurrency, "n/a"},
		{"nil", nil, models.DisplayCurrency, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Value(tt.value, tt.display))
		})
	}
}

func TestToFloat(t *testing.T) {
	f, ok := ToFloat("42.5")
	assert.True(t, ok)
	assert.Equal(t, 42.5, f)

	_, ok = ToFloat("abc")
	assert.False(t, ok)

	f, ok = ToFloat(decimal.RequireFromString("-7.25"))
	assert.True(t, ok)
	assert.Equal(t, -7.25, f)
}
