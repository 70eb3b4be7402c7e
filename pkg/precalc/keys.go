package precalc

import (
	"encoding/json"
	"strings"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

// KeyPrefix namespaces pre-calculated values in the cache.
const KeyPrefix = "precalc:"

// CacheKey is deterministic: metric and granularity are upper/lower-cased
// and dimensions are serialised with sorted keys.
func CacheKey(metric string, g models.Granularity, period string, dims map[string]string) string {
	return KeyPrefix + strings.ToUpper(metric) + ":" + strings.ToLower(string(g)) + ":" + period + ":" + dimsJSON(dims)
}

// dimsJSON relies on encoding/json emitting map keys in sorted order.
func dimsJSON(dims map[string]string) string {
	if len(dims) == 0 {
		return "{}"
	}
	b, err := json.Marshal(dims)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// KeyFor recomputes the key of a stored record.
func KeyFor(c *models.MetricCalculation) string {
	return CacheKey(c.MetricCode, c.Granularity, c.TimePeriod, c.Dimensions)
}
