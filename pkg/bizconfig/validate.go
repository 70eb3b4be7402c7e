package bizconfig

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-finsight/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

// Validate returns every problem found in cfg; an empty result means valid.
// Each error wraps apperrors.ErrConfigInvalid.
func Validate(cfg *models.BusinessConfiguration) []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", apperrors.ErrConfigInvalid, fmt.Sprintf(format, args...)))
	}

	if cfg.ClientID == "" {
		add("client_id is required")
	}

	seen := make(map[string]string, len(cfg.GLAccounts))
	for key, m := range cfg.GLAccounts {
		if m == nil {
			add("GL account %s has no mapping", key)
			continue
		}
		if m.AccountNumber != key {
			add("GL account key %s does not match account number %s", key, m.AccountNumber)
		}
		if prev, dup := seen[m.AccountNumber]; dup {
			add("GL account %s is mapped twice (keys %s and %s)", m.AccountNumber, prev, key)
		}
		seen[m.AccountNumber] = key
		if m.BucketID == "" {
			add("GL account %s has no bucket", m.AccountNumber)
		}
	}

	for _, h := range cfg.Hierarchies {
		if len(h.Levels) == 0 {
			add("hierarchy %s has no levels", h.Name)
			continue
		}
		codes := make(map[string]bool, len(h.Levels))
		for _, l := range h.Levels {
			codes[l.Code] = true
		}
		for _, l := range h.Levels {
			if l.ParentCode != "" && !codes[l.ParentCode] {
				add("hierarchy %s level %s references unknown parent %s", h.Name, l.Code, l.ParentCode)
			}
			if l.Aggregation == models.AggregationCustom && l.CustomFormula == "" {
				add("hierarchy %s level %s uses custom aggregation without a formula", h.Name, l.Code)
			}
		}
		if h.Root != "" && !codes[h.Root] {
			add("hierarchy %s root %s is not a level", h.Name, h.Root)
		}
	}

	for _, r := range cfg.Rules {
		if r.Priority < 0 {
			add("rule %s has negative priority %d", r.ID, r.Priority)
		}
	}

	for _, d := range cfg.Dimensions {
		if d.Default == "" || len(d.AllowedValues) == 0 {
			continue
		}
		ok := false
		for _, v := range d.AllowedValues {
			if v == d.Default {
				ok = true
				break
			}
		}
		if !ok {
			add("dimension %s default %q is not an allowed value", d.Code, d.Default)
		}
	}
	return errs
}
