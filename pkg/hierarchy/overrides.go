package hierarchy

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// MetricOverride replaces descriptive fields of an L1 metric. Empty fields keep the default.
type MetricOverride struct {
	Code        string   `yaml:"code"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	FormulaText string   `yaml:"formula_text"`
	Keywords    []string `yaml:"keywords"`
}

// Overrides is the YAML document loaded from the hierarchy overrides file.
//
//	metrics:
//	  - code: GROSS_MARGIN
//	    keywords: [gross margin, gp]
//	components:
//	  revenue: SUM(Net_Revenue)
type Overrides struct {
	Metrics    []MetricOverride  `yaml:"metrics"`
	Components map[string]string `yaml:"components"`
}

// LoadOverrides reads an overrides file. An empty path returns nil.
func LoadOverrides(path string) (*Overrides, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hierarchy overrides: %w", err)
	}
	return ParseOverrides(data)
}

func ParseOverrides(data []byte) (*Overrides, error) {
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to parse hierarchy overrides: %w", err)
	}
	for name := range o.Components {
		if _, ok := componentBuckets[name]; !ok {
			return nil, fmt.Errorf("unknown formula component %q", name)
		}
	}
	return &o, nil
}

func (h *Hierarchy) applyOverrides(o *Overrides) {
	for _, mo := range o.Metrics {
		m, ok := h.metrics[strings.ToUpper(mo.Code)]
		if !ok {
			h.logger.Warn("Ignoring override for unknown metric", zap.String("code", mo.Code))
			continue
		}
		if mo.Name != "" {
			m.Name = mo.Name
		}
		if mo.Description != "" {
			m.Description = mo.Description
		}
		if mo.FormulaText != "" {
			m.FormulaText = mo.FormulaText
		}
		if len(mo.Keywords) > 0 {
			m.Keywords = mo.Keywords
		}
	}
	if len(o.Components) > 0 {
		h.overridden = make(map[string]string, len(o.Components))
		for name, sql := range o.Components {
			h.overridden[name] = sql
		}
	}
}

// WithOverrides applies overrides and recomposes every formula.
func (h *Hierarchy) WithOverrides(o *Overrides) *Hierarchy {
	if o != nil {
		h.applyOverrides(o)
		h.regenerateFormulas()
	}
	return h
}
