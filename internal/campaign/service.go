package campaign

// AnalysisConfig is the combined analysis-field configuration for a
// campaign: the standard fields plus the campaign-specific ones.
type AnalysisConfig struct {
	Fields     []AnalysisField
	MainKPIKey string
}

// ResolveAnalysisConfig merges the standard fields with a campaign's own
// analysis fields. Campaign fields win on key collisions, and the first
// field flagged as main KPI provides MainKPIKey.
func ResolveAnalysisConfig(c *Campaign) AnalysisConfig {
	var fields []AnalysisField
	seen := make(map[string]bool)

	if c != nil {
		for _, f := range c.AnalysisFields {
			fields = append(fields, f)
			seen[f.Key] = true
		}
	}
	for _, f := range StandardAnalysisFields {
		if !seen[f.Key] {
			fields = append(fields, f)
		}
	}

	cfg := AnalysisConfig{Fields: fields}
	for _, f := range fields {
		if f.IsMainKPI {
			cfg.MainKPIKey = f.Key
			break
		}
	}
	return cfg
}

// ProjectAnalysis filters the provider's free-form custom analysis data
// down to the declared field schema. Values for undeclared keys are
// dropped; declared keys missing from the payload are simply absent.
func ProjectAnalysis(cfg AnalysisConfig, custom map[string]interface{}) map[string]interface{} {
	if len(custom) == 0 {
		return map[string]interface{}{}
	}

	projected := make(map[string]interface{}, len(cfg.Fields))
	for _, f := range cfg.Fields {
		if value, ok := custom[f.Key]; ok {
			projected[f.Key] = value
		}
	}
	return projected
}
