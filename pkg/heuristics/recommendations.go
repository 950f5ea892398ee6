package heuristics

// FallbackRecommendation is returned when nothing was detected.
const FallbackRecommendation = "No security mechanisms detected - minimal ELM327 emulation sufficient"

// Recommendations renders one entry per finding kind, in first-seen order,
// using the template of the rule that produced the first finding of that kind.
func (d *Detector) Recommendations(findings []Finding) []string {
	byID := make(map[string]Rule, len(d.rules.Rules))
	for _, r := range d.rules.Rules {
		byID[r.ID] = r
	}

	seen := make(map[Kind]struct{})
	var out []string
	for _, f := range findings {
		if _, dup := seen[f.Kind]; dup {
			continue
		}
		seen[f.Kind] = struct{}{}

		r, ok := byID[f.RuleID]
		if !ok {
			out = append(out, f.Description)
			continue
		}
		text, err := r.render(f.Evidence)
		if err != nil {
			d.logger.Warn().Err(err).Str("rule", r.ID).Msg("recommendation template failed")
			text = f.Description
		}
		out = append(out, text)
	}
	if len(out) == 0 {
		return []string{FallbackRecommendation}
	}
	return out
}
