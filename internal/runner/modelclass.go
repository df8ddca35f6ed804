package runner

import "math/rand"

// Intelligence hints how a modelClass resolves to a concrete model tier
// (spec §4.4: "the policy may lower/raise class per an intelligence hint").
type Intelligence string

const (
	IntelligenceLow      Intelligence = "low"
	IntelligenceStandard Intelligence = "standard"
	IntelligenceHigh     Intelligence = "high"
)

// ClassMember is one candidate model within a modelClass, with a relative
// selection score and its intelligence tier.
type ClassMember struct {
	Model        string
	Score        float64
	Intelligence Intelligence
}

// ClassCatalog maps a modelClass name to its candidate members.
type ClassCatalog map[string][]ClassMember

// Resolve picks a model from class according to spec §4.4's policy:
// random-with-score among members of the requested intelligence tier,
// excluding any model in disabled. If the tier has no eligible members,
// falls back to the whole class.
func (c ClassCatalog) Resolve(class string, hint Intelligence, disabled map[string]bool) (string, bool) {
	members, ok := c[class]
	if !ok || len(members) == 0 {
		return "", false
	}

	tiered := filterByIntelligence(members, hint, disabled)
	if len(tiered) == 0 {
		tiered = filterDisabled(members, disabled)
	}
	if len(tiered) == 0 {
		return "", false
	}
	return weightedPick(tiered), true
}

// FallbackOrder returns every other enabled member of class besides
// excludeModel, in descending score order, for use when the primary
// model's provider call fails (spec §4.4 "iterate fallback models in
// class order").
func (c ClassCatalog) FallbackOrder(class, excludeModel string, disabled map[string]bool) []string {
	members, ok := c[class]
	if !ok {
		return nil
	}
	candidates := filterDisabled(members, disabled)
	out := make([]string, 0, len(candidates))
	for _, m := range sortedByScoreDesc(candidates) {
		if m.Model == excludeModel {
			continue
		}
		out = append(out, m.Model)
	}
	return out
}

func filterByIntelligence(members []ClassMember, hint Intelligence, disabled map[string]bool) []ClassMember {
	if hint == "" {
		return filterDisabled(members, disabled)
	}
	var out []ClassMember
	for _, m := range members {
		if disabled[m.Model] {
			continue
		}
		if m.Intelligence == hint {
			out = append(out, m)
		}
	}
	return out
}

func filterDisabled(members []ClassMember, disabled map[string]bool) []ClassMember {
	var out []ClassMember
	for _, m := range members {
		if !disabled[m.Model] {
			out = append(out, m)
		}
	}
	return out
}

func sortedByScoreDesc(members []ClassMember) []ClassMember {
	out := append([]ClassMember(nil), members...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Score > out[j-1].Score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func weightedPick(members []ClassMember) string {
	total := 0.0
	for _, m := range members {
		total += m.Score
	}
	if total <= 0 {
		return members[rand.Intn(len(members))].Model // #nosec G404 -- model selection, not security sensitive
	}
	r := rand.Float64() * total // #nosec G404 -- model selection, not security sensitive
	for _, m := range members {
		r -= m.Score
		if r <= 0 {
			return m.Model
		}
	}
	return members[len(members)-1].Model
}
