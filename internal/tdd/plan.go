// Package tdd implements the L6 TDD Sub-orchestrator: a planning pass that
// decomposes a task into a dependency-ordered feature list, then drives
// each feature through a RED -> GREEN -> REFACTOR loop before running an
// integration pass and producing a structured report.
package tdd

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Feature is one planned unit of work, topologically ordered by
// DependsOn before execution begins.
type Feature struct {
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	TestPath   string   `json:"testPath"`
	DependsOn  []string `json:"dependsOn,omitempty"`
	Summary    string   `json:"summary,omitempty"`
}

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\[.*?\\])\\s*```")

// ParsePlan extracts the fenced JSON feature list a planning agent
// produced, synthesizing a file path for any feature that omitted one.
func ParsePlan(text string, defaultExt string) ([]Feature, error) {
	raw := text
	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		raw = m[1]
	} else if start, end := strings.IndexByte(text, '['), strings.LastIndexByte(text, ']'); start >= 0 && end > start {
		raw = text[start : end+1]
	} else {
		return nil, fmt.Errorf("tdd: no JSON feature list found in plan output")
	}

	var features []Feature
	if err := json.Unmarshal([]byte(raw), &features); err != nil {
		return nil, fmt.Errorf("tdd: parsing plan JSON: %w", err)
	}

	for i := range features {
		f := &features[i]
		if f.Path == "" {
			f.Path = synthesizePath(f.Name, defaultExt)
		}
		if f.TestPath == "" {
			f.TestPath = synthesizeTestPath(f.Path, defaultExt)
		}
	}
	return features, nil
}

func synthesizePath(name, ext string) string {
	slug := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
	slug = strings.Map(func(r rune) rune {
		if r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, slug)
	if slug == "" {
		slug = "feature"
	}
	return slug + ext
}

func synthesizeTestPath(path, ext string) string {
	trimmed := strings.TrimSuffix(path, ext)
	return trimmed + "_test" + ext
}

// TopoSort orders features so every feature appears after its
// dependencies, failing on a cycle (spec §4.6).
func TopoSort(features []Feature) ([]Feature, error) {
	byName := make(map[string]Feature, len(features))
	for _, f := range features {
		byName[f.Name] = f
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	state := make(map[string]int, len(features))
	var order []Feature

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("tdd: dependency cycle detected: %s", strings.Join(append(path, name), " -> "))
		}
		state[name] = gray
		f, ok := byName[name]
		if !ok {
			return fmt.Errorf("tdd: unknown dependency %q", name)
		}
		for _, dep := range f.DependsOn {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = black
		order = append(order, f)
		return nil
	}

	for _, f := range features {
		if err := visit(f.Name, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}
