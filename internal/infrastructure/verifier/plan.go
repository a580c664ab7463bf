// Package verifier implements deterministic, content-addressed verifier-set
// selection and execution. plan.go ports
// original_source/supervisor/verifier_plan.py's select_verifier_plan
// exactly: required verifiers first, then mood defaults, then scope-matched
// catalog entries, deduplicated and sorted for a stable plan hash.
package verifier

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ryanuber/go-glob"

	"github.com/choiros/supervisor/internal/domain/mood"
	"github.com/choiros/supervisor/internal/domain/workitem"
)

// CatalogEntry is one verifier definition loaded from verifiers.yaml.
type CatalogEntry struct {
	ID       string   `yaml:"id"`
	Command  string   `yaml:"command"`
	Scopes   []string `yaml:"scopes"`
	Moods    []string `yaml:"moods"`
}

// Catalog is the full verifier catalog plus its mood-default groupings.
type Catalog struct {
	Verifiers    []CatalogEntry         `yaml:"verifiers"`
	MoodDefaults map[string][]string    `yaml:"mood_defaults"`
}

// Plan is a deterministic, content-addressed verifier selection.
type Plan struct {
	PlanID          string   `json:"plan_id"`
	InputsHash      string   `json:"inputs_hash"`
	VerifierIDs     []string `json:"verifier_ids"`
	UnknownRequired []string `json:"unknown_required"`
}

// normalizePath mirrors verifier_plan.py's _normalize_path: backslashes
// become forward slashes, then any leading run of "." and "/" is stripped
// (lstrip("./"), not a single "./" prefix trim).
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.TrimLeft(p, "./")
}

// matchesScope mirrors verifier_plan.py's _matches_scope: a trailing-slash
// scope is a path-prefix match, everything else is an fnmatch-style glob
// where "*" spans "/" (unlike path.Match's "*", which stops at "/").
func matchesScope(scope, filePath string) bool {
	scope = normalizePath(scope)
	if strings.HasSuffix(scope, "/") {
		return strings.HasPrefix(filePath, scope)
	}
	return glob.Glob(scope, filePath)
}

// canonicalJSON marshals v the way Go's encoding/json naturally does for
// map[string]any: keys sorted, no extra whitespace — satisfying the
// canonicalization select_verifier_plan relies on for hashing without any
// extra canonicalization library.
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func hashInputs(inputs map[string]any) (string, error) {
	raw, err := canonicalJSON(inputs)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Select builds a Plan for a run: requiredVerifiers always included, then
// the current mood's MoodDefaults, then catalog entries whose Scopes match a
// touched path (an entry that declares Moods is considered only when the
// current mood is among them), everything deduplicated and sorted.
func Select(catalog Catalog, touchedPaths []string, currentMood mood.Mood, riskTier workitem.RiskTier, requiredVerifiers []string) (Plan, error) {
	known := make(map[string]CatalogEntry, len(catalog.Verifiers))
	for _, v := range catalog.Verifiers {
		known[v.ID] = v
	}

	selected := make(map[string]bool)
	var unknownRequired []string
	for _, id := range requiredVerifiers {
		if _, ok := known[id]; !ok {
			unknownRequired = append(unknownRequired, id)
			continue
		}
		selected[id] = true
	}

	for _, id := range catalog.MoodDefaults[string(currentMood)] {
		if _, ok := known[id]; ok {
			selected[id] = true
		}
	}

	normPaths := make([]string, len(touchedPaths))
	for i, p := range touchedPaths {
		normPaths[i] = normalizePath(p)
	}

	for _, entry := range catalog.Verifiers {
		if selected[entry.ID] {
			continue
		}
		if len(entry.Moods) > 0 {
			moodListed := false
			for _, m := range entry.Moods {
				if m == string(currentMood) {
					moodListed = true
					break
				}
			}
			if !moodListed {
				continue
			}
		}
		for _, scope := range entry.Scopes {
			matched := false
			for _, p := range normPaths {
				if matchesScope(scope, p) {
					matched = true
					break
				}
			}
			if matched {
				selected[entry.ID] = true
				break
			}
		}
	}

	ids := make([]string, 0, len(selected))
	for id := range selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	sort.Strings(unknownRequired)
	sort.Strings(normPaths)
	sortedRequired := append([]string(nil), requiredVerifiers...)
	sort.Strings(sortedRequired)

	inputs := map[string]any{
		"touched_paths":      normPaths,
		"mood":               string(currentMood),
		"risk_tier":          string(riskTier),
		"required":           sortedRequired,
		"unknown_required":   unknownRequired,
		"verifier_ids":       ids,
	}
	inputsHash, err := hashInputs(inputs)
	if err != nil {
		return Plan{}, fmt.Errorf("hash verifier plan inputs: %w", err)
	}

	planIDSum := sha256.Sum256([]byte("plan:" + inputsHash))
	return Plan{
		PlanID:          hex.EncodeToString(planIDSum[:]),
		InputsHash:      inputsHash,
		VerifierIDs:     ids,
		UnknownRequired: unknownRequired,
	}, nil
}

// BuildSpecs resolves a Plan's verifier ids back into runnable specs from
// the catalog, preserving the plan's sorted order.
func BuildSpecs(catalog Catalog, plan Plan) []CatalogEntry {
	known := make(map[string]CatalogEntry, len(catalog.Verifiers))
	for _, v := range catalog.Verifiers {
		known[v.ID] = v
	}
	specs := make([]CatalogEntry, 0, len(plan.VerifierIDs))
	for _, id := range plan.VerifierIDs {
		if entry, ok := known[id]; ok {
			specs = append(specs, entry)
		}
	}
	return specs
}
