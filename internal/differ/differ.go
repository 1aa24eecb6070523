// Package differ compares two rendered topology templates resource by resource.
package differ

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sort"

	tierstack "github.com/lex00/tierstack-go"
	"github.com/lex00/tierstack-go/internal/template"
)

// Options configures the differ.
type Options struct {
	// IgnoreOrder compares arrays as multisets.
	IgnoreOrder bool
}

// Result contains the difference between two templates.
type Result struct {
	Diff    tierstack.TemplateDiff
	Summary tierstack.DiffSummary
}

// Empty reports whether the templates matched.
func (r *Result) Empty() bool {
	return r.Summary.Total == 0
}

// Compare reports resources added, removed or modified going from before to after.
// Output changes are reported under the pseudo resource "Outputs".
func Compare(before, after *tierstack.Template, opts Options) (*Result, error) {
	if before == nil || after == nil {
		return nil, fmt.Errorf("compare: nil template")
	}
	result := &Result{}

	for name, def := range after.Resources {
		if _, ok := before.Resources[name]; !ok {
			result.Diff.Added = append(result.Diff.Added, tierstack.DiffEntry{Resource: name, Type: def.Type})
		}
	}

	for name, def := range before.Resources {
		next, ok := after.Resources[name]
		if !ok {
			result.Diff.Removed = append(result.Diff.Removed, tierstack.DiffEntry{Resource: name, Type: def.Type})
			continue
		}
		if changes := compareResources(def, next, opts); len(changes) > 0 {
			result.Diff.Modified = append(result.Diff.Modified, tierstack.DiffEntry{
				Resource: name,
				Type:     next.Type,
				Changes:  changes,
			})
		}
	}

	if changes := compareOutputs(before.Outputs, after.Outputs, opts); len(changes) > 0 {
		result.Diff.Modified = append(result.Diff.Modified, tierstack.DiffEntry{
			Resource: "Outputs",
			Changes:  changes,
		})
	}

	sortEntries(result.Diff.Added)
	sortEntries(result.Diff.Removed)
	sortEntries(result.Diff.Modified)

	result.Summary = tierstack.DiffSummary{
		Added:    len(result.Diff.Added),
		Removed:  len(result.Diff.Removed),
		Modified: len(result.Diff.Modified),
	}
	result.Summary.Total = result.Summary.Added + result.Summary.Removed + result.Summary.Modified
	return result, nil
}

// CompareFiles loads and compares two template files.
func CompareFiles(before, after string, opts Options) (*Result, error) {
	t1, err := LoadTemplate(before)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", before, err)
	}
	t2, err := LoadTemplate(after)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", after, err)
	}
	return Compare(t1, t2, opts)
}

// LoadTemplate reads a JSON or YAML template from disk.
func LoadTemplate(path string) (*tierstack.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return template.Parse(data)
}

func compareResources(before, after tierstack.ResourceDef, opts Options) []string {
	var changes []string

	if before.Type != after.Type {
		changes = append(changes, fmt.Sprintf("Type changed: %s → %s", before.Type, after.Type))
	}
	if before.DeletionPolicy != after.DeletionPolicy {
		changes = append(changes, fmt.Sprintf("DeletionPolicy changed: %q → %q", before.DeletionPolicy, after.DeletionPolicy))
	}
	if before.UpdateReplacePolicy != after.UpdateReplacePolicy {
		changes = append(changes, fmt.Sprintf("UpdateReplacePolicy changed: %q → %q", before.UpdateReplacePolicy, after.UpdateReplacePolicy))
	}

	changes = append(changes, compareProperties("", before.Properties, after.Properties, opts)...)

	if !equalStringSlices(sortedCopy(before.DependsOn), sortedCopy(after.DependsOn)) {
		changes = append(changes, fmt.Sprintf("DependsOn changed: %v → %v", before.DependsOn, after.DependsOn))
	}
	return changes
}

func compareOutputs(before, after map[string]tierstack.Output, opts Options) []string {
	var changes []string
	for _, name := range unionKeys(before, after) {
		o1, ok1 := before[name]
		o2, ok2 := after[name]
		switch {
		case !ok1:
			changes = append(changes, fmt.Sprintf("%s: added", name))
		case !ok2:
			changes = append(changes, fmt.Sprintf("%s: removed", name))
		case !deepEqual(o1.Value, o2.Value, opts):
			changes = append(changes, fmt.Sprintf("%s: value changed", name))
		case exportName(o1) != exportName(o2):
			changes = append(changes, fmt.Sprintf("%s: export changed: %q → %q", name, exportName(o1), exportName(o2)))
		}
	}
	return changes
}

func exportName(o tierstack.Output) string {
	if o.Export == nil {
		return ""
	}
	return o.Export.Name
}

func compareProperties(prefix string, before, after map[string]any, opts Options) []string {
	var changes []string
	for _, key := range unionKeys(before, after) {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		v1, ok1 := before[key]
		v2, ok2 := after[key]
		switch {
		case !ok1:
			changes = append(changes, fmt.Sprintf("%s: added", path))
		case !ok2:
			changes = append(changes, fmt.Sprintf("%s: removed", path))
		default:
			m1, isMap1 := v1.(map[string]any)
			m2, isMap2 := v2.(map[string]any)
			if isMap1 && isMap2 {
				changes = append(changes, compareProperties(path, m1, m2, opts)...)
			} else if !deepEqual(v1, v2, opts) {
				changes = append(changes, fmt.Sprintf("%s: changed", path))
			}
		}
	}
	return changes
}

func unionKeys[V any](a, b map[string]V) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func deepEqual(a, b any, opts Options) bool {
	return reflect.DeepEqual(normalizeValue(a, opts), normalizeValue(b, opts))
}

// normalizeValue folds numeric types together, and with IgnoreOrder sorts arrays
// by their JSON encoding.
func normalizeValue(v any, opts Options) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = normalizeValue(elem, opts)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalizeValue(elem, opts)
		}
		if opts.IgnoreOrder {
			sort.SliceStable(out, func(i, j int) bool {
				return sortKey(out[i]) < sortKey(out[j])
			})
		}
		return out
	default:
		return v
	}
}

func sortKey(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortEntries(entries []tierstack.DiffEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Resource < entries[j].Resource
	})
}
