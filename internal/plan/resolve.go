package plan

import (
	"regexp"
	"strings"
)

// resultRef matches a whole-string reference to a prior action's result:
// $action_result.<id> or $action_result.<id>.<dotted.path>.
var resultRef = regexp.MustCompile(`^\$action_result\.([A-Za-z0-9_\-]+)(?:\.(.+))?$`)

// Resolve walks params and substitutes $action_result references with the
// stored results of prior actions. Maps and slices are resolved
// element-wise; references to missing actions or paths resolve to nil.
func Resolve(params map[string]any, results map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = resolveValue(v, results)
	}
	return out
}

func resolveValue(v any, results map[string]any) any {
	switch val := v.(type) {
	case string:
		m := resultRef.FindStringSubmatch(val)
		if m == nil {
			return val
		}
		result, ok := results[m[1]]
		if !ok {
			return nil
		}
		if m[2] == "" {
			return result
		}
		return traverse(result, strings.Split(m[2], "."))
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = resolveValue(elem, results)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = resolveValue(elem, results)
		}
		return out
	default:
		return v
	}
}

// traverse follows a dotted path through nested maps. Any segment that
// does not resolve yields nil.
func traverse(v any, path []string) any {
	for _, seg := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return v
}
