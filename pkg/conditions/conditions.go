// Package conditions implements the typed condition-operator language that
// policy rules use to match against a request context: eq, in, prefix,
// all_under, any_under, exists, plus the allow-listed template-variable
// substitution and the dotted-path resolver that feeds it.
package conditions

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Operator tags which variant of the condition grammar a Condition holds.
type Operator string

const (
	OpEq       Operator = "eq"
	OpIn       Operator = "in"
	OpPrefix   Operator = "prefix"
	OpAllUnder Operator = "all_under"
	OpAnyUnder Operator = "any_under"
	OpExists   Operator = "exists"
)

// Condition is the tagged union described in spec §4.3/§9: exactly one of
// the typed fields is populated, selected by Op. Scalar shorthand in stored
// policy documents normalizes to OpEq at parse time (see Parse).
type Condition struct {
	Op       Operator
	Eq       interface{}
	In       []interface{}
	Prefix   string
	AllUnder []string
	AnyUnder []string
	Exists   bool
}

// Parse converts a raw decoded condition expression (as produced by
// encoding/json or yaml.v3 unmarshalling into interface{}) into a Condition.
// Scalar shorthand (string/number/bool) normalizes to Eq.
func Parse(raw interface{}) (Condition, error) {
	switch v := raw.(type) {
	case map[string]interface{}:
		return parseOperatorMap(v)
	case nil:
		return Condition{}, fmt.Errorf("condition expression is nil")
	default:
		return Condition{Op: OpEq, Eq: v}, nil
	}
}

func parseOperatorMap(m map[string]interface{}) (Condition, error) {
	if v, ok := m["eq"]; ok {
		return Condition{Op: OpEq, Eq: v}, nil
	}
	if v, ok := m["in"]; ok {
		list, err := toSlice(v)
		if err != nil {
			return Condition{}, fmt.Errorf("in: %w", err)
		}
		return Condition{Op: OpIn, In: list}, nil
	}
	if v, ok := m["prefix"]; ok {
		s, ok := v.(string)
		if !ok {
			return Condition{}, fmt.Errorf("prefix: expected string")
		}
		return Condition{Op: OpPrefix, Prefix: s}, nil
	}
	if v, ok := m["all_under"]; ok {
		roots, err := toStringSlice(v)
		if err != nil {
			return Condition{}, fmt.Errorf("all_under: %w", err)
		}
		return Condition{Op: OpAllUnder, AllUnder: roots}, nil
	}
	if v, ok := m["any_under"]; ok {
		roots, err := toStringSlice(v)
		if err != nil {
			return Condition{}, fmt.Errorf("any_under: %w", err)
		}
		return Condition{Op: OpAnyUnder, AnyUnder: roots}, nil
	}
	if v, ok := m["exists"]; ok {
		b, ok := v.(bool)
		if !ok {
			return Condition{}, fmt.Errorf("exists: expected bool")
		}
		return Condition{Op: OpExists, Exists: b}, nil
	}
	return Condition{}, fmt.Errorf("unrecognized condition operator in %v", m)
}

func toSlice(v interface{}) ([]interface{}, error) {
	s, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected array")
	}
	return s, nil
}

func toStringSlice(v interface{}) ([]string, error) {
	raw, err := toSlice(v)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected string element, got %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}

// FieldResult is the per-field evaluation trace entry described in spec §4.4.
type FieldResult struct {
	Field    string
	Operator Operator
	Expected interface{}
	Actual   interface{}
	Result   bool
}

// rejectedSegments are the dotted-path segments that must never resolve,
// per spec §4.3/§9 — they are the classic prototype/metaproperty reach
// vectors from the dynamic source this gateway replaces.
var rejectedSegments = map[string]bool{
	"__proto__":   true,
	"prototype":   true,
	"constructor": true,
}

// ResolvePath walks a dotted path (e.g. "context.exec.argv0") into a nested
// map[string]interface{} context. It fails closed: an unresolvable path, a
// rejected segment, or a non-map intermediate node all return (nil, false)
// rather than panicking or falling through to a zero value.
func ResolvePath(ctx map[string]interface{}, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	var cur interface{} = ctx
	for _, seg := range segments {
		if rejectedSegments[seg] {
			return nil, false
		}
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, exists := m[seg]
		if !exists {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// allowedTemplateVars is the closed set of substitutable names in §4.3.
var allowedTemplateVars = map[string]bool{
	"workspace.root": true,
	"tenant.id":      true,
	"workspace.id":   true,
}

// ResolveTemplate substitutes {{name}} tokens in s using vars. Any token
// whose name is not in the allow-list, or whose name is missing from vars,
// fails closed: ResolveTemplate returns ("", false).
func ResolveTemplate(s string, vars map[string]string) (string, bool) {
	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			return "", false
		}
		end += start
		name := strings.TrimSpace(rest[start+2 : end])
		if !allowedTemplateVars[name] {
			return "", false
		}
		val, ok := vars[name]
		if !ok {
			return "", false
		}
		b.WriteString(rest[:start])
		b.WriteString(val)
		rest = rest[end+2:]
	}
	return b.String(), true
}

// normalizePath applies filepath.Abs + filepath.Clean, the syscall-free
// normalization spec §4.3 calls for (no symlink resolution).
func normalizePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// underRoot reports whether normalized path p is root itself or a child of
// root (separated by the OS path separator), per spec §4.3/§8 invariant 5.
func underRoot(p, root string) (bool, error) {
	np, err := normalizePath(p)
	if err != nil {
		return false, err
	}
	nr, err := normalizePath(root)
	if err != nil {
		return false, err
	}
	if np == nr {
		return true, nil
	}
	return strings.HasPrefix(np, nr+string(filepath.Separator)), nil
}

// AllUnder reports whether every path in paths is under (or equal to) some
// root in roots. Any path that fails to normalize fails the whole check
// closed (returns false), per invariant 5.
func AllUnder(paths, roots []string) bool {
	for _, p := range paths {
		if !anyRootMatches(p, roots) {
			return false
		}
	}
	return true
}

// AnyUnder reports whether at least one path in paths is under (or equal
// to) some root in roots.
func AnyUnder(paths, roots []string) bool {
	for _, p := range paths {
		if anyRootMatches(p, roots) {
			return true
		}
	}
	return false
}

func anyRootMatches(p string, roots []string) bool {
	for _, root := range roots {
		ok, err := underRoot(p, root)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// Evaluate applies c to actual, returning the match result. exists evaluates
// purely on presence (handled by the caller via the found flag since
// Evaluate receives an already-resolved value); all other operators treat a
// non-present value (found=false) as non-match (fail closed).
func Evaluate(c Condition, actual interface{}, found bool) bool {
	if c.Op == OpExists {
		return found == c.Exists
	}
	if !found {
		return false
	}
	switch c.Op {
	case OpEq:
		return actual == c.Eq
	case OpIn:
		for _, v := range c.In {
			if v == actual {
				return true
			}
		}
		return false
	case OpPrefix:
		s, ok := actual.(string)
		if !ok {
			return false
		}
		return strings.HasPrefix(s, c.Prefix)
	case OpAllUnder:
		paths, ok := toStringSliceAny(actual)
		if !ok {
			return false
		}
		return AllUnder(paths, c.AllUnder)
	case OpAnyUnder:
		paths, ok := toStringSliceAny(actual)
		if !ok {
			return false
		}
		return AnyUnder(paths, c.AnyUnder)
	default:
		return false
	}
}

func toStringSliceAny(v interface{}) ([]string, bool) {
	switch vv := v.(type) {
	case []string:
		return vv, true
	case string:
		return []string{vv}, true
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
