package conditions

import "testing"

func TestParse_ScalarShorthand(t *testing.T) {
	c, err := Parse("delete_file")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if c.Op != OpEq || c.Eq != "delete_file" {
		t.Errorf("Parse(scalar) = %+v, want Eq(delete_file)", c)
	}
}

func TestParse_Operators(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]interface{}
		want Operator
	}{
		{"eq", map[string]interface{}{"eq": "exec"}, OpEq},
		{"in", map[string]interface{}{"in": []interface{}{"a", "b"}}, OpIn},
		{"prefix", map[string]interface{}{"prefix": "ls"}, OpPrefix},
		{"all_under", map[string]interface{}{"all_under": []interface{}{"/workspace"}}, OpAllUnder},
		{"any_under", map[string]interface{}{"any_under": []interface{}{"/workspace"}}, OpAnyUnder},
		{"exists", map[string]interface{}{"exists": true}, OpExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if c.Op != tt.want {
				t.Errorf("Op = %v, want %v", c.Op, tt.want)
			}
		})
	}
}

func TestParse_UnrecognizedOperator(t *testing.T) {
	_, err := Parse(map[string]interface{}{"matches": "foo"})
	if err == nil {
		t.Error("Parse() with unrecognized operator should fail")
	}
}

func TestResolvePath_RejectsDangerousSegments(t *testing.T) {
	ctx := map[string]interface{}{
		"context": map[string]interface{}{
			"exec": map[string]interface{}{"argv0": "ls"},
		},
	}
	for _, bad := range []string{"__proto__", "prototype", "constructor"} {
		if _, ok := ResolvePath(ctx, "context."+bad); ok {
			t.Errorf("ResolvePath should reject segment %q", bad)
		}
	}
}

func TestResolvePath_HappyPath(t *testing.T) {
	ctx := map[string]interface{}{
		"context": map[string]interface{}{
			"exec": map[string]interface{}{"argv0": "ls"},
		},
	}
	v, ok := ResolvePath(ctx, "context.exec.argv0")
	if !ok || v != "ls" {
		t.Errorf("ResolvePath() = %v, %v, want ls, true", v, ok)
	}
}

func TestResolvePath_MissingFailsClosed(t *testing.T) {
	ctx := map[string]interface{}{"context": map[string]interface{}{}}
	if _, ok := ResolvePath(ctx, "context.targets.paths"); ok {
		t.Error("ResolvePath() should fail closed on missing segment")
	}
}

func TestResolveTemplate_AllowedVars(t *testing.T) {
	vars := map[string]string{"tenant.id": "local", "workspace.root": "/workspace"}
	got, ok := ResolveTemplate("{{workspace.root}}/bin", vars)
	if !ok || got != "/workspace/bin" {
		t.Errorf("ResolveTemplate() = %q, %v, want /workspace/bin, true", got, ok)
	}
}

func TestResolveTemplate_UnknownNameFailsClosed(t *testing.T) {
	_, ok := ResolveTemplate("{{evil.payload}}", map[string]string{"evil.payload": "x"})
	if ok {
		t.Error("ResolveTemplate() should reject a name outside the allow-list")
	}
}

func TestResolveTemplate_MissingValueFailsClosed(t *testing.T) {
	_, ok := ResolveTemplate("{{tenant.id}}", map[string]string{})
	if ok {
		t.Error("ResolveTemplate() should fail closed when value is absent")
	}
}

func TestAllUnder(t *testing.T) {
	paths := []string{"/workspace/a.ts", "/workspace/sub/b.ts"}
	if !AllUnder(paths, []string{"/workspace"}) {
		t.Error("AllUnder() should be true when every path is under the root")
	}
}

func TestAllUnder_OnePathOutsideFails(t *testing.T) {
	paths := []string{"/workspace/a.ts", "/tmp/outside"}
	if AllUnder(paths, []string{"/workspace"}) {
		t.Error("AllUnder() should be false when one path escapes the root")
	}
}

func TestAllUnder_RootItselfMatches(t *testing.T) {
	if !AllUnder([]string{"/workspace"}, []string{"/workspace"}) {
		t.Error("AllUnder() should treat the root itself as a match")
	}
}

func TestAllUnder_SiblingPrefixDoesNotMatch(t *testing.T) {
	// "/workspace-evil" must not be treated as under "/workspace".
	if AllUnder([]string{"/workspace-evil/a.ts"}, []string{"/workspace"}) {
		t.Error("AllUnder() should require separator-bounded containment")
	}
}

func TestAnyUnder(t *testing.T) {
	paths := []string{"/tmp/outside", "/workspace/a.ts"}
	if !AnyUnder(paths, []string{"/workspace"}) {
		t.Error("AnyUnder() should be true when at least one path is under the root")
	}
}

func TestEvaluate_Eq(t *testing.T) {
	c := Condition{Op: OpEq, Eq: "delete_file"}
	if !Evaluate(c, "delete_file", true) {
		t.Error("Evaluate(eq) should match equal values")
	}
	if Evaluate(c, "other_tool", true) {
		t.Error("Evaluate(eq) should not match different values")
	}
}

func TestEvaluate_NotFoundFailsClosed(t *testing.T) {
	c := Condition{Op: OpEq, Eq: "x"}
	if Evaluate(c, nil, false) {
		t.Error("Evaluate() on an unresolved field should fail closed")
	}
}

func TestEvaluate_Exists(t *testing.T) {
	c := Condition{Op: OpExists, Exists: true}
	if !Evaluate(c, "value", true) {
		t.Error("Evaluate(exists:true) should match when found")
	}
	if Evaluate(c, nil, false) == true {
		t.Error("Evaluate(exists:true) should not match when absent")
	}
}

func TestEvaluate_Prefix(t *testing.T) {
	c := Condition{Op: OpPrefix, Prefix: "ls"}
	if !Evaluate(c, "ls -la", true) {
		t.Error("Evaluate(prefix) should match a prefixed string")
	}
}

func TestEvaluate_In(t *testing.T) {
	c := Condition{Op: OpIn, In: []interface{}{"ls", "cat"}}
	if !Evaluate(c, "ls", true) {
		t.Error("Evaluate(in) should match a listed value")
	}
	if Evaluate(c, "rm", true) {
		t.Error("Evaluate(in) should not match an unlisted value")
	}
}
