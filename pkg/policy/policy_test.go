package policy

import "testing"

func mustCompile(t *testing.T, f File) *Policy {
	t.Helper()
	p, err := Compile(f)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestMatchMostSpecificWins(t *testing.T) {
	p := mustCompile(t, File{Rules: []Rule{
		{Pattern: "**", Validator: "default"},
		{Pattern: "docker.io/**", Validator: "dockerhub"},
		{Pattern: "docker.io/securesystemsengineering/*", Validator: "sse"},
	}})

	rule, ok := p.Match("docker.io/securesystemsengineering/alice-image")
	if !ok {
		t.Fatal("expected a match")
	}
	if rule.Validator != "sse" {
		t.Fatalf("expected sse, got %s", rule.Validator)
	}

	rule, ok = p.Match("docker.io/library/nginx")
	if !ok {
		t.Fatal("expected a match")
	}
	if rule.Validator != "dockerhub" {
		t.Fatalf("expected dockerhub, got %s", rule.Validator)
	}

	rule, ok = p.Match("myregistry.io/team/app")
	if !ok {
		t.Fatal("expected a match")
	}
	if rule.Validator != "default" {
		t.Fatalf("expected default, got %s", rule.Validator)
	}
}

func TestMatchTieBrokenByDeclarationOrder(t *testing.T) {
	p := mustCompile(t, File{Rules: []Rule{
		{Pattern: "docker.io/*/app", Validator: "first"},
		{Pattern: "docker.io/*/app", Validator: "second"},
	}})

	rule, ok := p.Match("docker.io/team/app")
	if !ok {
		t.Fatal("expected a match")
	}
	if rule.Validator != "first" {
		t.Fatalf("expected first declared rule to win tie, got %s", rule.Validator)
	}
}

func TestSingleStarDoesNotSpanSegments(t *testing.T) {
	p := mustCompile(t, File{Rules: []Rule{
		{Pattern: "docker.io/*/app", Validator: "matched"},
	}})

	if _, ok := p.Match("docker.io/a/b/app"); ok {
		t.Fatal("single * must not match across multiple path segments")
	}
}

func TestDoubleStarSpansSegments(t *testing.T) {
	p := mustCompile(t, File{Rules: []Rule{
		{Pattern: "docker.io/**/app", Validator: "matched"},
	}})

	if _, ok := p.Match("docker.io/a/b/app"); !ok {
		t.Fatal("** should span multiple path segments")
	}
	if _, ok := p.Match("docker.io/app"); !ok {
		t.Fatal("** should also match zero segments")
	}
}

func TestNoRulesRejected(t *testing.T) {
	if _, err := Compile(File{}); err == nil {
		t.Fatal("expected an error for an empty policy file")
	}
}

func TestDeniesSugar(t *testing.T) {
	no := false
	r := Rule{Pattern: "**", Verify: &no}
	if !r.Denies() {
		t.Fatal("expected verify:false to deny")
	}
	yes := true
	r2 := Rule{Pattern: "**", Verify: &yes}
	if r2.Denies() {
		t.Fatal("expected verify:true to not deny")
	}
}
