package pathmatch

import "testing"

func TestMatchesRootPattern(t *testing.T) {
	for _, p := range []string{"a", "/a/b/c", "x/y"} {
		if !Matches(p, "/") {
			t.Errorf("expected %q to match the root pattern", p)
		}
	}
}

func TestAnchoredPatternMatchesPathAndDescendants(t *testing.T) {
	// An anchored pattern /A/B matches both the path it names and any
	// descendant of it, but not a strict ancestor.
	pattern := "/A/B"
	if !Matches("A/B", pattern) {
		t.Error("expected A/B to match /A/B")
	}
	if !Matches("A/B/C", pattern) {
		t.Error("expected A/B/C to match /A/B")
	}
	if Matches("A", pattern) {
		t.Error("expected A not to match /A/B")
	}
}

func TestFloatingPatternMatchesAnyDepth(t *testing.T) {
	if !Matches("__pycache__", "__pycache__") {
		t.Error("expected top-level __pycache__ to match floating pattern")
	}
	if !Matches("pkg/__pycache__", "__pycache__") {
		t.Error("expected nested __pycache__ to match floating pattern")
	}
	if !Matches("pkg/__pycache__/a.pyc", "__pycache__") {
		t.Error("expected a descendant of __pycache__ to match floating pattern")
	}
	if Matches("pkg/notpycache", "__pycache__") {
		t.Error("expected unrelated path not to match")
	}
}

func TestGlobMetacharacters(t *testing.T) {
	if !Matches("build/output.log", "*.log") {
		t.Error("expected *.log to match output.log as a floating pattern")
	}
	if !Matches("a1", "a?") {
		t.Error("expected a? to match a1")
	}
	if !Matches("abc", "a[bc]c") {
		t.Error("expected a[bc]c to match abc")
	}
}

func TestDoubleStarDoesNotGlobAcrossDirectories(t *testing.T) {
	// "**" is not given globstar semantics: it matches within a single
	// segment like "*" would, so it cannot stand in for an arbitrary run of
	// intermediate directories.
	if Matches("a/b/c/d", "/a/**/d") {
		t.Error("expected /a/**/d not to match across multiple nested directories")
	}
	if !Matches("a/b/d", "/a/**/d") {
		t.Error("expected /a/**/d to match when ** covers exactly one segment")
	}
}

func TestMatchesAnyOf(t *testing.T) {
	patterns := []string{"__pycache__", "/node_modules"}
	if !MatchesAnyOf("node_modules", patterns) {
		t.Error("expected node_modules to match")
	}
	if !MatchesAnyOf("pkg/__pycache__/a.pyc", patterns) {
		t.Error("expected pkg/__pycache__/a.pyc to match")
	}
	if MatchesAnyOf("src/main.go", patterns) {
		t.Error("expected src/main.go not to match")
	}
}
