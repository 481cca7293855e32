package fstree

import (
	"testing"
	"time"
)

var epoch = time.Unix(1_600_000_000, 0)

func file(path string, mtime time.Time, size int64) Object {
	return NewFile(path, NewFileAttrs(mtime, size))
}

func dir(path string, mtime time.Time) Object {
	return NewDirectory(path, NewDirectoryAttrs(mtime))
}

// TestCompareEmptyTrees checks that two empty trees yield no differences.
func TestCompareEmptyTrees(t *testing.T) {
	if diffs := Compare(nil, nil); len(diffs) != 0 {
		t.Fatalf("expected no differences, got %v", diffs)
	}
}

// TestCompareLeftOnly checks that a path present only in the left tree
// yields a single LeftOnly difference.
func TestCompareLeftOnly(t *testing.T) {
	left := []Object{file("a.txt", epoch, 10)}
	diffs := Compare(left, nil)
	if len(diffs) != 1 {
		t.Fatalf("expected 1 difference, got %d", len(diffs))
	}
	if diffs[0].Type != LeftOnly || diffs[0].Left.Path != "a.txt" {
		t.Fatalf("unexpected difference: %+v", diffs[0])
	}
}

func TestCompareIdenticalTreesYieldsNothing(t *testing.T) {
	tree := []Object{
		file("a.txt", epoch, 10),
		dir("pkg", epoch),
		file("pkg/b.txt", epoch, 20),
	}
	if diffs := Compare(tree, tree); len(diffs) != 0 {
		t.Fatalf("expected no differences comparing a tree to itself, got %v", diffs)
	}
}

func TestCompareDirectoryMtimeDifferenceSuppressed(t *testing.T) {
	left := []Object{dir("pkg", epoch)}
	right := []Object{dir("pkg", epoch.Add(10 * time.Second))}
	if diffs := Compare(left, right); len(diffs) != 0 {
		t.Fatalf("expected directory mtime differences to be suppressed, got %v", diffs)
	}
}

func TestCompareTypeDifferent(t *testing.T) {
	left := []Object{file("x", epoch, 5)}
	right := []Object{dir("x", epoch)}
	diffs := Compare(left, right)
	if len(diffs) != 1 || diffs[0].Type != TypeDifferent {
		t.Fatalf("expected a single TypeDifferent difference, got %v", diffs)
	}
}

func TestCompareAttrsDifferent(t *testing.T) {
	left := []Object{file("x.py", epoch, 5)}
	right := []Object{file("x.py", epoch.Add(10 * time.Second), 5)}
	diffs := Compare(left, right)
	if len(diffs) != 1 || diffs[0].Type != AttrsDifferent {
		t.Fatalf("expected a single AttrsDifferent difference, got %v", diffs)
	}
}

// TestCompareIsMirrored checks that compare(L, R) and compare(R, L) are
// mirror images of one another.
func TestCompareIsMirrored(t *testing.T) {
	left := []Object{
		file("only-left", epoch, 1),
		file("shared-attrs-diff", epoch, 1),
		dir("shared-type-diff", epoch),
	}
	right := []Object{
		file("only-right", epoch, 1),
		file("shared-attrs-diff", epoch.Add(time.Second), 1),
		file("shared-type-diff", epoch, 2),
	}

	forward := Compare(left, right)
	backward := Compare(right, left)

	if len(forward) != len(backward) {
		t.Fatalf("mirrored comparisons have different lengths: %d vs %d", len(forward), len(backward))
	}

	byPath := make(map[string]Difference, len(backward))
	for _, d := range backward {
		key := d.Left.Path
		if key == "" {
			key = d.Right.Path
		}
		byPath[key] = d
	}

	for _, d := range forward {
		key := d.Left.Path
		if key == "" {
			key = d.Right.Path
		}
		mirror, ok := byPath[key]
		if !ok {
			t.Fatalf("no mirrored difference found for %s", key)
		}
		switch d.Type {
		case LeftOnly:
			if mirror.Type != RightOnly || mirror.Right.Path != d.Left.Path {
				t.Errorf("expected RightOnly mirror for %s, got %+v", key, mirror)
			}
		case RightOnly:
			if mirror.Type != LeftOnly || mirror.Left.Path != d.Right.Path {
				t.Errorf("expected LeftOnly mirror for %s, got %+v", key, mirror)
			}
		case TypeDifferent, AttrsDifferent:
			if mirror.Type != d.Type {
				t.Errorf("expected matching type for %s, got %v vs %v", key, d.Type, mirror.Type)
			}
		}
	}
}

// TestCompareEachPathAtMostOnce checks that every path appears in at most
// one Difference.
func TestCompareEachPathAtMostOnce(t *testing.T) {
	left := []Object{file("a", epoch, 1), file("b", epoch, 2)}
	right := []Object{file("b", epoch.Add(time.Second), 2), file("c", epoch, 3)}

	diffs := Compare(left, right)
	seen := make(map[string]int)
	for _, d := range diffs {
		path := d.Left.Path
		if path == "" {
			path = d.Right.Path
		}
		seen[path]++
	}
	for path, count := range seen {
		if count != 1 {
			t.Errorf("path %s appeared in %d differences, expected 1", path, count)
		}
	}
}
