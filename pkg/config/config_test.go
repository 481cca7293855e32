package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadMergesUserWideAndProjectLocal(t *testing.T) {
	dir := t.TempDir()
	localRoot := filepath.Join(dir, "myproject")
	if err := os.MkdirAll(localRoot, 0o755); err != nil {
		t.Fatal(err)
	}

	userWide := filepath.Join(dir, "user.ini")
	writeFile(t, userWide, "[/some/other/project]\nproject = other\nremote = /srv/other\n")

	projectLocal := filepath.Join(localRoot, ".smlsync.ini")
	writeFile(t, projectLocal, "[ignored-section-name]\nproject = myproject\nremote = /srv/myproject\nignore = __pycache__, .git\n")

	cfg, err := Load(userWide, localRoot, ".smlsync.ini")
	if err != nil {
		t.Fatal(err)
	}

	if len(cfg.Projects) != 2 {
		t.Fatalf("expected 2 merged projects, got %d: %v", len(cfg.Projects), cfg.Projects)
	}

	p, ok := cfg.ForRoot(localRoot)
	if !ok {
		t.Fatal("expected a project bound to the local root")
	}
	if p.Project != "myproject" || p.Remote != "/srv/myproject" {
		t.Fatalf("unexpected project: %+v", p)
	}
	if len(p.Ignore) != 2 || p.Ignore[0] != "__pycache__" || p.Ignore[1] != ".git" {
		t.Fatalf("unexpected ignore list: %v", p.Ignore)
	}
}

func TestLoadRejectsDuplicateProjectAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	localRoot := filepath.Join(dir, "myproject")
	if err := os.MkdirAll(localRoot, 0o755); err != nil {
		t.Fatal(err)
	}

	userWide := filepath.Join(dir, "user.ini")
	writeFile(t, userWide, "["+localRoot+"]\nproject = myproject\n")

	projectLocal := filepath.Join(localRoot, ".smlsync.ini")
	writeFile(t, projectLocal, "[anything]\nproject = myproject\n")

	if _, err := Load(userWide, localRoot, ".smlsync.ini"); err == nil {
		t.Fatal("expected duplicate project across files to be rejected")
	}
}

func TestLoadRejectsMultiSectionProjectLocalFile(t *testing.T) {
	dir := t.TempDir()
	localRoot := filepath.Join(dir, "myproject")
	if err := os.MkdirAll(localRoot, 0o755); err != nil {
		t.Fatal(err)
	}

	projectLocal := filepath.Join(localRoot, ".smlsync.ini")
	writeFile(t, projectLocal, "[a]\nproject = one\n\n[b]\nproject = two\n")

	if _, err := Load("", localRoot, ".smlsync.ini"); err == nil {
		t.Fatal("expected a multi-section project-local file to be rejected")
	}
}

func TestLoadWithNoFilesPresentYieldsEmptyConfiguration(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load("", dir, ".smlsync.ini")
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Projects) != 0 {
		t.Fatalf("expected no projects, got %v", cfg.Projects)
	}
}
