// Package config loads the engine's Configuration from an INI-style file:
// a user-wide file under the user's config directory and an optional
// project-local file at the local root, keyed by absolute local path.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/smlsync/smlsync/pkg/syncerrors"
)

// Project is one section of a configuration file, keyed by the absolute
// local root it applies to.
type Project struct {
	LocalRoot string
	Project   string
	Remote    string
	Server    string
	Ignore    []string
}

// Configuration is the result of loading and merging the user-wide and
// project-local configuration files.
type Configuration struct {
	Projects map[string]Project // keyed by absolute local root
}

// Load reads the user-wide file at userWidePath (if it exists) and the
// project-local file at filepath.Join(localRoot, projectLocalName) (if it
// exists), returning the merged Configuration. A project present in both
// files is a ConfigError; a project-local file with more than one section
// is also a ConfigError.
func Load(userWidePath, localRoot, projectLocalName string) (*Configuration, error) {
	cfg := &Configuration{Projects: make(map[string]Project)}

	if userWidePath != "" {
		if _, statErr := os.Stat(userWidePath); statErr == nil {
			if err := loadInto(cfg, userWidePath, ""); err != nil {
				return nil, err
			}
		}
	}

	localRoot, err := normalizeRoot(localRoot)
	if err != nil {
		return nil, syncerrors.NewConfigError("unable to resolve local root", err)
	}

	projectLocalPath := filepath.Join(localRoot, projectLocalName)
	if _, statErr := os.Stat(projectLocalPath); statErr == nil {
		before := len(cfg.Projects)
		if err := loadInto(cfg, projectLocalPath, localRoot); err != nil {
			return nil, err
		}
		if len(cfg.Projects) > before+1 {
			return nil, syncerrors.NewConfigError("project-local configuration file must have at most one section: "+projectLocalPath, nil)
		}
	}

	return cfg, nil
}

// loadInto parses path and merges its sections into cfg. If forcedRoot is
// non-empty, every section's key is forced to that root instead of being
// taken from the section name (used for the project-local file, whose single
// section is always bound to the resolved local root).
func loadInto(cfg *Configuration, path, forcedRoot string) error {
	file, err := ini.Load(path)
	if err != nil {
		return syncerrors.NewConfigError("unable to parse configuration file: "+path, err)
	}

	for _, section := range file.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}

		root := forcedRoot
		if root == "" {
			root, err = normalizeRoot(section.Name())
			if err != nil {
				return syncerrors.NewConfigError("invalid section name in "+path+": "+section.Name(), err)
			}
		}

		if _, exists := cfg.Projects[root]; exists {
			return syncerrors.NewConfigError("project "+root+" is configured in more than one file", nil)
		}

		project := Project{
			LocalRoot: root,
			Project:   section.Key("project").String(),
			Remote:    section.Key("remote").String(),
			Server:    section.Key("server").String(),
		}
		if ignore := section.Key("ignore").String(); ignore != "" {
			for _, pattern := range strings.Split(ignore, ",") {
				if trimmed := strings.TrimSpace(pattern); trimmed != "" {
					project.Ignore = append(project.Ignore, trimmed)
				}
			}
		}
		cfg.Projects[root] = project
	}
	return nil
}

// normalizeRoot expands a leading "~" and strips any trailing slash, so that
// the same local root always produces the same section key regardless of
// how it was spelled.
func normalizeRoot(root string) (string, error) {
	if root == "" {
		return "", nil
	}
	if root == "~" || strings.HasPrefix(root, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		root = filepath.Join(home, strings.TrimPrefix(root, "~"))
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(abs, string(filepath.Separator)), nil
}

// ForRoot looks up the project bound to localRoot (normalized the same way
// as Load), reporting ok=false if none is configured.
func (c *Configuration) ForRoot(localRoot string) (Project, bool) {
	root, err := normalizeRoot(localRoot)
	if err != nil {
		return Project{}, false
	}
	p, ok := c.Projects[root]
	return p, ok
}
