// Package catalog resolves skill names to validated definitions.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ormasoftchile/skillrun/pkg/schema"
)

// Catalog is the skill lookup surface the orchestrator depends on for
// nested skill_run steps.
type Catalog interface {
	// LoadSkill returns the validated definition for name, or an error
	// when the skill is unknown or invalid.
	LoadSkill(name string) (*schema.SkillDefinition, error)
	// List returns the available skill names, sorted.
	List() ([]string, error)
}

// DirCatalog serves skills from a directory of YAML files, one skill
// per file, named <skill>.yaml or <skill>.yml.
type DirCatalog struct {
	Dir string
}

// NewDirCatalog verifies the directory exists before returning a
// catalog over it.
func NewDirCatalog(dir string) (*DirCatalog, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("skill directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("skill directory: %s is not a directory", dir)
	}
	return &DirCatalog{Dir: dir}, nil
}

func (c *DirCatalog) LoadSkill(name string) (*schema.SkillDefinition, error) {
	// Skill names are bare identifiers; reject anything that could
	// escape the catalog directory.
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid skill name %q", name)
	}

	path := ""
	for _, ext := range []string{".yaml", ".yml"} {
		candidate := filepath.Join(c.Dir, name+ext)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
	}
	if path == "" {
		return nil, fmt.Errorf("skill %q not found in %s", name, c.Dir)
	}

	def, errs := schema.ValidateFile(path)
	if schema.HasErrors(errs) {
		return nil, fmt.Errorf("skill %q failed validation: %s", name, errs[0].Error())
	}
	if def.Name != name {
		return nil, fmt.Errorf("skill file %s declares name %q, expected %q", filepath.Base(path), def.Name, name)
	}
	return def, nil
}

func (c *DirCatalog) List() ([]string, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	seen := make(map[string]bool)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ext)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// StaticCatalog serves an in-memory set of definitions, keyed by skill
// name. Used by tests and embedded callers.
type StaticCatalog map[string]*schema.SkillDefinition

func (c StaticCatalog) LoadSkill(name string) (*schema.SkillDefinition, error) {
	def, ok := c[name]
	if !ok {
		return nil, fmt.Errorf("skill %q not found", name)
	}
	return def, nil
}

func (c StaticCatalog) List() ([]string, error) {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
