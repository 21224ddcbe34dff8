package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// StatusPage maps a watch group to its Instatus page.
// Groups without a status page are notified via chat only.
type StatusPage struct {
	PageID      string   `yaml:"page_id"`
	Components  []string `yaml:"components"`
	ServiceName string   `yaml:"service_name"`
	// PublicURL is the public base of the status page, linked from chat
	// notifications (e.g. "https://saaske.instatus.com").
	PublicURL string `yaml:"public_url"`
}

// Group is one incident-lifecycle unit: every target whose key matches
// Pattern contributes to this group's incident.
type Group struct {
	Name       string      `yaml:"name"`
	Pattern    string      `yaml:"pattern"`
	StatusPage *StatusPage `yaml:"status_page,omitempty"`

	re *regexp.Regexp
}

// Matches reports whether a target key belongs to this group.
func (g *Group) Matches(key string) bool {
	return g.re != nil && g.re.MatchString(key)
}

// groupsFile is the YAML document shape for GROUPS_FILE.
type groupsFile struct {
	Groups []Group `yaml:"groups"`
}

// DefaultGroups returns the built-in group list. Order matters: rules are
// evaluated first-match-wins, so the specific saaske sub-groups come before
// the generic saaske rule. Status pages are not configured here; they come
// from the groups file.
func DefaultGroups() []Group {
	groups := []Group{
		{Name: "saaske_api", Pattern: `^saaske_api$`},
		{Name: "saaske_webform", Pattern: `^saaske_webform$`},
		{Name: "saaske_webtracking", Pattern: `^saaske_webtracking(_v2)?$`},
		{Name: "saaske_other", Pattern: `^saaske_(broad_ap|sfc)$`},
		{Name: "saaske", Pattern: `^saaske\d+$`},
		{Name: "works", Pattern: `^works\d+$`},
		{Name: "web", Pattern: `^web_.*$`},
	}
	// Patterns are literals; compilation cannot fail.
	for i := range groups {
		groups[i].re = regexp.MustCompile(groups[i].Pattern)
	}
	return groups
}

// LoadGroups reads the group definitions from a YAML file. An empty path
// returns the built-in defaults.
func LoadGroups(path string) ([]Group, error) {
	if path == "" {
		return DefaultGroups(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read groups file: %w", err)
	}

	var doc groupsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse groups file: %w", err)
	}
	if len(doc.Groups) == 0 {
		return nil, fmt.Errorf("groups file %s defines no groups", path)
	}

	seen := make(map[string]bool)
	for i := range doc.Groups {
		g := &doc.Groups[i]
		if g.Name == "" {
			return nil, fmt.Errorf("group %d has no name", i)
		}
		if seen[g.Name] {
			return nil, fmt.Errorf("duplicate group name %q", g.Name)
		}
		seen[g.Name] = true

		re, err := regexp.Compile(g.Pattern)
		if err != nil {
			return nil, fmt.Errorf("group %q has invalid pattern %q: %w", g.Name, g.Pattern, err)
		}
		g.re = re
	}

	return doc.Groups, nil
}

// ValidateGroups checks that every target key belongs to at most one group.
// A key matching two or more rules is a configuration error: the same target
// would feed two incident lifecycles.
func ValidateGroups(groups []Group, keys []string) error {
	for _, key := range keys {
		var matched []string
		for i := range groups {
			if groups[i].Matches(key) {
				matched = append(matched, groups[i].Name)
			}
		}
		if len(matched) > 1 {
			return fmt.Errorf("target key %q matches multiple groups %v; patterns must be unambiguous", key, matched)
		}
	}
	return nil
}
