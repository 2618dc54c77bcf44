package verdict

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/victorx64/biohack-debunker/internal/model"
	"gopkg.in/yaml.v3"
)

//go:embed taxonomy.yaml
var defaultTaxonomyYAML []byte

// Role binds a taxonomy label to the policy rules that act on it
type Role string

const (
	RoleSupported     Role = "supported"
	RolePartial       Role = "partial"
	RoleUnsupported   Role = "unsupported"
	RoleNoEvidence    Role = "no_evidence"
	RoleNotAssessable Role = "not_assessable"
)

var requiredRoles = []Role{RoleSupported, RolePartial, RoleUnsupported, RoleNoEvidence, RoleNotAssessable}

type taxonomyEntry struct {
	Name     string   `yaml:"name"`
	Role     Role     `yaml:"role"`
	Negative bool     `yaml:"negative"`
	Synonyms []string `yaml:"synonyms"`
}

type taxonomyDocument struct {
	Verdicts []taxonomyEntry `yaml:"verdicts"`
}

// Taxonomy is the closed set of verdict labels plus the single mapping
// table from provider-emitted names onto them
type Taxonomy struct {
	labels   []model.Verdict
	roles    map[Role]model.Verdict
	lookup   map[string]model.Verdict
	negative map[model.Verdict]bool
}

// Default returns the built-in taxonomy
func Default() *Taxonomy {
	t, err := Parse(defaultTaxonomyYAML)
	if err != nil {
		panic(fmt.Sprintf("verdict: embedded taxonomy is invalid: %v", err))
	}
	return t
}

// LoadFile reads a taxonomy from a YAML file
func LoadFile(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy: %w", err)
	}
	return Parse(data)
}

// Parse builds a taxonomy from YAML
func Parse(data []byte) (*Taxonomy, error) {
	var doc taxonomyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}

	t := &Taxonomy{
		roles:    make(map[Role]model.Verdict),
		lookup:   make(map[string]model.Verdict),
		negative: make(map[model.Verdict]bool),
	}

	for _, entry := range doc.Verdicts {
		label := model.Verdict(normalizeKey(entry.Name))
		if label == "" {
			return nil, fmt.Errorf("taxonomy entry without a name")
		}
		if _, dup := t.lookup[string(label)]; dup {
			return nil, fmt.Errorf("duplicate taxonomy label or synonym: %s", label)
		}

		if entry.Role != "" {
			if !knownRole(entry.Role) {
				return nil, fmt.Errorf("unknown role %q for label %s", entry.Role, label)
			}
			if existing, ok := t.roles[entry.Role]; ok {
				return nil, fmt.Errorf("role %s bound twice (%s, %s)", entry.Role, existing, label)
			}
			t.roles[entry.Role] = label
		}

		t.labels = append(t.labels, label)
		t.lookup[string(label)] = label
		if entry.Negative {
			t.negative[label] = true
		}

		for _, syn := range entry.Synonyms {
			key := normalizeKey(syn)
			if key == "" {
				continue
			}
			if existing, dup := t.lookup[key]; dup && existing != label {
				return nil, fmt.Errorf("synonym %q maps to both %s and %s", syn, existing, label)
			}
			t.lookup[key] = label
		}
	}

	for _, role := range requiredRoles {
		if _, ok := t.roles[role]; !ok {
			return nil, fmt.Errorf("taxonomy is missing role %s", role)
		}
	}

	return t, nil
}

// Label returns the canonical label bound to a role
func (t *Taxonomy) Label(role Role) model.Verdict {
	return t.roles[role]
}

// Labels returns the canonical labels in declaration order
func (t *Taxonomy) Labels() []model.Verdict {
	out := make([]model.Verdict, len(t.labels))
	copy(out, t.labels)
	return out
}

// Lookup maps a provider-emitted name onto the canonical label
func (t *Taxonomy) Lookup(raw string) (model.Verdict, bool) {
	v, ok := t.lookup[normalizeKey(raw)]
	return v, ok
}

// IsNegative reports whether a label counts against the overall rating
func (t *Taxonomy) IsNegative(v model.Verdict) bool {
	return t.negative[v]
}

func knownRole(r Role) bool {
	for _, role := range requiredRoles {
		if r == role {
			return true
		}
	}
	return false
}

// normalizeKey lowercases and folds spaces and hyphens to underscores
func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return s
}
