package migrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Plan is a declarative list of migration steps, loaded from YAML:
//
//	steps:
//	  - version: 1
//	    name: move-users
//	    rename: {from: /users, to: /people}
//	  - version: 2
//	    merge_patch: {path: /settings, patch: {theme: dark}}
//	  - version: 3
//	    set_default: {path: /limits, value: {max: 10}}
//	  - version: 4
//	    encrypt_field: {patterns: [/connections/*/password]}
type Plan struct {
	Steps []PlanStep `yaml:"steps"`
}

// PlanStep is one version of a Plan. Exactly one operation must be set.
type PlanStep struct {
	Version int    `yaml:"version"`
	Name    string `yaml:"name"`

	Rename *struct {
		From string `yaml:"from"`
		To   string `yaml:"to"`
	} `yaml:"rename"`

	MergePatch *struct {
		Path  string `yaml:"path"`
		Patch any    `yaml:"patch"`
	} `yaml:"merge_patch"`

	SetDefault *struct {
		Path  string `yaml:"path"`
		Value any    `yaml:"value"`
	} `yaml:"set_default"`

	EncryptField *struct {
		Patterns []string `yaml:"patterns"`
	} `yaml:"encrypt_field"`
}

// ReadPlan decodes a plan. Unknown fields are rejected.
func ReadPlan(r io.Reader) (*Plan, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var p Plan
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode migration plan: %w", err)
	}
	return &p, nil
}

// LoadPlan reads a plan file.
func LoadPlan(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open migration plan: %w", err)
	}
	defer f.Close()
	return ReadPlan(f)
}

// Register adds every step of the plan to m.
func (p *Plan) Register(m *Migrator) error {
	seen := map[int]bool{}
	for i, s := range p.Steps {
		if s.Version <= 0 {
			return fmt.Errorf("plan step %d: invalid version %d", i, s.Version)
		}
		if seen[s.Version] {
			return fmt.Errorf("plan step %d: version %d listed twice", i, s.Version)
		}
		seen[s.Version] = true

		fn, op, err := s.transform()
		if err != nil {
			return fmt.Errorf("plan step %d (version %d): %w", i, s.Version, err)
		}
		name := s.Name
		if name == "" {
			name = op
		}
		m.Register(s.Version, name, fn)
	}
	return nil
}

func (s PlanStep) transform() (Transform, string, error) {
	var (
		fn  Transform
		op  string
		ops int
	)
	if s.Rename != nil {
		ops++
		op = "rename"
		fn = Rename(s.Rename.From, s.Rename.To)
	}
	if s.MergePatch != nil {
		ops++
		op = "merge_patch"
		patch, err := json.Marshal(s.MergePatch.Patch)
		if err != nil {
			return nil, "", fmt.Errorf("merge_patch: %w", err)
		}
		fn = MergePatch(s.MergePatch.Path, patch)
	}
	if s.SetDefault != nil {
		ops++
		op = "set_default"
		fn = SetDefault(s.SetDefault.Path, s.SetDefault.Value)
	}
	if s.EncryptField != nil {
		ops++
		op = "encrypt_field"
		if len(s.EncryptField.Patterns) == 0 {
			return nil, "", errors.New("encrypt_field: no patterns")
		}
		fn = EncryptField(s.EncryptField.Patterns...)
	}
	if ops != 1 {
		return nil, "", fmt.Errorf("want exactly one operation, got %d", ops)
	}
	return fn, op, nil
}
