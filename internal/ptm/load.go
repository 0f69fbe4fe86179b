package ptm

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a PTM reference file.
type File struct {
	PTMs []PTM `yaml:"ptms"`
}

// ReadYAML decodes a reference file and checks that its records form a tree.
func ReadYAML(r io.Reader) ([]PTM, error) {
	var f File
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode ptm file: %w", err)
	}
	seen := make(map[string]bool, len(f.PTMs))
	for _, p := range f.PTMs {
		if p.ID == "" || p.Name == "" {
			return nil, fmt.Errorf("ptm %q: id and name are required", p.Name)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("ptm %s: duplicate id", p.ID)
		}
		seen[p.ID] = true
	}
	if _, err := NewRegistry(f.PTMs); err != nil {
		return nil, err
	}
	return f.PTMs, nil
}
