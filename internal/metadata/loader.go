package metadata

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"chaos-orm/internal/conventions"
)

// Schema is the on-disk form of the entity definitions.
type Schema struct {
	Entities []*Entity `yaml:"entities"`
}

// Parse decodes a YAML schema document.
func Parse(data []byte) ([]*Entity, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return s.Entities, nil
}

// LoadFile reads a schema file.
func LoadFile(path string) ([]*Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	return Parse(data)
}

// LoadAll reads the schema file and populates the registry.
func LoadAll(path string, reg *Registry, conv conventions.Provider) error {
	entities, err := LoadFile(path)
	if err != nil {
		return err
	}
	if err := reg.Load(entities, conv); err != nil {
		return fmt.Errorf("load schema %s: %w", path, err)
	}

	relations := 0
	for _, e := range entities {
		relations += len(e.Relations)
	}
	slog.Info("schema loaded", "path", path, "entities", len(entities), "relations", relations)
	return nil
}
