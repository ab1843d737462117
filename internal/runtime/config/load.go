package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type document struct {
	Procflow Config `yaml:"procflow"`
}

// LoadYAML decodes a configuration document whose root key is "procflow".
// Unknown keys are ignored and an empty document yields a zero Config.
func LoadYAML(r io.Reader) (*Config, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("procflow: decode configuration: %w", err)
	}
	return &doc.Procflow, nil
}

// LoadYAMLFile reads and decodes the configuration file at path.
func LoadYAMLFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("procflow: open configuration: %w", err)
	}
	defer f.Close()
	return LoadYAML(f)
}
