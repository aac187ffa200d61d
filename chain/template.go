package chain

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Template is a saved, reusable list of chain instructions.
type Template struct {
	Name      string    `json:"name" yaml:"name"`
	Steps     []string  `json:"steps" yaml:"steps"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt,omitempty"`
}

func (t Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("template name is required")
	}
	if len(t.Steps) == 0 {
		return ErrNoInstructions
	}
	for i, s := range t.Steps {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: step %d", ErrBlankStep, i+1)
		}
	}
	return nil
}

// Definition is a chain described in a YAML file:
//
//	name: summarize-then-translate
//	steps:
//	  - Summarize this text
//	  - Translate to French
//	input: |
//	  optional initial input
type Definition struct {
	Name  string   `yaml:"name"`
	Steps []string `yaml:"steps"`
	Input string   `yaml:"input"`
}

func (d Definition) Template() Template {
	return Template{Name: d.Name, Steps: append([]string(nil), d.Steps...)}
}

func LoadFile(path string) (Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read chain file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return Definition{}, fmt.Errorf("parse chain definition: %w", err)
	}
	def.Name = strings.TrimSpace(def.Name)
	if len(def.Steps) == 0 {
		return Definition{}, ErrNoInstructions
	}
	for i, s := range def.Steps {
		if strings.TrimSpace(s) == "" {
			return Definition{}, fmt.Errorf("%w: step %d", ErrBlankStep, i+1)
		}
	}
	return def, nil
}
