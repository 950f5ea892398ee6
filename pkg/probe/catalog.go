// Copyright 2025 Elmscope Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package probe

import (
	_ "embed"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed data/suites.yaml
var embeddedCatalogYAML []byte

var (
	defaultCatalogOnce sync.Once
	defaultCatalog     *Catalog
	defaultCatalogErr  error

	validate = validator.New()
)

// Category names a scored part of the compatibility report.
type Category string

// Scored categories. Suites without a category are recorded but not scored.
const (
	CategoryBasic    Category = "basic_functionality"
	CategoryTiming   Category = "timing_realistic"
	CategorySecurity Category = "security_bypass"
	CategoryPID      Category = "simulation_quality"
)

// Categories lists the scored categories in report order.
var Categories = []Category{CategoryBasic, CategoryTiming, CategorySecurity, CategoryPID}

// Catalog is the ordered set of probe suites.
type Catalog struct {
	Suites []Suite `yaml:"suites" validate:"required,min=1,dive"`
}

// Suite groups steps that are run and scored together.
type Suite struct {
	Name        string     `yaml:"name" validate:"required"`
	Description string     `yaml:"description"`
	Category    Category   `yaml:"category" validate:"omitempty,oneof=basic_functionality timing_realistic security_bypass simulation_quality"`
	Quick       bool       `yaml:"quick"`
	Steps       []StepSpec `yaml:"steps" validate:"required,min=1,dive"`
}

// StepSpec is the catalog form of a Step.
type StepSpec struct {
	Command     string      `yaml:"command" validate:"required"`
	Description string      `yaml:"description"`
	Expect      Expectation `yaml:"expect"`
	Repeat      int         `yaml:"repeat" validate:"gte=0,lte=1000"`
	TimeoutMs   int         `yaml:"timeout_ms" validate:"gte=0"`
	DelayMs     int         `yaml:"delay_ms" validate:"gte=0"`
}

// DefaultCatalog returns the embedded suite catalog.
func DefaultCatalog() (*Catalog, error) {
	defaultCatalogOnce.Do(func() {
		defaultCatalog, defaultCatalogErr = ParseCatalog(embeddedCatalogYAML)
	})
	if defaultCatalogErr != nil {
		return nil, defaultCatalogErr
	}
	return defaultCatalog, nil
}

// LoadCatalog returns the catalog at path, or the embedded one when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewInvalidCatalogError(fmt.Sprintf("read %s: %v", path, err))
	}
	return ParseCatalog(data)
}

// ParseCatalog parses raw YAML into a validated Catalog without touching the
// embedded default.
func ParseCatalog(data []byte) (*Catalog, error) {
	if len(data) == 0 {
		return nil, NewInvalidCatalogError("catalog is empty")
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, NewInvalidCatalogError(fmt.Sprintf("unmarshal catalog: %v", err))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks suite names are unique and every expectation is usable.
func (c *Catalog) Validate() error {
	if err := validate.Struct(c); err != nil {
		return NewInvalidCatalogError(err.Error())
	}
	seen := make(map[string]struct{}, len(c.Suites))
	for _, s := range c.Suites {
		if _, dup := seen[s.Name]; dup {
			return NewInvalidCatalogError(fmt.Sprintf("duplicate suite %q", s.Name))
		}
		seen[s.Name] = struct{}{}
		for i, st := range s.Steps {
			if err := st.Expect.validate(); err != nil {
				return NewInvalidCatalogError(fmt.Sprintf("suite %q step %d (%s): %v", s.Name, i, st.Command, err))
			}
		}
	}
	return nil
}

func (e Expectation) validate() error {
	switch e.Kind {
	case ExpectContains, ExpectEquals, ExpectPrefix:
		if e.Value == "" {
			return fmt.Errorf("%s needs a value", e.Kind)
		}
	case ExpectMinVersion:
		if _, err := semver.NewConstraint(e.Value); err != nil {
			return fmt.Errorf("min_version %q: %w", e.Value, err)
		}
	case ExpectPIDFormat, ExpectNotError, ExpectErrorExpected, ExpectAny:
	default:
		return fmt.Errorf("unknown expectation kind %q", e.Kind)
	}
	return nil
}

// Names returns suite names in run order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Suites))
	for _, s := range c.Suites {
		names = append(names, s.Name)
	}
	return names
}

// Suite looks a suite up by name.
func (c *Catalog) Suite(name string) (Suite, bool) {
	for _, s := range c.Suites {
		if s.Name == name {
			return s, true
		}
	}
	return Suite{}, false
}

// Select picks suites in catalog order. With no names it returns every
// suite, or only the quick ones when quick is set.
func (c *Catalog) Select(names []string, quick bool) ([]Suite, error) {
	if len(names) == 0 {
		var out []Suite
		for _, s := range c.Suites {
			if !quick || s.Quick {
				out = append(out, s)
			}
		}
		return out, nil
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := c.Suite(n); !ok {
			return nil, NewUnknownSuiteError(n, c.Names())
		}
		want[n] = true
	}
	var out []Suite
	for _, s := range c.Suites {
		if want[s.Name] {
			out = append(out, s)
		}
	}
	return out, nil
}

// Steps expands suites into the flat step list the Driver runs. Steps
// without their own timeout get defaultTimeout.
func Steps(suites []Suite, defaultTimeout time.Duration) []Step {
	var steps []Step
	for _, s := range suites {
		for _, spec := range s.Steps {
			timeout := defaultTimeout
			if spec.TimeoutMs > 0 {
				timeout = time.Duration(spec.TimeoutMs) * time.Millisecond
			}
			n := max(spec.Repeat, 1)
			for range n {
				steps = append(steps, Step{
					Suite:       s.Name,
					Category:    s.Category,
					Command:     spec.Command,
					Description: spec.Description,
					Expect:      spec.Expect,
					Timeout:     timeout,
					Delay:       time.Duration(spec.DelayMs) * time.Millisecond,
				})
			}
		}
	}
	return steps
}
