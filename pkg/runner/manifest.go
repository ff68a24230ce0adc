package runner

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the file a component directory must contain.
const ManifestFile = "component.yaml"

// Runtimes a manifest may request.
const (
	RuntimeProcess   = "process"
	RuntimeContainer = "container"
)

// Placeholders always available to command templates.
const (
	PlaceholderOutputDir = "output_dir"
	PlaceholderWorkDir   = "work_dir"
)

// Parameter types understood by manifests. Path parameters are staged into
// the container when the component runs there.
const (
	ParamString = "string"
	ParamFloat  = "float"
	ParamInt    = "int"
	ParamPath   = "path"
)

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// ParameterSpec declares one entry point parameter.
type ParameterSpec struct {
	Type    string  `yaml:"type"`
	Default *string `yaml:"default"`
}

// EntryPointSpec is a command template with its parameters.
type EntryPointSpec struct {
	Parameters map[string]ParameterSpec `yaml:"parameters"`
	Command    []string                 `yaml:"command"`
}

// Manifest describes an external component.
type Manifest struct {
	Name        string                    `yaml:"name"`
	Runtime     string                    `yaml:"runtime"`
	Image       string                    `yaml:"image"`
	Env         map[string]string         `yaml:"env"`
	EntryPoints map[string]EntryPointSpec `yaml:"entry_points"`

	// Dir is the absolute component directory the manifest was loaded from.
	Dir string `yaml:"-"`
}

// LoadManifest reads and validates dir/component.yaml.
func LoadManifest(dir string) (*Manifest, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve component directory: %w", err)
	}
	data, err := os.ReadFile(filepath.Join(abs, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read component manifest: %w", err)
	}

	var manifest Manifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&manifest); err != nil {
		return nil, fmt.Errorf("parse component manifest %s: %w", abs, err)
	}
	manifest.Dir = abs
	if manifest.Runtime == "" {
		manifest.Runtime = RuntimeProcess
	}
	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("component %s: %w", abs, err)
	}
	return &manifest, nil
}

// Validate checks the manifest is executable.
func (m *Manifest) Validate() error {
	switch m.Runtime {
	case RuntimeProcess:
	case RuntimeContainer:
		if strings.TrimSpace(m.Image) == "" {
			return errors.New("container runtime requires an image")
		}
	default:
		return fmt.Errorf("unknown runtime %q", m.Runtime)
	}
	if len(m.EntryPoints) == 0 {
		return errors.New("no entry points declared")
	}
	for name, ep := range m.EntryPoints {
		if len(ep.Command) == 0 {
			return fmt.Errorf("entry point %q has no command", name)
		}
		for _, part := range ep.Command {
			for _, match := range placeholderPattern.FindAllStringSubmatch(part, -1) {
				key := match[1]
				if key == PlaceholderOutputDir || key == PlaceholderWorkDir {
					continue
				}
				if _, declared := ep.Parameters[key]; !declared {
					return fmt.Errorf("entry point %q references undeclared parameter %q", name, key)
				}
			}
		}
	}
	return nil
}

// EntryPoint returns the named entry point, defaulting to main.
func (m *Manifest) EntryPoint(name string) (EntryPointSpec, error) {
	if name == "" {
		name = DefaultEntryPoint
	}
	ep, ok := m.EntryPoints[name]
	if !ok {
		return EntryPointSpec{}, fmt.Errorf("component %q has no entry point %q", m.Name, name)
	}
	return ep, nil
}

// Bind merges supplied values with declared defaults. Every declared
// parameter must end up with a value and no undeclared one is accepted.
func (ep EntryPointSpec) Bind(values map[string]string) (map[string]string, error) {
	var unknown []string
	for key := range values {
		if _, ok := ep.Parameters[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("undeclared parameters: %s", strings.Join(unknown, ", "))
	}

	bound := make(map[string]string, len(ep.Parameters))
	var missing []string
	for key, spec := range ep.Parameters {
		if v, ok := values[key]; ok {
			bound[key] = v
			continue
		}
		if spec.Default != nil {
			bound[key] = *spec.Default
			continue
		}
		missing = append(missing, key)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing required parameters: %s", strings.Join(missing, ", "))
	}
	return bound, nil
}

// Render substitutes {name} placeholders in the command template.
func (ep EntryPointSpec) Render(values map[string]string) ([]string, error) {
	out := make([]string, len(ep.Command))
	var renderErr error
	for i, part := range ep.Command {
		out[i] = placeholderPattern.ReplaceAllStringFunc(part, func(token string) string {
			key := token[1 : len(token)-1]
			v, ok := values[key]
			if !ok && renderErr == nil {
				renderErr = fmt.Errorf("no value for placeholder %q", key)
			}
			return v
		})
	}
	if renderErr != nil {
		return nil, renderErr
	}
	return out, nil
}

// PathParameters lists declared parameters of type path, sorted.
func (ep EntryPointSpec) PathParameters() []string {
	var names []string
	for name, spec := range ep.Parameters {
		if spec.Type == ParamPath {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
