package localalpha

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/flowgraph/planner/internal/errors"
)

// Load reads a local-alpha config from a YAML file. Fields absent from the
// file keep their DefaultConfig values. Validation failure is a startup
// error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.New(errors.ConfigInvalid, fmt.Sprintf("cannot read local alpha config %s", path), err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.New(errors.ConfigInvalid, fmt.Sprintf("cannot parse local alpha config %s", path), err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, errors.New(errors.ConfigInvalid, "local alpha config failed validation", err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load when path is non-empty, and returns the
// built-in defaults otherwise.
func LoadOrDefault(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	return Load(path)
}
