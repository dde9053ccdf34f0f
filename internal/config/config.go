package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// EnvOverride records an environment variable override that was applied
type EnvOverride struct {
	EnvVar    string      // e.g., "PLANNER_ENGINE_MAX_IN_FLIGHT"
	Path      string      // e.g., "engine.maxInFlight"
	Value     interface{} // The parsed value that was applied
	FromValue string      // Original string value from env
}

// LoadResult contains the loaded config plus metadata about how it was loaded
type LoadResult struct {
	Config       *Config
	ConfigPath   string        // Path to config file that was loaded (empty if defaults used)
	EnvOverrides []EnvOverride // Environment variable overrides that were applied
	UsedDefaults bool          // True if no config file was found
}

// Config represents the complete planner configuration.
type Config struct {
	Version  int    `json:"version" mapstructure:"version"`
	StateDir string `json:"stateDir" mapstructure:"stateDir"`

	Storage  StorageConfig  `json:"storage" mapstructure:"storage"`
	Engine   EngineConfig   `json:"engine" mapstructure:"engine"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Semantic SemanticConfig `json:"semantic" mapstructure:"semantic"`

	// DagScoringPath and LocalAlphaPath point at the YAML files backing
	// dagscoring.Config and localalpha.Config. Relative paths resolve
	// against StateDir. Empty means "use built-in defaults".
	DagScoringPath string `json:"dagScoringPath" mapstructure:"dagScoringPath"`
	LocalAlphaPath string `json:"localAlphaPath" mapstructure:"localAlphaPath"`
}

// StorageConfig configures the sqlite-backed persistence layer.
type StorageConfig struct {
	// DBPath overrides the default "<stateDir>/planner.db" location.
	DBPath string `json:"dbPath" mapstructure:"dbPath"`
}

// EngineConfig tunes the MCP request-dispatch and recompute behavior.
type EngineConfig struct {
	MaxInFlight              int `json:"maxInFlight" mapstructure:"maxInFlight"`
	SamplingTimeoutSeconds   int `json:"samplingTimeoutSeconds" mapstructure:"samplingTimeoutSeconds"`
	RecomputeDebounceSeconds int `json:"recomputeDebounceSeconds" mapstructure:"recomputeDebounceSeconds"`
}

// SemanticConfig configures the embeddings-backed SemanticSearch adapter.
type SemanticConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Model   string `json:"model" mapstructure:"model"`
	APIKey  string `json:"apiKey" mapstructure:"apiKey"`
	BaseURL string `json:"baseUrl" mapstructure:"baseUrl"`
}

// LoggingConfig controls the structured loggers built by slogutil.
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`

	// MCP and Index override the level for the mcp-transport and
	// system/learning-loop loggers respectively; empty falls back to Level.
	MCP   string `json:"mcp" mapstructure:"mcp"`
	Index string `json:"index" mapstructure:"index"`

	// MaxSize/MaxBackups enable rotation on file loggers when MaxSize is
	// non-empty (e.g. "50MB").
	MaxSize    string `json:"maxSize" mapstructure:"maxSize"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxBackups"`

	Remote *RemoteLogConfig `json:"remote" mapstructure:"remote"`
}

// RemoteLogConfig configures shipping logs to an external sink in addition
// to the local file logger.
type RemoteLogConfig struct {
	Type          string            `json:"type" mapstructure:"type"`
	Endpoint      string            `json:"endpoint" mapstructure:"endpoint"`
	Labels        map[string]string `json:"labels" mapstructure:"labels"`
	BatchSize     int               `json:"batchSize" mapstructure:"batchSize"`
	FlushInterval string            `json:"flushInterval" mapstructure:"flushInterval"`
}

// DefaultConfig returns the planner's built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Version:  1,
		StateDir: ".planner",
		Storage:  StorageConfig{DBPath: ""},
		Engine: EngineConfig{
			MaxInFlight:              10,
			SamplingTimeoutSeconds:   300,
			RecomputeDebounceSeconds: 5,
		},
		Logging: LoggingConfig{
			Format:     "human",
			Level:      "info",
			MaxBackups: 3,
		},
		Semantic: SemanticConfig{
			Enabled: false,
			Model:   "text-embedding-3-small",
		},
	}
}

// LoadConfig loads configuration from "<stateDir>/config.json".
// For more detailed loading info (env overrides, config path), use LoadConfigWithDetails.
func LoadConfig(stateDir string) (*Config, error) {
	result, err := LoadConfigWithDetails(stateDir)
	if err != nil {
		return nil, err
	}
	return result.Config, nil
}

// ConfigPathEnvVar is the environment variable used to point at an explicit
// config file location, overriding the default "<stateDir>/config.json".
const ConfigPathEnvVar = "PLANNER_CONFIG_PATH"

// LoadConfigWithDetails loads configuration and returns detailed info about
// how it was loaded.
func LoadConfigWithDetails(stateDir string) (*LoadResult, error) {
	result := &LoadResult{}

	configPath := os.Getenv(ConfigPathEnvVar)
	if configPath != "" {
		cfg, err := loadConfigFromPath(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s=%s: %w", ConfigPathEnvVar, configPath, err)
		}
		result.Config = cfg
		result.ConfigPath = configPath
	} else {
		v := viper.New()
		v.SetDefault("version", 1)
		v.SetDefault("stateDir", stateDir)

		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(stateDir)

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				cfg := DefaultConfig()
				if stateDir != "" {
					cfg.StateDir = stateDir
				}
				result.Config = cfg
				result.UsedDefaults = true
			} else {
				return nil, err
			}
		} else {
			cfg := DefaultConfig()
			if err := v.Unmarshal(cfg); err != nil {
				return nil, err
			}
			result.Config = cfg
			result.ConfigPath = v.ConfigFileUsed()
		}
	}

	result.EnvOverrides = applyEnvOverrides(result.Config)

	if err := result.Config.Validate(); err != nil {
		return nil, err
	}

	return result, nil
}

func loadConfigFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid JSON in config file: %w", err)
	}
	return cfg, nil
}

type envVarDef struct {
	path    string
	varType string // "string", "int", "bool"
}

var envVarMappings = map[string]envVarDef{
	"PLANNER_STATE_DIR":                 {path: "stateDir", varType: "string"},
	"PLANNER_STORAGE_DB_PATH":           {path: "storage.dbPath", varType: "string"},
	"PLANNER_ENGINE_MAX_IN_FLIGHT":      {path: "engine.maxInFlight", varType: "int"},
	"PLANNER_ENGINE_SAMPLING_TIMEOUT_S": {path: "engine.samplingTimeoutSeconds", varType: "int"},
	"PLANNER_ENGINE_RECOMPUTE_DEBOUNCE": {path: "engine.recomputeDebounceSeconds", varType: "int"},
	"PLANNER_LOG_LEVEL":                 {path: "logging.level", varType: "string"},
	"PLANNER_LOG_FORMAT":                {path: "logging.format", varType: "string"},
	"PLANNER_LOGGING_MCP":               {path: "logging.mcp", varType: "string"},
	"PLANNER_LOGGING_INDEX":             {path: "logging.index", varType: "string"},
	"PLANNER_DAG_SCORING_PATH":          {path: "dagScoringPath", varType: "string"},
	"PLANNER_LOCAL_ALPHA_PATH":          {path: "localAlphaPath", varType: "string"},
	"PLANNER_SEMANTIC_ENABLED":          {path: "semantic.enabled", varType: "bool"},
	"PLANNER_SEMANTIC_MODEL":            {path: "semantic.model", varType: "string"},
	"PLANNER_SEMANTIC_API_KEY":          {path: "semantic.apiKey", varType: "string"},
	"PLANNER_SEMANTIC_BASE_URL":         {path: "semantic.baseUrl", varType: "string"},
}

func applyEnvOverrides(cfg *Config) []EnvOverride {
	var overrides []EnvOverride

	for envVar, def := range envVarMappings {
		value := os.Getenv(envVar)
		if value == "" {
			continue
		}

		var parsedValue interface{}
		var err error

		switch def.varType {
		case "string":
			parsedValue = value
		case "int":
			parsedValue, err = strconv.Atoi(value)
			if err != nil {
				continue
			}
		case "bool":
			parsedValue, err = strconv.ParseBool(value)
			if err != nil {
				continue
			}
		}

		if applyOverride(cfg, def.path, parsedValue) {
			overrides = append(overrides, EnvOverride{
				EnvVar:    envVar,
				Path:      def.path,
				Value:     parsedValue,
				FromValue: value,
			})
		}
	}

	return overrides
}

func applyOverride(cfg *Config, path string, value interface{}) bool {
	parts := strings.Split(path, ".")

	switch parts[0] {
	case "stateDir":
		if v, ok := value.(string); ok {
			cfg.StateDir = v
			return true
		}
	case "dagScoringPath":
		if v, ok := value.(string); ok {
			cfg.DagScoringPath = v
			return true
		}
	case "localAlphaPath":
		if v, ok := value.(string); ok {
			cfg.LocalAlphaPath = v
			return true
		}
	case "storage":
		if len(parts) < 2 {
			return false
		}
		if parts[1] == "dbPath" {
			if v, ok := value.(string); ok {
				cfg.Storage.DBPath = v
				return true
			}
		}
	case "engine":
		if len(parts) < 2 {
			return false
		}
		switch parts[1] {
		case "maxInFlight":
			if v, ok := value.(int); ok {
				cfg.Engine.MaxInFlight = v
				return true
			}
		case "samplingTimeoutSeconds":
			if v, ok := value.(int); ok {
				cfg.Engine.SamplingTimeoutSeconds = v
				return true
			}
		case "recomputeDebounceSeconds":
			if v, ok := value.(int); ok {
				cfg.Engine.RecomputeDebounceSeconds = v
				return true
			}
		}
	case "logging":
		if len(parts) < 2 {
			return false
		}
		switch parts[1] {
		case "level":
			if v, ok := value.(string); ok {
				cfg.Logging.Level = v
				return true
			}
		case "format":
			if v, ok := value.(string); ok {
				cfg.Logging.Format = v
				return true
			}
		case "mcp":
			if v, ok := value.(string); ok {
				cfg.Logging.MCP = v
				return true
			}
		case "index":
			if v, ok := value.(string); ok {
				cfg.Logging.Index = v
				return true
			}
		}
	case "semantic":
		if len(parts) < 2 {
			return false
		}
		switch parts[1] {
		case "enabled":
			if v, ok := value.(bool); ok {
				cfg.Semantic.Enabled = v
				return true
			}
		case "model":
			if v, ok := value.(string); ok {
				cfg.Semantic.Model = v
				return true
			}
		case "apiKey":
			if v, ok := value.(string); ok {
				cfg.Semantic.APIKey = v
				return true
			}
		case "baseUrl":
			if v, ok := value.(string); ok {
				cfg.Semantic.BaseURL = v
				return true
			}
		}
	}

	return false
}

// GetSupportedEnvVars returns a list of all supported environment variables.
func GetSupportedEnvVars() []string {
	vars := make([]string, 0, len(envVarMappings))
	for v := range envVarMappings {
		vars = append(vars, v)
	}
	return vars
}

// Save writes the configuration to "<stateDir>/config.json".
func (c *Config) Save() error {
	if err := os.MkdirAll(c.StateDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.StateDir, "config.json"), data, 0o644)
}

// SupportedConfigVersions lists config schema versions this code can handle.
var SupportedConfigVersions = []int{1}

// Validate checks if the configuration is internally consistent.
func (c *Config) Validate() error {
	supported := false
	for _, v := range SupportedConfigVersions {
		if c.Version == v {
			supported = true
			break
		}
	}
	if !supported {
		return &ConfigError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported config version %d, supported versions: %v", c.Version, SupportedConfigVersions),
		}
	}
	if c.Engine.MaxInFlight <= 0 {
		return &ConfigError{Field: "engine.maxInFlight", Message: "must be positive"}
	}
	if c.Engine.SamplingTimeoutSeconds <= 0 {
		return &ConfigError{Field: "engine.samplingTimeoutSeconds", Message: "must be positive"}
	}
	format := strings.ToLower(c.Logging.Format)
	if format != "human" && format != "json" {
		return &ConfigError{Field: "logging.format", Message: "must be \"human\" or \"json\""}
	}
	if c.Logging.Remote != nil {
		if c.Logging.Remote.Type != "loki" {
			return &ConfigError{Field: "logging.remote.type", Message: "only \"loki\" is supported"}
		}
		if c.Logging.Remote.Endpoint == "" {
			return &ConfigError{Field: "logging.remote.endpoint", Message: "required when remote logging is configured"}
		}
	}
	return nil
}

// DBPath resolves the effective sqlite database path, defaulting to
// "<stateDir>/planner.db" when Storage.DBPath is unset.
func (c *Config) DBPath() string {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath
	}
	return filepath.Join(c.StateDir, "planner.db")
}

// ResolvePath resolves a (possibly relative) path against StateDir.
func (c *Config) ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.StateDir, path)
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
