package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the config file searched for upward from the working directory.
const FileName = ".ccobf.yaml"

type IgnoreRule struct {
	Path   string `yaml:"path"`
	Reason string `yaml:"reason,omitempty"`
}

type Compiler struct {
	Path      string `yaml:"path"`
	Validate  bool   `yaml:"validate"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

func (c Compiler) Timeout() time.Duration { return time.Duration(c.TimeoutMs) * time.Millisecond }

// Stages toggles the obfuscation passes; keys match the stage ids.
type Stages struct {
	OpaquePredicates bool `yaml:"opaque_predicates"`
	DynamicDispatch  bool `yaml:"dynamic_dispatch"`
	Factory          bool `yaml:"factory"`
	Proxy            bool `yaml:"proxy"`
	Lowering         bool `yaml:"lowering"`
}

// Enabled reports whether the stage with the given id should run. Unknown ids are disabled.
func (s Stages) Enabled(id string) bool {
	switch id {
	case "opaque_predicates":
		return s.OpaquePredicates
	case "dynamic_dispatch":
		return s.DynamicDispatch
	case "factory":
		return s.Factory
	case "proxy":
		return s.Proxy
	case "lowering":
		return s.Lowering
	}
	return false
}

type Config struct {
	SourceExt        string       `yaml:"source_ext"`
	AnalysisDir      string       `yaml:"analysis_dir"`
	OutputDir        string       `yaml:"output_dir"`
	WorkDir          string       `yaml:"work_dir"`
	Workers          int          `yaml:"workers"`
	Seed             uint64       `yaml:"seed"`
	CollisionRetries int          `yaml:"collision_retries"`
	Ledger           string       `yaml:"ledger"`
	FinalValidation  bool         `yaml:"final_validation"`
	Compiler         Compiler     `yaml:"compiler"`
	Stages           Stages       `yaml:"stages"`
	Ignore           []IgnoreRule `yaml:"ignore,omitempty"`
}

func Default() Config {
	return Config{
		SourceExt:        ".sol",
		AnalysisDir:      filepath.Join("output", "analysis_results"),
		OutputDir:        filepath.Join("output", "obfuscated_contracts"),
		WorkDir:          filepath.Join("output", "intermediate"),
		CollisionRetries: 8,
		Ledger:           filepath.Join("output", "ccobf.db"),
		Compiler:         Compiler{Path: "solc", Validate: true, TimeoutMs: 60000},
		Stages:           Stages{OpaquePredicates: true, DynamicDispatch: true, Factory: true, Proxy: true, Lowering: true},
	}
}

// Load searches upward from startDir for .ccobf.yaml and layers it over the
// defaults, then applies .env and CCOBF_* environment overrides. The returned
// path is empty when no file was found.
func Load(startDir string) (Config, string, error) {
	cfg := Default()
	_ = godotenv.Load()

	var found string
	dir, err := filepath.Abs(startDir)
	if err != nil {
		dir = startDir
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			b, err := os.ReadFile(candidate)
			if err != nil {
				return cfg, candidate, err
			}
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, candidate, fmt.Errorf("parse %s: %w", candidate, err)
			}
			found = candidate
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, found, err
	}
	return cfg, found, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("CCOBF_SOLC"); v != "" {
		cfg.Compiler.Path = v
	}
	if v := os.Getenv("CCOBF_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CCOBF_SEED: %w", err)
		}
		cfg.Seed = seed
	}
	if v := os.Getenv("CCOBF_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CCOBF_WORKERS: %w", err)
		}
		cfg.Workers = n
	}
	return nil
}

// Marshal renders cfg as YAML, used by `ccobf init`.
func Marshal(cfg Config) ([]byte, error) { return yaml.Marshal(cfg) }
