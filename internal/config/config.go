package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/probematter/emergence-loop/internal/arbiter"
	"github.com/probematter/emergence-loop/internal/controller"
	"github.com/probematter/emergence-loop/internal/guard"
)

// #region file
// File is the on-disk YAML shape. Zero values mean "use the default"; only
// options the operator actually sets override the stock configs.
type File struct {
	DBPath        string `yaml:"db_path"`
	ProducerAddr  string `yaml:"producer_addr"`
	CheckpointDir string `yaml:"checkpoint_dir"`

	Embedding struct {
		Provider string `yaml:"provider"` // "openai" | "local" | "none"
		APIKey   string `yaml:"api_key"`
		BaseURL  string `yaml:"base_url"`
		Model    string `yaml:"model"`
	} `yaml:"embedding"`

	Arbiter struct {
		MinCyclesBeforeCheck  int64   `yaml:"min_cycles_before_check"`
		EntropyThreshold      float64 `yaml:"entropy_threshold"`
		EmergenceThreshold    float64 `yaml:"emergence_threshold"`
		CrystallizationWeight float64 `yaml:"crystallization_weight"`
		CircularWindow        int     `yaml:"circular_window"`
		CircularTolerance     int     `yaml:"circular_tolerance"`
	} `yaml:"arbiter"`

	Guard struct {
		QualityGateThreshold         float64 `yaml:"quality_gate_threshold"`
		DomainDiversityWindow        int     `yaml:"domain_diversity_window"`
		HoneypotSampleRate           float64 `yaml:"honeypot_sample_rate"`
		ExternalValidationSampleRate float64 `yaml:"external_validation_sample_rate"`
	} `yaml:"guard"`

	Budget struct {
		MaxIterations     int64   `yaml:"max_iterations"`
		MaxCostUSD        float64 `yaml:"max_cost_usd"`
		MaxRuntimeSeconds float64 `yaml:"max_runtime_seconds"`
	} `yaml:"budget"`

	Loop struct {
		CheckpointInterval     int64 `yaml:"checkpoint_interval"`
		ProducerTimeoutSeconds int   `yaml:"producer_timeout_seconds"`
		AdvisoryEnabled        *bool `yaml:"advisory_enabled"`
	} `yaml:"loop"`
}

// #endregion file

// #region load
// Load reads a YAML config file and applies environment overrides. An empty
// path yields a config built purely from defaults and the environment.
func Load(path string) (*File, error) {
	var f File
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	f.DBPath = envOr("EMERGENCE_DB", f.DBPath)
	f.ProducerAddr = envOr("PRODUCER_ADDR", f.ProducerAddr)
	f.CheckpointDir = envOr("CHECKPOINT_DIR", f.CheckpointDir)
	f.Embedding.APIKey = envOr("OPENAI_API_KEY", f.Embedding.APIKey)
	f.Embedding.BaseURL = envOr("OPENAI_BASE_URL", f.Embedding.BaseURL)

	if f.DBPath == "" {
		f.DBPath = "emergence.db"
	}
	if f.ProducerAddr == "" {
		f.ProducerAddr = "localhost:50051"
	}
	return &f, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion load

// #region typed-configs
// ArbiterConfig overlays the file's set options onto the stock arbiter config.
func (f *File) ArbiterConfig() arbiter.Config {
	c := arbiter.DefaultConfig()
	if f.Arbiter.MinCyclesBeforeCheck > 0 {
		c.MinCyclesBeforeCheck = f.Arbiter.MinCyclesBeforeCheck
	}
	if f.Arbiter.EntropyThreshold > 0 {
		c.EntropyThreshold = f.Arbiter.EntropyThreshold
	}
	if f.Arbiter.EmergenceThreshold > 0 {
		c.EmergenceThreshold = f.Arbiter.EmergenceThreshold
	}
	if f.Arbiter.CrystallizationWeight > 0 {
		c.CrystallizationWeight = f.Arbiter.CrystallizationWeight
	}
	if f.Arbiter.CircularWindow > 0 {
		c.CircularWindow = f.Arbiter.CircularWindow
	}
	if f.Arbiter.CircularTolerance > 0 {
		c.CircularTolerance = f.Arbiter.CircularTolerance
	}
	return c
}

// GuardConfig overlays the file's set options onto the stock guard config.
// The guard's emergence threshold always tracks the arbiter's.
func (f *File) GuardConfig() guard.Config {
	c := guard.DefaultConfig()
	c.EmergenceThreshold = f.ArbiterConfig().EmergenceThreshold
	if f.Guard.QualityGateThreshold > 0 {
		c.QualityGate = f.Guard.QualityGateThreshold
	}
	if f.Guard.DomainDiversityWindow > 0 {
		c.DomainWindow = f.Guard.DomainDiversityWindow
	}
	if f.Guard.HoneypotSampleRate > 0 {
		c.HoneypotSampleRate = f.Guard.HoneypotSampleRate
	}
	if f.Guard.ExternalValidationSampleRate > 0 {
		c.SampleRate = f.Guard.ExternalValidationSampleRate
	}
	return c
}

// LoopBudget builds the controller budget from the configured limits.
func (f *File) LoopBudget() controller.Budget {
	return controller.Budget{
		MaxIterations:     f.Budget.MaxIterations,
		MaxCostUSD:        f.Budget.MaxCostUSD,
		MaxRuntimeSeconds: f.Budget.MaxRuntimeSeconds,
	}
}

// LoopConfig overlays the file's set options onto the stock loop config.
func (f *File) LoopConfig() controller.Config {
	c := controller.DefaultConfig()
	if f.Loop.CheckpointInterval > 0 {
		c.CheckpointInterval = f.Loop.CheckpointInterval
	}
	if f.Loop.ProducerTimeoutSeconds > 0 {
		c.ProducerTimeout = time.Duration(f.Loop.ProducerTimeoutSeconds) * time.Second
	}
	if f.Loop.AdvisoryEnabled != nil {
		c.AdvisoryEnabled = *f.Loop.AdvisoryEnabled
	}
	return c
}

// #endregion typed-configs
