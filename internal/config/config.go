package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/signalnine/nilmbench/internal/datasource"
	"github.com/signalnine/nilmbench/internal/model"
	"github.com/signalnine/nilmbench/internal/trainer"
	"github.com/signalnine/nilmbench/internal/tree"
)

// Config is the whole experiment grid. It is loaded once and passed by value;
// nothing mutates it after Load.
type Config struct {
	Root           string                `yaml:"root"`
	Volume         string                `yaml:"volume"`
	TrainDir       string                `yaml:"train_dir"`
	Clean          bool                  `yaml:"clean"`
	ExperimentType string                `yaml:"experiment_type"`
	Categories     []string              `yaml:"categories"`
	Devices        []string              `yaml:"devices"`
	Models         []model.Spec          `yaml:"models"`
	Windows        []int                 `yaml:"windows"`
	Epochs         int                   `yaml:"epochs"`
	Batch          int                   `yaml:"batch"`
	SamplePeriod   int                   `yaml:"sample_period"`
	Folds          int                   `yaml:"folds"`
	DropLast       bool                  `yaml:"drop_last"`
	TrainSplit     float64               `yaml:"train_split"`
	Seed           uint64                `yaml:"seed"`
	EarlyStopping  trainer.EarlyStopping `yaml:"early_stopping"`
	Trainer        Trainer               `yaml:"trainer"`
	Datasources    []datasource.Config   `yaml:"datasources"`
	Evaluation     Evaluation            `yaml:"evaluation"`
	Catalog        Catalog               `yaml:"catalog"`
	Notify         Notify                `yaml:"notify"`
	Metrics        Metrics               `yaml:"metrics"`
	API            API                   `yaml:"api"`
	Secrets        Secrets               `yaml:"secrets"`
}

type Trainer struct {
	Backend  string            `yaml:"backend"`
	Command  []string          `yaml:"command"`
	Image    string            `yaml:"image"`
	Env      map[string]string `yaml:"env"`
	Timeout  time.Duration     `yaml:"timeout"`
	CPULimit float64           `yaml:"cpu_limit"`
	MemoryMB int64             `yaml:"memory_mb"`
	GPUs     bool              `yaml:"gpus"`
	WorkDir  string            `yaml:"work_dir"`
	Keep     bool              `yaml:"keep_workspaces"`
	// RepoDir is the trainer's source checkout, recorded with each run.
	RepoDir string `yaml:"repo_dir"`
}

type Evaluation struct {
	// IsolateFailures keeps evaluating the remaining test slices of a fold
	// after one of them fails.
	IsolateFailures bool `yaml:"isolate_failures"`
}

type Catalog struct {
	Path string `yaml:"path"`
}

type Notify struct {
	RedisURL     string `yaml:"redis_url"`
	RedisChannel string `yaml:"redis_channel"`
	MQTTURL      string `yaml:"mqtt_url"`
	MQTTTopic    string `yaml:"mqtt_topic"`
}

type Metrics struct {
	Addr string `yaml:"addr"`
}

type API struct {
	Addr    string   `yaml:"addr"`
	Origins []string `yaml:"origins"`
}

type Secrets struct {
	EnvFile string `yaml:"env_file"`
}

const (
	BackendExec      = "exec"
	BackendContainer = "container"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Root == "" {
		cfg.Root = "FNET_WINDOW_CV"
	}
	if cfg.Volume == "" {
		cfg.Volume = "cv"
	}
	if cfg.TrainDir == "" {
		cfg.TrainDir = filepath.Join("benchmark", cfg.Volume, "train")
	}
	if cfg.ExperimentType == "" {
		cfg.ExperimentType = "Single"
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = []string{"Single", "Multi"}
	}
	if len(cfg.Windows) == 0 {
		for w := 50; w <= 500; w += 50 {
			cfg.Windows = append(cfg.Windows, w)
		}
	}
	if cfg.Epochs == 0 {
		cfg.Epochs = 100
	}
	if cfg.Batch == 0 {
		cfg.Batch = 512
	}
	if cfg.SamplePeriod == 0 {
		cfg.SamplePeriod = 6
	}
	if cfg.Folds == 0 {
		cfg.Folds = 5
	}
	if cfg.TrainSplit == 0 {
		cfg.TrainSplit = 0.8
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	if cfg.EarlyStopping == (trainer.EarlyStopping{}) {
		cfg.EarlyStopping = trainer.DefaultEarlyStopping()
	}
	if cfg.Trainer.Backend == "" {
		cfg.Trainer.Backend = BackendExec
	}
	if cfg.Trainer.WorkDir == "" {
		cfg.Trainer.WorkDir = filepath.Join(os.TempDir(), "nilmbench")
	}
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = "nilmbench.db"
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = ":8080"
	}
	if len(cfg.API.Origins) == 0 {
		cfg.API.Origins = []string{"*"}
	}
}

func validate(cfg *Config) error {
	if len(cfg.Devices) == 0 {
		return fmt.Errorf("no devices defined")
	}
	if len(cfg.Models) == 0 {
		return fmt.Errorf("no models defined")
	}
	for _, m := range cfg.Models {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	for _, w := range cfg.Windows {
		if w < 1 {
			return fmt.Errorf("window must be positive, got %d", w)
		}
	}
	if cfg.Epochs < 1 || cfg.Batch < 1 || cfg.SamplePeriod < 1 {
		return fmt.Errorf("epochs, batch and sample_period must be positive")
	}
	if cfg.Folds < 1 {
		return fmt.Errorf("folds must be at least 1")
	}
	if cfg.TrainSplit <= 0 || cfg.TrainSplit >= 1 {
		return fmt.Errorf("train_split %v out of (0, 1)", cfg.TrainSplit)
	}
	if err := cfg.EarlyStopping.Validate(); err != nil {
		return err
	}
	switch cfg.Trainer.Backend {
	case BackendExec:
		if len(cfg.Trainer.Command) == 0 {
			return fmt.Errorf("trainer: command is required for the exec backend")
		}
	case BackendContainer:
		if cfg.Trainer.Image == "" {
			return fmt.Errorf("trainer: image is required for the container backend")
		}
	default:
		return fmt.Errorf("trainer: unknown backend %q", cfg.Trainer.Backend)
	}
	if cfg.Trainer.Timeout < 0 {
		return fmt.Errorf("trainer: negative timeout")
	}
	seen := map[string]bool{}
	for i, d := range cfg.Datasources {
		if d.Name == "" {
			return fmt.Errorf("datasource %d: name is required", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("datasource %q defined twice", d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}

// LoadSecrets reads the env file into the process environment. Variables
// already set win over the file. A config without env_file is a no-op.
func (c *Config) LoadSecrets() error {
	if c.Secrets.EnvFile == "" {
		return nil
	}
	if err := godotenv.Load(c.Secrets.EnvFile); err != nil {
		return fmt.Errorf("loading secrets %s: %w", c.Secrets.EnvFile, err)
	}
	return nil
}

// SamplePeriodDuration returns the resampling period.
func (c *Config) SamplePeriodDuration() time.Duration {
	return time.Duration(c.SamplePeriod) * time.Second
}

// TreeSpec lays out the results tree: root, results, devices, model kinds,
// then experiment categories.
func (c *Config) TreeSpec() tree.Spec {
	kinds := make([]string, 0, len(c.Models))
	seen := map[model.Kind]bool{}
	for _, m := range c.Models {
		if !seen[m.Kind] {
			seen[m.Kind] = true
			kinds = append(kinds, string(m.Kind))
		}
	}
	return tree.Spec{
		Root: c.Root,
		Levels: []tree.Level{
			{Name: "l1", Folders: []string{"results"}},
			{Name: "l2", Folders: c.Devices},
			{Name: "l3", Folders: kinds},
			{Name: "experiments", Folders: c.Categories},
		},
	}
}
