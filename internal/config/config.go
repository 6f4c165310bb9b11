package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Launcher modes.
const (
	ModeLocal  = "local"
	ModeDocker = "docker"
)

type Config struct {
	Campaign Campaign `yaml:"campaign"`
	Paths    Paths    `yaml:"paths"`
	Launcher Launcher `yaml:"launcher"`
	Watcher  Watcher  `yaml:"watcher"`
	Logging  Logging  `yaml:"logging"`
	Metrics  Metrics  `yaml:"metrics"`
}

type Campaign struct {
	Runs            int      `yaml:"runs"`
	TopN            int      `yaml:"top_n"`
	Strategy        string   `yaml:"strategy"`
	Config          string   `yaml:"config"`
	Loss            string   `yaml:"loss"`
	Spaces          []string `yaml:"spaces"`
	Epochs          int      `yaml:"epochs"`
	Jobs            int      `yaml:"jobs"`
	Timerange       string   `yaml:"timerange"`
	TimeframeDetail string   `yaml:"timeframe_detail"`
	StakeCurrency   string   `yaml:"stake_currency"`
}

// Paths are resolved against ProjectRoot when relative.
type Paths struct {
	ProjectRoot string `yaml:"project_root"`
	UserData    string `yaml:"user_data"`
	ResultsDir  string `yaml:"results_dir"`
	Leaderboard string `yaml:"leaderboard"`
	HistoryDB   string `yaml:"history_db"`
	// CleanStart empties the results directory and the leaderboard before a
	// campaign.
	CleanStart bool `yaml:"clean_start"`
}

type Launcher struct {
	Mode         string   `yaml:"mode"`
	FreqtradeBin string   `yaml:"freqtrade_bin"`
	Terminal     string   `yaml:"terminal"`
	CondaEnv     string   `yaml:"conda_env"`
	EnvFile      string   `yaml:"env_file"`
	Image        string   `yaml:"image"`
	ProcessMatch []string `yaml:"process_match"`
}

type Watcher struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MinWait      time.Duration `yaml:"min_wait"`
	Settle       time.Duration `yaml:"settle"`
}

type Logging struct {
	Dir      string `yaml:"dir"`
	MaxFiles int    `yaml:"max_files"`
	Level    string `yaml:"level"`
}

type Metrics struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Read parses path and applies defaults without validating, so callers can
// apply overrides first.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	c := &cfg.Campaign
	if c.Runs == 0 {
		c.Runs = 50
	}
	if c.TopN == 0 {
		c.TopN = 10
	}
	if c.Config == "" {
		c.Config = "user_data/config.json"
	}
	if c.Loss == "" {
		c.Loss = "SharpeHyperOptLoss"
	}
	if len(c.Spaces) == 0 {
		c.Spaces = []string{"buy"}
	}
	if c.Epochs == 0 {
		c.Epochs = 400
	}
	if c.Jobs == 0 {
		c.Jobs = -1
	}
	if c.TimeframeDetail == "" {
		c.TimeframeDetail = "1m"
	}
	if c.StakeCurrency == "" {
		c.StakeCurrency = "USDT"
	}

	p := &cfg.Paths
	if p.ProjectRoot == "" {
		p.ProjectRoot = "."
	}
	if p.UserData == "" {
		p.UserData = "user_data"
	}
	if p.ResultsDir == "" {
		p.ResultsDir = "HyperLoop/results"
	}
	if p.Leaderboard == "" {
		p.Leaderboard = "HyperLoop/top_results.json"
	}
	if p.HistoryDB == "" {
		p.HistoryDB = "HyperLoop/history.db"
	}

	l := &cfg.Launcher
	if l.Mode == "" {
		l.Mode = ModeLocal
	}
	if l.Terminal == "" {
		l.Terminal = "auto"
	}
	if l.Image == "" {
		l.Image = "freqtradeorg/freqtrade:stable"
	}
	if len(l.ProcessMatch) == 0 {
		l.ProcessMatch = []string{"freqtrade", "hyperopt"}
	}

	w := &cfg.Watcher
	if w.PollInterval == 0 {
		w.PollInterval = 15 * time.Second
	}
	if w.MinWait == 0 {
		w.MinWait = time.Minute
	}
	if w.Settle == 0 {
		w.Settle = 2 * time.Second
	}

	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "HyperLoop/logs"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks a configuration after defaults are applied. The strategy
// is the one setting without a sensible default.
func (cfg *Config) Validate() error {
	c := cfg.Campaign
	if c.Strategy == "" {
		return fmt.Errorf("campaign.strategy is required")
	}
	if c.Runs < 1 {
		return fmt.Errorf("campaign.runs must be at least 1")
	}
	if c.TopN < 1 {
		return fmt.Errorf("campaign.top_n must be at least 1")
	}
	if c.Epochs < 1 {
		return fmt.Errorf("campaign.epochs must be at least 1")
	}
	switch cfg.Launcher.Mode {
	case ModeLocal, ModeDocker:
	default:
		return fmt.Errorf("launcher.mode %q: must be %q or %q", cfg.Launcher.Mode, ModeLocal, ModeDocker)
	}
	if cfg.Watcher.PollInterval <= 0 {
		return fmt.Errorf("watcher.poll_interval must be positive")
	}
	if cfg.Watcher.MinWait < 0 || cfg.Watcher.Settle < 0 {
		return fmt.Errorf("watcher durations must not be negative")
	}
	if cfg.Logging.MaxFiles < 0 {
		return fmt.Errorf("logging.max_files must not be negative")
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q: must be debug, info, warn or error", cfg.Logging.Level)
	}
	return nil
}

// Resolve joins a relative path onto the project root.
func (cfg *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cfg.Paths.ProjectRoot, p)
}

func (cfg *Config) UserDataDir() string { return cfg.Resolve(cfg.Paths.UserData) }

func (cfg *Config) StrategiesDir() string { return filepath.Join(cfg.UserDataDir(), "strategies") }

// Artifact is the parameter file hyperopt writes next to the strategy when a
// run succeeds.
func (cfg *Config) Artifact() string {
	return filepath.Join(cfg.StrategiesDir(), cfg.Campaign.Strategy+".json")
}

func (cfg *Config) ResultsDir() string { return cfg.Resolve(cfg.Paths.ResultsDir) }

func (cfg *Config) LeaderboardPath() string { return cfg.Resolve(cfg.Paths.Leaderboard) }

func (cfg *Config) HistoryPath() string { return cfg.Resolve(cfg.Paths.HistoryDB) }

func (cfg *Config) LogDir() string { return cfg.Resolve(cfg.Logging.Dir) }
