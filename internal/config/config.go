package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const DefaultBasePath = "https://api.cdp.coinbase.com/platform"

type GlobalFlags struct {
	ConfigPath  string
	EnvFile     string
	JSON        bool
	Plain       bool
	Select      string
	ResultsOnly bool
	// EnableCommands is a comma-separated allowlist of command paths.
	EnableCommands string
	ReadOnly       bool
	Timeout        string
	Retries        int
	LogLevel       string
	BasePath       string
	NoCache        bool
}

type Settings struct {
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	EnableCommands []string
	ReadOnly       bool
	Timeout        time.Duration
	Retries        int
	LogLevel       string
	APIKeyID       string
	APIKeySecret   string
	WalletSecret   string
	BasePath       string
	HostOverride   string
	ExpiresIn      int64
	CacheEnabled   bool
	CachePath      string
	CacheLockPath  string
	QuoteTTL       time.Duration
	SwapStorePath  string
	SwapLockPath   string
	WaitTimeout    time.Duration
	WaitInterval   time.Duration
}

type fileConfig struct {
	Output   string `yaml:"output"`
	ReadOnly *bool  `yaml:"read_only"`
	Timeout  string `yaml:"timeout"`
	Retries  *int   `yaml:"retries"`
	LogLevel string `yaml:"log_level"`
	API      struct {
		BasePath     string `yaml:"base_path"`
		HostOverride string `yaml:"host_override"`
		ExpiresIn    *int64 `yaml:"expires_in"`
	} `yaml:"api"`
	Credentials struct {
		APIKeyID        string `yaml:"api_key_id"`
		APIKeySecret    string `yaml:"api_key_secret"`
		APIKeySecretEnv string `yaml:"api_key_secret_env"`
		WalletSecret    string `yaml:"wallet_secret"`
		WalletSecretEnv string `yaml:"wallet_secret_env"`
	} `yaml:"credentials"`
	Cache struct {
		Enabled  *bool  `yaml:"enabled"`
		QuoteTTL string `yaml:"quote_ttl"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Swaps struct {
		Path         string `yaml:"path"`
		LockPath     string `yaml:"lock_path"`
		WaitTimeout  string `yaml:"wait_timeout"`
		WaitInterval string `yaml:"wait_interval"`
	} `yaml:"swaps"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := loadEnvFile(flags.EnvFile); err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.ExpiresIn <= 0 {
		settings.ExpiresIn = 120
	}
	if settings.QuoteTTL <= 0 {
		settings.QuoteTTL = 10 * time.Minute
	}
	if _, err := logrus.ParseLevel(settings.LogLevel); err != nil {
		return Settings{}, fmt.Errorf("log level: %w", err)
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	cacheDir := filepath.Dir(cachePath)
	return Settings{
		OutputMode:    "json",
		Timeout:       30 * time.Second,
		Retries:       2,
		LogLevel:      "warn",
		BasePath:      DefaultBasePath,
		ExpiresIn:     120,
		CacheEnabled:  true,
		CachePath:     cachePath,
		CacheLockPath: lockPath,
		QuoteTTL:      10 * time.Minute,
		SwapStorePath: filepath.Join(cacheDir, "swaps.db"),
		SwapLockPath:  filepath.Join(cacheDir, "swaps.lock"),
		WaitTimeout:   20 * time.Second,
		WaitInterval:  time.Second,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "cdp", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "cdp")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

// loadEnvFile reads KEY=VALUE pairs into the process environment. Variables
// that are already set win. A missing default .env is not an error; a missing
// explicit file is.
func loadEnvFile(path string) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("read env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("parse env file: %w", err)
	}
	return nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.ReadOnly != nil {
		settings.ReadOnly = *cfg.ReadOnly
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = strings.ToLower(cfg.LogLevel)
	}
	if cfg.API.BasePath != "" {
		settings.BasePath = cfg.API.BasePath
	}
	if cfg.API.HostOverride != "" {
		settings.HostOverride = cfg.API.HostOverride
	}
	if cfg.API.ExpiresIn != nil {
		settings.ExpiresIn = *cfg.API.ExpiresIn
	}
	if cfg.Credentials.APIKeyID != "" {
		settings.APIKeyID = cfg.Credentials.APIKeyID
	}
	if cfg.Credentials.APIKeySecret != "" {
		settings.APIKeySecret = cfg.Credentials.APIKeySecret
	}
	if cfg.Credentials.APIKeySecretEnv != "" {
		settings.APIKeySecret = os.Getenv(cfg.Credentials.APIKeySecretEnv)
	}
	if cfg.Credentials.WalletSecret != "" {
		settings.WalletSecret = cfg.Credentials.WalletSecret
	}
	if cfg.Credentials.WalletSecretEnv != "" {
		settings.WalletSecret = os.Getenv(cfg.Credentials.WalletSecretEnv)
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.QuoteTTL != "" {
		d, err := time.ParseDuration(cfg.Cache.QuoteTTL)
		if err != nil {
			return fmt.Errorf("config cache.quote_ttl: %w", err)
		}
		settings.QuoteTTL = d
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Swaps.Path != "" {
		settings.SwapStorePath = cfg.Swaps.Path
	}
	if cfg.Swaps.LockPath != "" {
		settings.SwapLockPath = cfg.Swaps.LockPath
	}
	if cfg.Swaps.WaitTimeout != "" {
		d, err := time.ParseDuration(cfg.Swaps.WaitTimeout)
		if err != nil {
			return fmt.Errorf("config swaps.wait_timeout: %w", err)
		}
		settings.WaitTimeout = d
	}
	if cfg.Swaps.WaitInterval != "" {
		d, err := time.ParseDuration(cfg.Swaps.WaitInterval)
		if err != nil {
			return fmt.Errorf("config swaps.wait_interval: %w", err)
		}
		settings.WaitInterval = d
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("CDP_API_KEY_ID"); v != "" {
		settings.APIKeyID = v
	}
	if v := os.Getenv("CDP_API_KEY_SECRET"); v != "" {
		settings.APIKeySecret = v
	}
	if v := os.Getenv("CDP_WALLET_SECRET"); v != "" {
		settings.WalletSecret = v
	}
	if v := os.Getenv("CDP_BASE_PATH"); v != "" {
		settings.BasePath = v
	}
	if v := os.Getenv("CDP_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("CDP_READ_ONLY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.ReadOnly = b
		}
	}
	if v := os.Getenv("CDP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("CDP_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("CDP_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("CDP_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("CDP_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("CDP_SWAPS_PATH"); v != "" {
		settings.SwapStorePath = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		parts := strings.Split(flags.Select, ",")
		fields := make([]string, 0, len(parts))
		for _, part := range parts {
			f := strings.TrimSpace(part)
			if f != "" {
				fields = append(fields, f)
			}
		}
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly

	if strings.TrimSpace(flags.EnableCommands) != "" {
		parts := strings.Split(flags.EnableCommands, ",")
		allowed := make([]string, 0, len(parts))
		for _, part := range parts {
			v := strings.TrimSpace(part)
			if v != "" {
				allowed = append(allowed, v)
			}
		}
		settings.EnableCommands = allowed
	}
	if flags.ReadOnly {
		settings.ReadOnly = true
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.LogLevel != "" {
		settings.LogLevel = strings.ToLower(flags.LogLevel)
	}
	if flags.BasePath != "" {
		settings.BasePath = flags.BasePath
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}
