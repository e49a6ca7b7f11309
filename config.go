package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultHost       = "bitbucket.org"
	defaultAttempts   = 3
	defaultRetryDelay = time.Second
	defaultGitTimeout = 5 * time.Minute
	// cap on simultaneous git subprocesses, large workspaces would
	// otherwise spawn one per repository
	defaultConcurrency = 10
)

var (
	defaultBackupRoot = path.Join(os.TempDir(), "bitbucket-backup", "repos")
	defaultLogsRoot   = path.Join(os.TempDir(), "bitbucket-backup", "logs")
)

// Config is the configuration of the backup service, constructed once at
// startup and passed into every component
type Config struct {
	// Workspace is the Bitbucket workspace to back up
	Workspace string `yaml:"workspace"`

	// Username of the Bitbucket account used for the API and for git,
	// BITBUCKET_USERNAME env var takes precedence
	Username string `yaml:"username"`

	// AppPassword is the Bitbucket app password, BITBUCKET_APP_PASSWORD
	// env var takes precedence so the secret can be kept off disk
	AppPassword string `yaml:"app_password"`

	// Host is the git host of the workspace repositories
	Host string `yaml:"host"`

	// APIBaseURL is the root of the Bitbucket v2 API
	APIBaseURL string `yaml:"api_base_url"`

	// BackupRoot is the absolute path under which one bare mirror dir
	// per repository is created
	BackupRoot string `yaml:"backup_root"`

	// LogsRoot is the absolute path for per-run error log files
	LogsRoot string `yaml:"logs_root"`

	// MaxAttempts is the retry budget for every remote operation
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBaseDelay is the initial backoff delay, doubling per attempt
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// GitTimeout is the wall-clock limit per git subprocess
	GitTimeout time.Duration `yaml:"git_timeout"`

	// Concurrency caps simultaneous repository syncs, unset selects
	// the default
	Concurrency int `yaml:"concurrency"`

	// Interval between backup runs, 0 runs the backup once and exits
	Interval time.Duration `yaml:"interval"`
}

func parseConfigFile(path string) (*Config, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := validateConfigKeys(yamlFile); err != nil {
		return nil, err
	}

	conf := &Config{}
	if err := yaml.Unmarshal(yamlFile, conf); err != nil {
		return nil, err
	}

	return conf, nil
}

// applyDefaults fills unset optional values and credential env overrides
func (conf *Config) applyDefaults() {
	if v := os.Getenv("BITBUCKET_USERNAME"); v != "" {
		conf.Username = v
	}
	if v := os.Getenv("BITBUCKET_APP_PASSWORD"); v != "" {
		conf.AppPassword = v
	}

	if conf.Host == "" {
		conf.Host = defaultHost
	}
	if conf.BackupRoot == "" {
		conf.BackupRoot = defaultBackupRoot
	}
	if conf.LogsRoot == "" {
		conf.LogsRoot = defaultLogsRoot
	}
	if conf.MaxAttempts == 0 {
		conf.MaxAttempts = defaultAttempts
	}
	if conf.RetryBaseDelay == 0 {
		conf.RetryBaseDelay = defaultRetryDelay
	}
	if conf.GitTimeout == 0 {
		conf.GitTimeout = defaultGitTimeout
	}
	if conf.Concurrency == 0 {
		conf.Concurrency = defaultConcurrency
	}
}

func (conf *Config) validate() error {
	var errs []error

	if conf.Workspace == "" {
		errs = append(errs, fmt.Errorf("workspace must be set"))
	}
	if conf.Username == "" {
		errs = append(errs, fmt.Errorf("username must be set (config or BITBUCKET_USERNAME)"))
	}
	if conf.AppPassword == "" {
		errs = append(errs, fmt.Errorf("app password must be set (config or BITBUCKET_APP_PASSWORD)"))
	}
	if !filepath.IsAbs(conf.BackupRoot) {
		errs = append(errs, fmt.Errorf("backup root '%s' must be absolute", conf.BackupRoot))
	}
	if !filepath.IsAbs(conf.LogsRoot) {
		errs = append(errs, fmt.Errorf("logs root '%s' must be absolute", conf.LogsRoot))
	}
	if conf.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be >= 1, got %d", conf.MaxAttempts))
	}
	if conf.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("concurrency cannot be negative, got %d", conf.Concurrency))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", errs)
	}

	return nil
}

// validateConfigKeys rejects config files with unexpected keys, typos
// would otherwise silently fall back to defaults
func validateConfigKeys(yamlData []byte) error {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(yamlData, &raw); err != nil {
		return err
	}

	allowedKeys := getAllowedKeys(Config{})
	if key := findUnexpectedKey(raw, allowedKeys); key != "" {
		return fmt.Errorf("unexpected key: .%v", key)
	}

	return nil
}

// getAllowedKeys retrieves a list of allowed keys from the specified struct
func getAllowedKeys(config interface{}) []string {
	var allowedKeys []string
	typ := reflect.TypeOf(config)

	for i := 0; i < typ.NumField(); i++ {
		yamlTag := typ.Field(i).Tag.Get("yaml")
		if yamlTag != "" {
			allowedKeys = append(allowedKeys, yamlTag)
		}
	}
	return allowedKeys
}

func findUnexpectedKey(raw map[string]interface{}, allowedKeys []string) string {
	for key := range raw {
		if !slices.Contains(allowedKeys, key) {
			return key
		}
	}

	return ""
}
