package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// BackendURL is the base URL of the Memora backend API.
	BackendURL string `json:"backend_url"`

	// TokenURL is the local token endpoint that proxies the identity
	// provider. Every backend request carries a bearer token obtained here.
	TokenURL string `json:"token_url"`

	// LoginURL is the identity provider's login entry point. Any 401 from
	// the backend redirects the user here.
	LoginURL string `json:"login_url"`

	// PollIntervalSeconds is the fixed interval between status refreshes
	// while a persona is processing. 0 means the 30-second default.
	PollIntervalSeconds int `json:"poll_interval_seconds,omitempty"`

	// SearchDebounceMillis is the quiet period before a user search fires.
	SearchDebounceMillis int `json:"search_debounce_ms,omitempty"`

	// SearchMinChars is the minimum term length for a user search.
	SearchMinChars int `json:"search_min_chars,omitempty"`

	// WizardExitDelaySeconds is how long the wizard lingers after the
	// social-data upload before navigating home.
	WizardExitDelaySeconds int `json:"wizard_exit_delay_seconds,omitempty"`

	// HTTPTimeoutSeconds bounds individual backend requests. Uploads use
	// a longer, proportional limit.
	HTTPTimeoutSeconds int `json:"http_timeout_seconds,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from
	// registration. Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BackendURL:             "http://localhost:8000",
		TokenURL:               "http://localhost:3000/api/token",
		LoginURL:               "http://localhost:3000/api/auth/login",
		PollIntervalSeconds:    30,
		SearchDebounceMillis:   300,
		SearchMinChars:         3,
		WizardExitDelaySeconds: 2,
		HTTPTimeoutSeconds:     30,
	}
}

// Load loads configuration from baseDir/config.json, then applies
// environment overrides (including a .env file if one exists).
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.memora.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return Merge(DefaultConfig(), cfg), nil
}

// applyEnv overlays deployment-varying values from the environment.
// A .env file in the working directory is loaded first if present.
func applyEnv(cfg *Config) {
	_ = godotenv.Load()

	if v, ok := os.LookupEnv("MEMORA_BACKEND_URL"); ok && v != "" {
		cfg.BackendURL = v
	}
	if v, ok := os.LookupEnv("MEMORA_TOKEN_URL"); ok && v != "" {
		cfg.TokenURL = v
	}
	if v, ok := os.LookupEnv("MEMORA_LOGIN_URL"); ok && v != "" {
		cfg.LoginURL = v
	}
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and
// deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.BackendURL = overlay.BackendURL
	if result.BackendURL == "" {
		result.BackendURL = base.BackendURL
	}

	result.TokenURL = overlay.TokenURL
	if result.TokenURL == "" {
		result.TokenURL = base.TokenURL
	}

	result.LoginURL = overlay.LoginURL
	if result.LoginURL == "" {
		result.LoginURL = base.LoginURL
	}

	result.PollIntervalSeconds = overlay.PollIntervalSeconds
	if result.PollIntervalSeconds == 0 {
		result.PollIntervalSeconds = base.PollIntervalSeconds
	}

	result.SearchDebounceMillis = overlay.SearchDebounceMillis
	if result.SearchDebounceMillis == 0 {
		result.SearchDebounceMillis = base.SearchDebounceMillis
	}

	result.SearchMinChars = overlay.SearchMinChars
	if result.SearchMinChars == 0 {
		result.SearchMinChars = base.SearchMinChars
	}

	result.WizardExitDelaySeconds = overlay.WizardExitDelaySeconds
	if result.WizardExitDelaySeconds == 0 {
		result.WizardExitDelaySeconds = base.WizardExitDelaySeconds
	}

	result.HTTPTimeoutSeconds = overlay.HTTPTimeoutSeconds
	if result.HTTPTimeoutSeconds == 0 {
		result.HTTPTimeoutSeconds = base.HTTPTimeoutSeconds
	}

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// PollInterval returns the status poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// SearchDebounce returns the search quiet period as a duration.
func (c *Config) SearchDebounce() time.Duration {
	return time.Duration(c.SearchDebounceMillis) * time.Millisecond
}

// WizardExitDelay returns the post-upload wizard linger as a duration.
func (c *Config) WizardExitDelay() time.Duration {
	return time.Duration(c.WizardExitDelaySeconds) * time.Second
}

// HTTPTimeout returns the per-request backend timeout as a duration.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// mergeStringSlice combines two slices, trims whitespace, and removes
// duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
