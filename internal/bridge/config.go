package bridge

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aria-labs/ariabridge/internal/backend"
)

// Config is the process-wide bridge configuration, loaded once at
// startup and immutable thereafter. A config change requires a
// process restart.
type Config struct {
	// Matrix connection
	HomeserverURL string `json:"homeserver"`
	BotUserID     string `json:"user_id"`
	AccessToken   string `json:"access_token"`
	RoomID        string `json:"room_id"`

	// Identity
	InstanceName string `json:"instance_name"` // defaults to "AI Instance"
	ShortName    string `json:"short_name"`    // mention trigger; defaults to the user ID localpart

	// Authorization
	AuthorizedSenders []string `json:"authorized_senders"`

	// Backends
	Backends      []backend.Target `json:"backends"`
	ChatBackend   string           `json:"chat_backend"`   // name of the target for /task and mentions
	InjectBackend string           `json:"inject_backend"` // name of the target for /inject

	// Poll loop
	FetchLimit     int    `json:"fetch_limit"`     // default 10
	PollInterval   string `json:"poll_interval"`   // default "3s"
	BackendTimeout string `json:"backend_timeout"` // default "60s"

	// Runtime
	DataDir    string `json:"data_dir"`    // cursor database location, default "data"
	HealthAddr string `json:"health_addr"` // empty disables the health endpoint

	// Matrix is an alternative nested layout for the connection keys;
	// non-empty fields fill in blank top-level ones.
	Matrix *nestedMatrix `json:"matrix,omitempty"`
}

type nestedMatrix struct {
	Homeserver  string `json:"homeserver"`
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	RoomID      string `json:"room_id"`
}

// ConfigError reports the first missing required field. Configuration
// errors are fatal: the process exits before entering the poll loop.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return "config: missing required field " + e.Field
}

// LoadConfig reads and parses the config file, resolves $ENV_VAR value
// references, flattens the nested layout, and applies defaults for the
// optional fields. It does not contact the network. Call Validate
// before use (after any command-line overrides).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	// Flatten the nested layout
	if m := cfg.Matrix; m != nil {
		if cfg.HomeserverURL == "" {
			cfg.HomeserverURL = m.Homeserver
		}
		if cfg.BotUserID == "" {
			cfg.BotUserID = m.UserID
		}
		if cfg.AccessToken == "" {
			cfg.AccessToken = m.AccessToken
		}
		if cfg.RoomID == "" {
			cfg.RoomID = m.RoomID
		}
		cfg.Matrix = nil
	}

	// Resolve env var references in credential-bearing values
	cfg.HomeserverURL = resolveEnv(cfg.HomeserverURL)
	cfg.BotUserID = resolveEnv(cfg.BotUserID)
	cfg.AccessToken = resolveEnv(cfg.AccessToken)
	cfg.RoomID = resolveEnv(cfg.RoomID)
	for i := range cfg.Backends {
		cfg.Backends[i].AuthSecret = resolveEnv(cfg.Backends[i].AuthSecret)
		cfg.Backends[i].Endpoint = resolveEnv(cfg.Backends[i].Endpoint)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults fills in the optional fields.
func (c *Config) applyDefaults() {
	if c.InstanceName == "" {
		c.InstanceName = "AI Instance"
	}
	if c.ShortName == "" {
		c.ShortName = localpart(c.BotUserID)
	}
	if c.FetchLimit <= 0 {
		c.FetchLimit = 10
	}
	if c.PollInterval == "" {
		c.PollInterval = "3s"
	}
	if c.BackendTimeout == "" {
		c.BackendTimeout = "60s"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.ChatBackend == "" {
		for _, t := range c.Backends {
			if t.Kind == backend.KindChatCompletion || t.Kind == backend.KindLocalInference {
				c.ChatBackend = t.Name
				break
			}
		}
	}
	if c.InjectBackend == "" {
		for _, t := range c.Backends {
			if t.Kind == backend.KindSessionInject {
				c.InjectBackend = t.Name
				break
			}
		}
	}
}

// Validate checks the required fields in a fixed order and returns a
// ConfigError for the first one missing (fail-fast).
func (c *Config) Validate() error {
	for _, f := range []struct {
		name  string
		value string
	}{
		{"homeserver", c.HomeserverURL},
		{"user_id", c.BotUserID},
		{"access_token", c.AccessToken},
		{"room_id", c.RoomID},
	} {
		if f.value == "" {
			return &ConfigError{Field: f.name}
		}
	}
	return nil
}

// PollIntervalDuration returns the parsed poll interval.
func (c *Config) PollIntervalDuration() time.Duration {
	if d, err := time.ParseDuration(c.PollInterval); err == nil && d > 0 {
		return d
	}
	return 3 * time.Second
}

// BackendTimeoutDuration returns the parsed per-call backend timeout.
func (c *Config) BackendTimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(c.BackendTimeout); err == nil && d > 0 {
		return d
	}
	return 60 * time.Second
}

// Target returns the backend target with the given name.
func (c *Config) Target(name string) (backend.Target, bool) {
	for _, t := range c.Backends {
		if t.Name == name {
			return t, true
		}
	}
	return backend.Target{}, false
}

// resolveEnv replaces $ENV_VAR references with actual values.
func resolveEnv(s string) string {
	if len(s) > 1 && s[0] == '$' {
		if v := os.Getenv(s[1:]); v != "" {
			return v
		}
	}
	return s
}

// localpart extracts "name" from "@name:domain".
func localpart(userID string) string {
	s := strings.TrimPrefix(userID, "@")
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return s
}
