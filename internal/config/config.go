package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"ot2-calibration/internal/calibration"
	"ot2-calibration/internal/keys"
	"ot2-calibration/internal/robot"
	"ot2-calibration/internal/storage"
)

// Config is resolved once per invocation and passed by value afterwards.
type Config struct {
	Host           string   `env:"OT2_HOST"`
	CandidateHosts []string `env:"OT2_CANDIDATE_HOSTS" envDefault:"opentrons.local" envSeparator:","`
	PickFirst      bool     `env:"OT2_PICK_FIRST" envDefault:"false"`

	ApiPort     int           `env:"OT2_API_PORT" envDefault:"31950"`
	ApiVersion  string        `env:"OT2_API_VERSION" envDefault:"2"`
	HTTPTimeout time.Duration `env:"OT2_HTTP_TIMEOUT" envDefault:"20s"`

	SSHUser           string        `env:"OT2_SSH_USER" envDefault:"root"`
	SSHPort           int           `env:"OT2_SSH_PORT" envDefault:"22"`
	SSHKey            string        `env:"OT2_SSH_KEY"`
	SSHKeyDir         string        `env:"OT2_SSH_KEY_DIR"`
	SSHKeyScope       string        `env:"OT2_SSH_KEY_SCOPE" envDefault:"per-robot"`
	EnsureSSHKey      bool          `env:"OT2_ENSURE_SSH_KEY" envDefault:"true"`
	SSHKeyHelper      string        `env:"OT2_SSH_KEY_HELPER"`
	KnownHosts        string        `env:"OT2_KNOWN_HOSTS"`
	SSHConnectTimeout time.Duration `env:"OT2_SSH_CONNECT_TIMEOUT" envDefault:"10s"`

	RemoteTag string `env:"OT2_REMOTE_TAG" envDefault:"standard-offsets-upload"`

	RestartRobotServer    bool          `env:"OT2_RESTART_ROBOT_SERVER" envDefault:"true"`
	RestartWait           time.Duration `env:"OT2_RESTART_WAIT" envDefault:"120s"`
	ReadyPollInterval     time.Duration `env:"OT2_READY_POLL_INTERVAL" envDefault:"2s"`
	RestartCommandTimeout time.Duration `env:"OT2_RESTART_COMMAND_TIMEOUT" envDefault:"90s"`

	DryRun bool `env:"OT2_DRY_RUN" envDefault:"false"`

	OffsetsDir             string `env:"OT2_OFFSETS_DIR" envDefault:"./offsets"`
	PipetteOffsetsTemplate string `env:"OT2_PIPETTE_OFFSETS_TEMPLATE" envDefault:"pipette_offsets_all.json"`
	TipLengthTemplate      string `env:"OT2_TIP_LENGTH_TEMPLATE" envDefault:"tip_length_offsets_all.json"`
	DeckTemplate           string `env:"OT2_DECK_TEMPLATE" envDefault:"calibration_status_with_deck_offset.json"`
	TemplateBucket         string `env:"OT2_TEMPLATE_BUCKET"`
	TemplatePrefix         string `env:"OT2_TEMPLATE_PREFIX"`

	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`

	PullDir    string `env:"OT2_PULL_DIR" envDefault:"./offsets/pulled"`
	PullBucket string `env:"OT2_PULL_BUCKET"`

	HistoryDB       string `env:"OT2_HISTORY_DB"`
	DatabaseURL     string `env:"DATABASE_URL"`
	HistoryDisabled bool   `env:"OT2_HISTORY_DISABLED" envDefault:"false"`
	HistoryListen   string `env:"OT2_HISTORY_LISTEN" envDefault:"127.0.0.1:8001"`

	RabbitMQURL string `env:"RABBITMQ_URL"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`
}

// Load reads the configuration from the environment. Values that depend on
// the user's directories are filled in when left empty.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config: %w", err)
	}

	if cfg.SSHKeyDir == "" {
		cfg.SSHKeyDir = keys.DefaultKeyDir()
	}
	if cfg.HistoryDB == "" {
		cfg.HistoryDB = defaultHistoryPath()
	}
	if cfg.S3EndpointURL != "" && (cfg.S3AccessKeyID == "" || cfg.S3SecretAccessKey == "") {
		slog.Warn("S3_ENDPOINT_URL is set, but AWS_ACCESS_KEY_ID or AWS_SECRET_ACCESS_KEY are missing")
	}

	return cfg, nil
}

func defaultHistoryPath() string {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".ot2-calibration", "history.db")
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "ot2-calibration", "history.db")
}

func (c Config) Validate() error {
	var errs []error

	for name, port := range map[string]int{"api port": c.ApiPort, "ssh port": c.SSHPort} {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("invalid %s %d", name, port))
		}
	}
	if strings.TrimSpace(c.ApiVersion) == "" {
		errs = append(errs, errors.New("api version must not be empty"))
	}
	if _, err := keys.ParseScope(c.SSHKeyScope); err != nil {
		errs = append(errs, err)
	}

	for name, d := range map[string]time.Duration{
		"http timeout":            c.HTTPTimeout,
		"ssh connect timeout":     c.SSHConnectTimeout,
		"restart wait":            c.RestartWait,
		"ready poll interval":     c.ReadyPollInterval,
		"restart command timeout": c.RestartCommandTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.ReadyPollInterval > c.RestartWait {
		errs = append(errs, fmt.Errorf("ready poll interval %s exceeds restart wait %s", c.ReadyPollInterval, c.RestartWait))
	}

	if robot.Slug(c.RemoteTag) != c.RemoteTag {
		errs = append(errs, fmt.Errorf("remote tag %q may only contain lowercase letters, digits, '.', '_' and '-'", c.RemoteTag))
	}
	if c.TemplateBucket == "" && c.OffsetsDir == "" {
		errs = append(errs, errors.New("either an offsets directory or a template bucket is required"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return level, nil
}

func (c Config) S3() storage.S3ClientConfig {
	return storage.S3ClientConfig{
		Endpoint:        c.S3EndpointURL,
		Region:          c.S3Region,
		AccessKeyID:     c.S3AccessKeyID,
		SecretAccessKey: c.S3SecretAccessKey,
	}
}

func (c Config) TemplateNames() calibration.Names {
	return calibration.Names{
		PipetteOffsets: c.PipetteOffsetsTemplate,
		TipLengths:     c.TipLengthTemplate,
		Deck:           c.DeckTemplate,
	}
}

func (c Config) RobotClient() robot.ClientConfig {
	return robot.ClientConfig{
		Port:       c.ApiPort,
		ApiVersion: c.ApiVersion,
		Timeout:    c.HTTPTimeout,
	}
}

// KeyHelperArgv splits the helper command line on whitespace.
func (c Config) KeyHelperArgv() []string {
	return strings.Fields(c.SSHKeyHelper)
}
