package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
}

// Drive contains Google Drive source configuration.
type Drive struct {
	FolderID          string   `toml:"folder_id"`
	CredentialsFile   string   `toml:"credentials_file"`
	TokenFile         string   `toml:"token_file"`
	PlaylistMimeTypes []string `toml:"playlist_mime_types"`
	PageSize          int64    `toml:"page_size"`
}

// Playrun contains configuration for the downstream catalog API and feed.
type Playrun struct {
	BaseURL      string `toml:"base_url"`
	TokenFile    string `toml:"token_file"`
	ChannelTitle string `toml:"channel_title"`
	FeedFileName string `toml:"feed_file_name"`
}

// Audio contains assembly and toolchain configuration.
type Audio struct {
	Speed            float64 `toml:"speed"`
	FFmpeg           string  `toml:"ffmpeg"`
	FFprobe          string  `toml:"ffprobe"`
	Workers          int     `toml:"workers"`
	FetchConcurrency int     `toml:"fetch_concurrency"`
	ResolveTimeout   int     `toml:"resolve_timeout"`
	AssembleTimeout  int     `toml:"assemble_timeout"`
	PublishTimeout   int     `toml:"publish_timeout"`
}

// Watch contains change detection configuration.
type Watch struct {
	PollInterval   int    `toml:"poll_interval"`
	WebhookSecret  string `toml:"webhook_secret"`
	WebhookEnabled bool   `toml:"webhook_enabled"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Workflow contains daemon timing configuration.
type Workflow struct {
	HeartbeatInterval int `toml:"heartbeat_interval"`
	HeartbeatTimeout  int `toml:"heartbeat_timeout"`
	UploadRetries     int `toml:"upload_retries"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the pipeline.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Drive         Drive         `toml:"drive"`
	Playrun       Playrun       `toml:"playrun"`
	Audio         Audio         `toml:"audio"`
	Watch         Watch         `toml:"watch"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/playrunaddict/config.toml")
}

// Load locates, parses, and validates a configuration file. When path is
// empty the default location is used; a missing file yields defaults and a
// freshly written sample so the operator has something to edit.
func Load(path string) (*Config, string, bool, error) {
	resolved := strings.TrimSpace(path)
	var err error
	if resolved == "" {
		resolved, err = DefaultConfigPath()
		if err != nil {
			return nil, "", false, err
		}
	} else {
		resolved, err = expandPath(resolved)
		if err != nil {
			return nil, "", false, err
		}
	}

	cfg := Default()
	data, readErr := os.ReadFile(resolved)
	switch {
	case readErr == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, resolved, false, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	case errors.Is(readErr, fs.ErrNotExist):
		if err := WriteSample(resolved); err != nil {
			return nil, resolved, false, err
		}
		if err := cfg.normalize(); err != nil {
			return nil, resolved, false, err
		}
		return &cfg, resolved, false, nil
	default:
		return nil, resolved, false, fmt.Errorf("read config %s: %w", resolved, readErr)
	}

	if err := cfg.normalize(); err != nil {
		return nil, resolved, true, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, resolved, true, err
	}
	return &cfg, resolved, true, nil
}

// WriteSample writes the embedded sample config to path, creating parent
// directories as needed. Existing files are left untouched.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Sample returns the embedded sample configuration text.
func Sample() string {
	return sampleConfig
}

// EnsureDirectories creates the directories the pipeline writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Drive.CredentialsFile, err = expandPath(c.Drive.CredentialsFile); err != nil {
		return err
	}
	if c.Drive.TokenFile, err = expandPath(c.Drive.TokenFile); err != nil {
		return err
	}
	if c.Playrun.TokenFile, err = expandPath(c.Playrun.TokenFile); err != nil {
		return err
	}
	c.Playrun.BaseURL = strings.TrimRight(strings.TrimSpace(c.Playrun.BaseURL), "/")
	return nil
}

// ExpandPath resolves ~ and cleans a user-supplied path.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Clean(trimmed), nil
}
