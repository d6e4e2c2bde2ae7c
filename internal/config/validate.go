package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate reports configuration mistakes an operator must fix before the
// daemon can run.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		problems = append(problems, "paths.staging_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir must not be empty")
	}
	if c.Audio.Speed < 0.5 || c.Audio.Speed > 2.0 {
		problems = append(problems, fmt.Sprintf("audio.speed %.2f outside ffmpeg atempo range [0.5, 2.0]", c.Audio.Speed))
	}
	if c.Audio.Workers < 0 {
		problems = append(problems, "audio.workers must not be negative")
	}
	if c.Audio.FetchConcurrency < 1 {
		problems = append(problems, "audio.fetch_concurrency must be at least 1")
	}
	if c.Watch.PollInterval < 1 {
		problems = append(problems, "watch.poll_interval must be at least 1 second")
	}
	if c.Watch.WebhookEnabled && strings.TrimSpace(c.Watch.WebhookSecret) == "" {
		problems = append(problems, "watch.webhook_secret required when watch.webhook_enabled is true")
	}
	if len(c.Drive.PlaylistMimeTypes) == 0 {
		problems = append(problems, "drive.playlist_mime_types must not be empty")
	}
	if c.Drive.PageSize < 1 {
		problems = append(problems, "drive.page_size must be at least 1")
	}
	if c.Workflow.HeartbeatInterval < 1 {
		problems = append(problems, "workflow.heartbeat_interval must be at least 1 second")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		problems = append(problems, "workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	if c.Workflow.UploadRetries < 0 {
		problems = append(problems, "workflow.upload_retries must not be negative")
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// WorkerCount resolves the configured worker pool size, substituting the
// CPU-derived default when unset.
func (c *Config) WorkerCount() int {
	if c.Audio.Workers > 0 {
		return c.Audio.Workers
	}
	return DefaultWorkers()
}
