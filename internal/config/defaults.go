package config

import "runtime"

const (
	defaultStagingDir       = "~/.local/share/playrunaddict/staging"
	defaultLogDir           = "~/.local/share/playrunaddict/logs"
	defaultAPIBind          = "127.0.0.1:8321"
	defaultCredentialsFile  = "~/.config/playrunaddict/credentials.json"
	defaultDriveTokenFile   = "~/.config/playrunaddict/drive_token.json"
	defaultDrivePageSize    = 100
	defaultPlayrunBaseURL   = "https://www.playrun.app"
	defaultPlayrunTokenFile = "~/.config/playrunaddict/playrun_token.json"
	defaultChannelTitle     = "Playrun Addict Custom Feed"
	defaultFeedFileName     = "playrun_addict.xml"
	defaultSpeed            = 1.5
	defaultFFmpegBinary     = "ffmpeg"
	defaultFFprobeBinary    = "ffprobe"
	defaultFetchConcurrency = 4
	defaultResolveTimeout   = 60
	defaultAssembleTimeout  = 1800
	defaultPublishTimeout   = 600
	defaultPollInterval     = 300
	defaultNotifyTimeout    = 10
	defaultHeartbeatTick    = 15
	defaultHeartbeatExpiry  = 120
	defaultUploadRetries    = 3
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
)

func defaultPlaylistMimeTypes() []string {
	return []string{"audio/x-mpegurl", "audio/mpegurl", "application/vnd.apple.mpegurl"}
}

// DefaultWorkers leaves one CPU for the encoder the workers will invoke.
func DefaultWorkers() int {
	if n := runtime.NumCPU() - 1; n > 1 {
		return n
	}
	return 1
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Drive: Drive{
			CredentialsFile:   defaultCredentialsFile,
			TokenFile:         defaultDriveTokenFile,
			PlaylistMimeTypes: defaultPlaylistMimeTypes(),
			PageSize:          defaultDrivePageSize,
		},
		Playrun: Playrun{
			BaseURL:      defaultPlayrunBaseURL,
			TokenFile:    defaultPlayrunTokenFile,
			ChannelTitle: defaultChannelTitle,
			FeedFileName: defaultFeedFileName,
		},
		Audio: Audio{
			Speed:            defaultSpeed,
			FFmpeg:           defaultFFmpegBinary,
			FFprobe:          defaultFFprobeBinary,
			FetchConcurrency: defaultFetchConcurrency,
			ResolveTimeout:   defaultResolveTimeout,
			AssembleTimeout:  defaultAssembleTimeout,
			PublishTimeout:   defaultPublishTimeout,
		},
		Watch: Watch{
			PollInterval: defaultPollInterval,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
		Workflow: Workflow{
			HeartbeatInterval: defaultHeartbeatTick,
			HeartbeatTimeout:  defaultHeartbeatExpiry,
			UploadRetries:     defaultUploadRetries,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
