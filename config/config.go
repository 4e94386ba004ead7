// Package config reads environment variables naming Domains Manager,
// pipeline and resumable-upload tunables into an Env value.
package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Env holds every tunable this module exposes as an environment
// variable. No package in this module consumes an Env: its values take
// effect only where a caller passes them to domains.Builder,
// pipeline.NewClient or kodoupload.Config, and nothing here maps a
// zero-value field back to those packages' defaults.
type Env struct {
	URLFrozenDuration         time.Duration `env:"KODO_URL_FROZEN_DURATION"`
	ResolutionsCacheLifetime  time.Duration `env:"KODO_RESOLUTIONS_CACHE_LIFETIME"`
	URLResolutionDisabled     bool          `env:"KODO_URL_RESOLUTION_DISABLED"`
	PersistentInterval        time.Duration `env:"KODO_PERSISTENT_INTERVAL"`
	RefreshResolutionsInterval time.Duration `env:"KODO_REFRESH_RESOLUTIONS_INTERVAL"`
	URLResolveRetries         int           `env:"KODO_URL_RESOLVE_RETRIES"`
	URLResolveRetryDelay      time.Duration `env:"KODO_URL_RESOLVE_RETRY_DELAY"`
	PersistentFilePath        string        `env:"KODO_PERSISTENT_FILE_PATH"`

	PipelineDefaultRetries int  `env:"KODO_PIPELINE_DEFAULT_RETRIES" env-default:"2"`
	PipelineUseHTTPS       bool `env:"KODO_PIPELINE_USE_HTTPS" env-default:"true"`

	ResumableBlockSize   int64  `env:"KODO_RESUMABLE_BLOCK_SIZE" env-default:"4194304"`
	ResumableConcurrency int    `env:"KODO_RESUMABLE_CONCURRENCY" env-default:"4"`
	RecorderDir          string `env:"KODO_RECORDER_DIR"`
	Bucket               string `env:"KODO_BUCKET"`
}

// Load reads process environment variables into an Env, applying the
// env-default tags for anything unset.
func Load() (Env, error) {
	var e Env
	if err := cleanenv.ReadEnv(&e); err != nil {
		return Env{}, err
	}
	return e, nil
}
