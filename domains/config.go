package domains

import (
	"os"
	"path/filepath"
	"time"
)

// config holds the tunables §4.1/§6 put on the Domains Manager
// builder. A nil *time.Duration field means "disabled" for the
// interval fields.
type config struct {
	urlFrozenDuration          time.Duration
	resolutionsCacheLifetime   time.Duration
	urlResolutionDisabled      bool
	persistentInterval         *time.Duration
	refreshResolutionsInterval *time.Duration
	urlResolveRetries          int
	urlResolveRetryDelay      time.Duration
}

func defaultConfig() config {
	persistentInterval := 30 * time.Minute
	refreshInterval := 30 * time.Minute
	return config{
		urlFrozenDuration:          10 * time.Minute,
		resolutionsCacheLifetime:   60 * time.Minute,
		urlResolutionDisabled:      false,
		persistentInterval:         &persistentInterval,
		refreshResolutionsInterval: &refreshInterval,
		urlResolveRetries:          10,
		urlResolveRetryDelay:       time.Second,
	}
}

// DefaultPersistentFilePath returns the OS cache directory (falling
// back to the temp directory) joined with qiniu_sdk/domains_manager.json,
// the default §6 specifies.
func DefaultPersistentFilePath() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "qiniu_sdk", "domains_manager.json")
}
