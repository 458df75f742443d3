package queuectl

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Recognized configuration keys in their canonical (underscore) form.
const (
	ConfigMaxRetries         = "max_retries"          // default MaxRetries for new jobs
	ConfigBackoffBase        = "backoff_base"         // base b in the retry delay b^attempts
	ConfigWorkerPollInterval = "worker_poll_interval" // seconds between empty-claim polls
	ConfigDBPath             = "db_path"              // database file location
)

// ConfigDefaults maps every recognized configuration key to its default.
var ConfigDefaults = map[string]string{
	ConfigMaxRetries:         "3",
	ConfigBackoffBase:        "2",
	ConfigWorkerPollInterval: "1",
	ConfigDBPath:             "./data/queuectl.db",
}

// NormalizeConfigKey maps a user-supplied configuration key to its
// canonical form. Hyphens and underscores are treated as equivalent at
// the interface boundary; the persisted form uses underscores.
func NormalizeConfigKey(key string) string {
	return strings.ReplaceAll(key, "-", "_")
}

// ValidConfigKey reports whether key (in any accepted spelling) names a
// recognized configuration key.
func ValidConfigKey(key string) bool {
	_, ok := ConfigDefaults[NormalizeConfigKey(key)]
	return ok
}

// ConfigValue returns the configured value for key, falling back to the
// key's default when it has never been set. It returns ErrInvalidInput
// for unrecognized keys.
func ConfigValue(ctx context.Context, st Store, key string) (string, error) {
	canonical := NormalizeConfigKey(key)
	def, ok := ConfigDefaults[canonical]
	if !ok {
		return "", fmt.Errorf("%w: unknown config key %q", ErrInvalidInput, key)
	}
	v, err := st.ConfigGet(ctx, canonical)
	if err != nil {
		return "", err
	}
	if v == "" {
		return def, nil
	}
	return v, nil
}

// ConfigInt returns the configured value for key as an integer. Values
// that do not parse, or parse to something non-positive, fall back to the
// key's default.
func ConfigInt(ctx context.Context, st Store, key string) (int, error) {
	v, err := ConfigValue(ctx, st, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		n, _ = strconv.Atoi(ConfigDefaults[NormalizeConfigKey(key)])
	}
	return n, nil
}
