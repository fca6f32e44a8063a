// Package cmdutil provides shared utilities for CLI command implementations.
package cmdutil

import (
	"fmt"
	"runtime"
	"time"

	"github.com/endorses/fpengine/internal/pkg/fingerprint"
	"github.com/endorses/fpengine/internal/pkg/logger"
	"github.com/endorses/fpengine/internal/pkg/lookup"
	"github.com/spf13/viper"
)

// Configuration keys
const (
	KeyFingerprintPaths = "fingerprints.paths"
	KeyFingerprintWatch = "fingerprints.watch"
	KeyLookupPaths      = "lookup.paths"
	KeyWorkers          = "engine.workers"
	KeyRegexTimeoutMS   = "engine.regex_timeout_ms"
	KeyOutputFormat     = "output.format"
	KeyMetricsAddr      = "metrics.addr"
	KeyLogLevel         = "log.level"
	KeyLogFormat        = "log.format"
)

// SetDefaults registers the default value of every configuration key
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyFingerprintPaths, []string{"fingerprints"})
	v.SetDefault(KeyFingerprintWatch, false)
	v.SetDefault(KeyWorkers, runtime.NumCPU())
	v.SetDefault(KeyRegexTimeoutMS, int(fingerprint.DefaultRegexTimeout/time.Millisecond))
	v.SetDefault(KeyOutputFormat, "text")
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
}

// GetStringSliceConfig returns flagValue when given, otherwise the config value for key.
// Flag values take precedence over config file values.
func GetStringSliceConfig(key string, flagValue []string) []string {
	if len(flagValue) > 0 {
		return flagValue
	}
	// Check actual config value instead of viper.IsSet() which returns true
	// for bound flags even when config file doesn't define them
	if configValue := viper.GetStringSlice(key); len(configValue) > 0 {
		return configValue
	}
	return flagValue
}

// ConfigureLogging applies log.level and log.format
func ConfigureLogging() error {
	return logger.Configure(logger.Options{
		Level:  viper.GetString(KeyLogLevel),
		Format: viper.GetString(KeyLogFormat),
	})
}

// LoadOptions builds fingerprint loader options from configuration
func LoadOptions() fingerprint.LoadOptions {
	ms := viper.GetInt(KeyRegexTimeoutMS)
	return fingerprint.LoadOptions{RegexTimeout: time.Duration(ms) * time.Millisecond}
}

// LoadFingerprints loads the configured fingerprint paths and logs every
// element-level problem. It fails only when nothing could be loaded.
func LoadFingerprints(paths []string) ([]*fingerprint.Definition, []error, error) {
	defs, errs := fingerprint.LoadPaths(paths, LoadOptions())
	for _, err := range errs {
		logger.Warn("Fingerprint load problem", "error", err)
	}
	if len(defs) == 0 {
		return nil, errs, fmt.Errorf("%w in %v", fingerprint.ErrNoFingerprints, paths)
	}
	return defs, errs, nil
}

// NewLookups builds a lookup provider with the configured tables
func NewLookups(paths []string) (*lookup.Provider, error) {
	p := lookup.New()
	if err := p.LoadFiles(paths); err != nil {
		return nil, err
	}
	return p, nil
}
