package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// LockFileName is created in the database directory and guards the
	// index database against concurrent invocations.
	LockFileName = "gphotos.lock"

	// TraceFileName is written to the root folder when a run is killed
	// or fails unexpectedly.
	TraceFileName = ".gphotos-terminated"

	// DBFileName is the index database inside the database directory.
	DBFileName = ".gphotos.db"
)

// RunConfig is the immutable, fully resolved configuration for one
// invocation. It is built once from parsed flags and threaded by value;
// nothing reads flag state after this point.
type RunConfig struct {
	RootFolder string `mapstructure:"-"`
	DBPath     string `mapstructure:"db-path"`

	LogLevel string `mapstructure:"log-level"`
	Brief    bool   `mapstructure:"brief"`

	SkipIndex  bool `mapstructure:"skip-index"`
	IndexOnly  bool `mapstructure:"index-only"`
	SkipFiles  bool `mapstructure:"skip-files"`
	DoDelete   bool `mapstructure:"do-delete"`
	SkipVideo  bool `mapstructure:"skip-video"`
	FlushIndex bool `mapstructure:"flush-index"`

	NewToken  bool `mapstructure:"new-token"`
	NoBrowser bool `mapstructure:"no-browser"`

	// SecretFile and CredentialsFile override the OAuth client secret
	// and token cache locations. Empty means the per-user defaults.
	SecretFile      string `mapstructure:"secret"`
	CredentialsFile string `mapstructure:"credentials"`

	// Excludes are extra glob patterns the local deletion scan skips.
	Excludes []string `mapstructure:"exclude"`

	// StrictExit maps an unhandled pipeline failure to a non-zero exit
	// code. Off by default: scripts that depend on the historical
	// always-zero behavior keep it.
	StrictExit bool `mapstructure:"strict-exit"`

	Album     string    `mapstructure:"album"`
	StartDate time.Time `mapstructure:"start-date"`
	EndDate   time.Time `mapstructure:"end-date"`
}

// LockPath returns the lock file location, scoped to the database
// directory so two invocations against the same index contend even when
// their root folders differ.
func (c RunConfig) LockPath() string {
	return filepath.Join(c.DBPath, LockFileName)
}

// TracePath returns the diagnostic trace file location.
func (c RunConfig) TracePath() string {
	return filepath.Join(c.RootFolder, TraceFileName)
}

// DatabaseFile returns the index database location.
func (c RunConfig) DatabaseFile() string {
	return filepath.Join(c.DBPath, DBFileName)
}

// Resolve builds a RunConfig from bound flag values and the positional
// root folder argument.
//
// The root folder is made absolute and created with 0700 permissions if
// absent. The database path defaults to the root folder. Date flags
// accept YYYY-MM-DD or RFC3339.
func Resolve(v *viper.Viper, rootFolder string) (*RunConfig, error) {
	var cfg RunConfig
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		flexibleTimeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("decode run configuration: %w", err)
	}

	root, err := filepath.Abs(rootFolder)
	if err != nil {
		return nil, fmt.Errorf("resolve root folder: %w", err)
	}
	cfg.RootFolder = root

	if _, err := os.Stat(root); os.IsNotExist(err) {
		if err := os.MkdirAll(root, 0700); err != nil {
			return nil, fmt.Errorf("create root folder: %w", err)
		}
	}

	if cfg.DBPath == "" {
		cfg.DBPath = root
	} else {
		dbPath, err := filepath.Abs(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
		cfg.DBPath = dbPath
	}

	if !cfg.StartDate.IsZero() && !cfg.EndDate.IsZero() && cfg.EndDate.Before(cfg.StartDate) {
		return nil, fmt.Errorf("end date %s is before start date %s",
			cfg.EndDate.Format("2006-01-02"), cfg.StartDate.Format("2006-01-02"))
	}

	return &cfg, nil
}

// flexibleTimeHook decodes date flags given as YYYY-MM-DD or RFC3339.
// Empty strings decode to the zero time, meaning "no bound".
func flexibleTimeHook() mapstructure.DecodeHookFuncType {
	layouts := []string{"2006-01-02", time.RFC3339}

	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(time.Time{}) {
			return data, nil
		}
		s := data.(string)
		if s == "" {
			return time.Time{}, nil
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("invalid date %q (expected YYYY-MM-DD or RFC3339)", s)
	}
}
