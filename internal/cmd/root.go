// Package cmd wires the gphotosync CLI: flag surface, configuration
// binding, and the run lifecycle around the sync pipeline.
package cmd

import (
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// versionInfo holds build-time version metadata.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo is called from main with ldflags-injected values.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate)
}

var rootCmd = &cobra.Command{
	Use:   "gphotosync <root-folder>",
	Short: "Sync a Google Photos library to a local folder",
	Long: `Sync the contents of a Google Photos library to a local folder.

Media files are stored under <root-folder>/YYYY/MM/ by capture date and
albums are materialized as symlink folders under <root-folder>/albums/.
An index database tracks what has been seen and downloaded, so repeat
runs only fetch what is new.

Example:
  gphotosync ~/Pictures/google-photos
  gphotosync ~/Pictures/google-photos --skip-index
  gphotosync ~/Pictures/google-photos --start-date 2023-01-01 --do-delete`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runSync,
}

func init() {
	flags := rootCmd.Flags()

	flags.String("db-path", "", "Directory for the index database (default: the root folder)")
	flags.String("log-level", "info", "Log level (debug|info|warn|error)")
	flags.Bool("brief", false, "Brief log output without timestamps")

	flags.Bool("skip-index", false, "Use the existing index instead of scanning the remote library")
	flags.Bool("index-only", false, "Build the index but do not download or link anything")
	flags.Bool("skip-files", false, "Index and link but do not download media bytes")
	flags.Bool("do-delete", false, "Delete local files that were removed from the remote library")
	flags.Bool("skip-video", false, "Index photos only")
	flags.Bool("flush-index", false, "Discard the existing index and rescan from scratch")

	flags.String("album", "", "Only index the album with this exact title")
	flags.String("start-date", "", "Only index media captured on or after this date (YYYY-MM-DD)")
	flags.String("end-date", "", "Only index media captured on or before this date (YYYY-MM-DD)")
	flags.StringSlice("exclude", nil, "Glob pattern the deletion scan skips (repeatable)")

	flags.Bool("new-token", false, "Discard the cached OAuth token and re-authorize")
	flags.Bool("no-browser", false, "Print the authorization URL instead of opening a browser")
	flags.String("secret", "", "Path to the OAuth client secret file")
	flags.String("credentials", "", "Path to the cached OAuth token file")

	flags.Bool("strict-exit", false, "Exit non-zero when the sync fails instead of only logging")

	if err := viper.BindPFlags(flags); err != nil {
		panic(fmt.Sprintf("bind flags: %v", err))
	}
}

// Execute runs the CLI. The returned error carries an exit code when
// one was chosen deliberately; see ExitCode.
func Execute() error {
	return rootCmd.Execute()
}

// codedError pairs an error with the process exit code it should
// produce.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func exitError(code int, message string, err error) error {
	return &codedError{code: code, err: fmt.Errorf("%s: %w", message, err)}
}

// ExitCode maps an error returned by Execute to a process exit code.
// Errors without an explicit code are treated as usage errors (cobra
// flag and argument failures arrive here).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	return foundry.ExitInvalidArgument
}
