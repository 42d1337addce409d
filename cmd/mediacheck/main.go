// Command mediacheck verifies the integrity of media files with ffmpeg.
package main

import (
	"os"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mediacheck/mediacheck/internal/config"
	"github.com/mediacheck/mediacheck/internal/errors"
	"github.com/mediacheck/mediacheck/internal/logger"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

// exitCode lets a command choose the process exit status without printing
// an error.
type exitCode int

func (e exitCode) Error() string { return "exit status " + strconv.Itoa(int(e)) }

// app carries what every subcommand needs once the root command has run.
type app struct {
	configPath string
	logLevel   string

	cfg *config.Config
	log *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "mediacheck",
		Short: "Batch media integrity checker",
		Long: `mediacheck decodes media files with ffmpeg and reports which ones are corrupt.

Examples:
  mediacheck check ~/Videos               # check every media file below ~/Videos
  mediacheck check --fast --export r.csv .  # tail-only check, CSV report
  mediacheck serve                        # HTTP API with persistence
  mediacheck doctor                       # verify ffmpeg and show system info`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				a.log.Close() //nolint:errcheck
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default: ./mediacheck.toml or the user config dir)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		newCheckCmd(a),
		newServeCmd(a),
		newDoctorCmd(a),
		newRepairCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	log, err := logger.New(cfg.Log.Options(), os.Stderr)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	if cfg.File != "" {
		log.Debugw("config loaded", "file", cfg.File)
	}
	return nil
}

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}
	var code exitCode
	if errors.As(err, &code) {
		os.Exit(int(code))
	}
	pterm.Error.Println(err.Error())
	for _, hint := range errors.GetAllHints(err) {
		pterm.Info.Println(hint)
	}
	os.Exit(1)
}
