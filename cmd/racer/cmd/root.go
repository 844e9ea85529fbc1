// Package cmd implements RACER's command-line front end: run/keygen/config
// subcommands over a single cobra root, the same persistent-flag-plus-
// package-level-subcommand-vars idiom facebook-time's ptpcheck uses.
package cmd

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/racer-mesh/racer/pkg/config"
)

// RootCmd is racer's entry point.
var RootCmd = &cobra.Command{
	Use:   "racer",
	Short: "RACER: leaderless broadcast/consensus for IoT mesh networks",
}

var rootVerbose bool

func init() {
	RootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "verbose logging")
}

// configureLogging applies -v to the package-wide logrus logger. Every
// subcommand that touches the network calls this before doing anything
// else.
func configureLogging() {
	log.SetLevel(log.InfoLevel)
	if rootVerbose {
		log.SetLevel(log.DebugLevel)
	}
}

// Exit codes per the operator-facing contract: 0 success, 1 any other
// failure, 2 bad configuration, 3 transport bind failure.
const (
	exitOK          = 0
	exitOther       = 1
	exitBadConfig   = 2
	exitBindFailure = 3
)

// ErrBindFailure is returned by run when the configured transport address
// could not be bound.
var ErrBindFailure = errors.New("racer: failed to bind transport address")

// Execute runs the root command and exits the process with the exit code
// matching the failure class of whatever error (if any) comes back.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, config.ErrBadConfig):
		return exitBadConfig
	case errors.Is(err, ErrBindFailure):
		return exitBindFailure
	default:
		return exitOther
	}
}
