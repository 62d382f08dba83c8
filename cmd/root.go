package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/BioHazard786/discushy/internal/ui"
	"github.com/BioHazard786/discushy/internal/version"
	"github.com/spf13/cobra"
)

var flagConfigFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "discushy",
	Short:   "Mesh video meetings from the terminal",
	Long:    `discushy joins small video meetings where every participant connects directly to every other one over WebRTC. A lightweight signaling hub, also served by this binary, keeps the room roster and relays connection setup between peers.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfigFile, "config", "c", "", "Config file (yaml, toml or json)")
}
