package run

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	ephemeraldisk "github.com/azure-vm-tools/ephemeral-disk-setup"
	"github.com/azure-vm-tools/ephemeral-disk-setup/pkg/configuration"
)

var config struct {
	configPath string
}

var rootCmd = &cobra.Command{
	Use:     "azure-ephemeral-disk-setup",
	Version: ephemeraldisk.Version,
	Short:   "Provision Azure ephemeral disks at boot",
	Long: `azure-ephemeral-disk-setup discovers the VM's ephemeral disks, optionally
aggregates them into a single RAID-0 array, formats the result and mounts it
at a configured mount point. It runs once per boot, is idempotent, and never
touches a disk that carries data it did not put there.

One summary line is written to stdout; diagnostics go to stderr and the
debug log.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return subMain()
	},
}

// Execute runs the root command. Failures are reported on stdout next to
// where the summary line would have been, then the process exits non-zero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	fs := rootCmd.Flags()
	fs.StringVar(&config.configPath, "config", configuration.DefaultConfigPath, "Path to the KEY=VALUE configuration file")
}
