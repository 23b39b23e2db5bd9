package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/scbe/config"
	"github.com/teranos/scbe/errs"
)

// InitConfigCmd scaffolds a starter scbe.toml, following the teacher's
// writePluginConfigFile pattern of encoding a settings map straight to
// TOML rather than round-tripping it through Viper.
var InitConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a starter scbe.toml with default values",
	Long:  `Scaffolds a scbe.toml populated with every default spec.md §5/§6 names, ready to edit in place.`,
	RunE:  runInitConfig,
}

var initConfigPath string

func init() {
	InitConfigCmd.Flags().StringVar(&initConfigPath, "path", "scbe.toml", "where to write the starter config file")
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	if err := config.WriteDefaultConfigFile(initConfigPath); err != nil {
		return errs.Wrap(err, "write default config")
	}
	pterm.Success.Printf("wrote default configuration to %s\n", initConfigPath)
	return nil
}
