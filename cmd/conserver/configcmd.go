package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vcon-dev/vcon-server-sub000/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the chain configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Parse and validate a configuration document",
	Long: `Parse the configuration document and report each chain's status.

Chains referencing unknown stages or storages are reported as disabled;
structural problems (a chain with no ingress queue) fail validation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.SettingsFromEnv().ConfigPath
		if len(args) == 1 {
			path = args[0]
		}

		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		fmt.Printf("Configuration valid: %d stages, %d storages, %d chains\n",
			len(cfg.Stages), len(cfg.Storages), len(cfg.Chains))
		for _, chain := range cfg.EnabledChains() {
			stages := make([]string, len(chain.Stages))
			for i, ref := range chain.Stages {
				stages[i] = ref.Name
			}
			fmt.Printf("  %s: stages=[%s] storages=[%s] ingress=[%s] egress=[%s]\n",
				chain.Name,
				strings.Join(stages, ", "),
				strings.Join(chain.Storages, ", "),
				strings.Join(chain.IngressQueues, ", "),
				strings.Join(chain.EgressQueues, ", "))
		}
		for name, chain := range cfg.Chains {
			if !chain.IsEnabled() {
				fmt.Printf("  %s: disabled\n", name)
			}
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}
