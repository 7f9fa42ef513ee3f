package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lakegate/lakegate/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE: func(_ *cobra.Command, _ []string) error {
			if resolvedCfg == nil {
				return fmt.Errorf("no configuration loaded")
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")

				return enc.Encode(resolvedCfg)
			}

			fmt.Printf("# effective configuration (%s)\n", resolvedCfgPath)

			return config.RenderEffective(resolvedCfg, os.Stdout)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")

	return cmd
}
