package commands

import (
	"encoding/json"
	"fmt"

	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/internal/processor"
	"github.com/dyluth/warren/internal/spool"
	"github.com/spf13/cobra"
)

var modulesJSON bool

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List the modules the agent would load",
	Long: `Load the module registry exactly as the agent does at startup - built-in
modules first, then external executables from the configured modules
directory - and print each module with its actions.

Use --json for machine-readable output.`,
	RunE: runModules,
}

func init() {
	modulesCmd.Flags().BoolVar(&modulesJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(modulesCmd)
}

type moduleInfo struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Actions []string `json:"actions"`
}

func runModules(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return printer.Error("Cannot load configuration", err.Error(),
			[]string{"Pass the agent configuration file with --config"})
	}

	registry, err := processor.LoadRegistry(cfg, spool.NewMutexTable())
	if err != nil {
		return printer.Error("Cannot load modules", err.Error(), nil)
	}

	var infos []moduleInfo
	for _, name := range registry.Names() {
		mod, _ := registry.Lookup(name)
		infos = append(infos, moduleInfo{
			Name:    mod.Name(),
			Kind:    string(mod.Kind()),
			Actions: mod.Actions(),
		})
	}

	if modulesJSON {
		out, err := json.MarshalIndent(infos, "", "  ")
		if err != nil {
			return err
		}
		printer.Println(string(out))
		return nil
	}

	printer.Printf("%-12s %-10s %s\n", "MODULE", "KIND", "ACTIONS")
	for _, info := range infos {
		actions := "-"
		if len(info.Actions) > 0 {
			actions = fmt.Sprintf("%v", info.Actions)
		}
		printer.Printf("%-12s %-10s %s\n", info.Name, info.Kind, actions)
	}
	return nil
}
