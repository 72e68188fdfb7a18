package commands

import (
	"errors"

	"github.com/dyluth/warren/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	initDir   string
	initForce bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter warren.yml",
	Long: `Write a starter warren.yml with example agents and every section at its
default, ready for the orchestrator to load.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)
		path, err := scaffold.Initialize(initDir, initForce)
		if errors.Is(err, scaffold.ErrAlreadyInitialized) {
			return p.Error("project already initialized", err.Error(), []string{
				"Reinitialize (overwrites the existing configuration):\n  warren init --force",
			})
		}
		if err != nil {
			return p.Error("initialization failed", err.Error(), nil)
		}

		p.Success("created %s\n", path)
		p.Info("\nNext steps:\n")
		p.Info("  1. Replace the example agents with your own\n")
		p.Info("  2. Start the orchestrator with WARREN_CONFIG=%s\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initDir, "dir", ".", "Directory to write warren.yml into")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing warren.yml")
	rootCmd.AddCommand(initCmd)
}
