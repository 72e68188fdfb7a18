package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/dyluth/warren/internal/adminclient"
	"github.com/dyluth/warren/internal/printer"
	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

var serverURL string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "warren",
	Short: "Warren - operator CLI for the reflection orchestrator",
	Long: `Warren turns agent reflections into insights and insights into tasks.

This CLI talks to a running orchestrator over its admin API. Point it at a
different orchestrator with --server or the WARREN_SERVER environment variable.`,
	// Show help rather than silently succeeding without a subcommand
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command. This is called by main.main().
func Execute() error {
	// Errors are printed by the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	server := os.Getenv("WARREN_SERVER")
	if server == "" {
		server = defaultServer
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", server, "Orchestrator admin URL (env WARREN_SERVER)")
}

func newClient() *adminclient.Client {
	return adminclient.New(serverURL)
}

func newPrinter(cmd *cobra.Command) *printer.Printer {
	return printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// apiFailure prints err with advice matching its cause and returns the short
// error cobra exits with.
func apiFailure(p *printer.Printer, action string, err error) error {
	var apiErr *adminclient.APIError
	if !errors.As(err, &apiErr) {
		return p.ErrorWithContext(
			"orchestrator unreachable",
			fmt.Sprintf("Could not %s.", action),
			[][2]string{{"Server", serverURL}, {"Cause", err.Error()}},
			[]string{
				"Check the orchestrator is running:\n  curl " + serverURL + "/healthz",
				"Target another orchestrator:\n  warren --server http://host:8080 ...",
			},
		)
	}

	switch apiErr.Kind {
	case "validation":
		return p.Error("request rejected", apiErr.Message, []string{"Fix the input and retry."})
	case "not_found":
		return p.Error("not found", apiErr.Message, []string{"List insights:\n  warren insights"})
	case "conflict", "duplicate":
		return p.Error(apiErr.Kind, apiErr.Message, nil)
	default:
		return p.ErrorWithContext(
			fmt.Sprintf("failed to %s", action),
			apiErr.Message,
			[][2]string{{"Server", serverURL}, {"Status", fmt.Sprint(apiErr.StatusCode)}},
			[]string{"Check the orchestrator logs."},
		)
	}
}
