package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/internal/watch"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/spf13/cobra"
)

var (
	ingestFile string
	ingestWait time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest -f FILE",
	Short: "Submit reflections to the orchestrator",
	Long: `Submit one reflection, or a JSON array of reflections, read from FILE.

Use "-f -" to read from stdin. Each reflection is clustered into an insight;
the resulting insight and its status are printed.

Examples:
  # Submit a single reflection
  warren ingest -f reflection.json

  # Pipe a batch from another tool
  jq -s . reflections/*.json | warren ingest -f -

  # Wait up to 30s for promoted insights to be bridged into tasks
  warren ingest -f reflection.json --wait 30s`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "Reflection JSON file, or - for stdin")
	ingestCmd.Flags().DurationVar(&ingestWait, "wait", 0, "Wait this long for promoted insights to be bridged")
	_ = ingestCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)

	data, err := readInput(cmd.InOrStdin(), ingestFile)
	if err != nil {
		return p.Error("cannot read reflections", err.Error(), nil)
	}
	reflections, err := decodeReflections(data)
	if err != nil {
		return p.Error("invalid reflection file", err.Error(), []string{
			"Provide a JSON object or array with at least author, pain and severity.",
		})
	}

	client := newClient()
	var failed int
	promoted := map[string]bool{}
	for i, r := range reflections {
		ins, err := client.IngestReflection(cmd.Context(), r)
		if err != nil {
			failed++
			p.Warning("reflection %d (%s): %v\n", i+1, r.Author, err)
			continue
		}
		p.Success("reflection %d → insight %s [%s] %s (%s)\n", i+1, ins.ID[:8], ins.Status, ins.ClusterKey, printer.Severity(ins.SeverityMax))
		if ins.Status == blackboard.InsightStatusPromoted && ins.TaskID == "" {
			promoted[ins.ID] = true
		}
	}

	if ingestWait > 0 {
		for id := range promoted {
			p.Step("waiting for insight %s to be bridged\n", id[:8])
			ins, err := watch.PollForTask(cmd.Context(), client, id, ingestWait)
			if err != nil {
				p.Warning("%v\n", err)
				continue
			}
			if ins.TaskID != "" {
				p.Success("insight %s → %s\n", ins.ID[:8], ins.TaskID)
			} else {
				p.Info("insight %s handed to triage\n", ins.ID[:8])
			}
		}
	}

	if failed > 0 {
		return p.Error(
			fmt.Sprintf("%d of %d reflections rejected", failed, len(reflections)),
			"See the warnings above for each rejected reflection.",
			nil,
		)
	}
	return nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// decodeReflections accepts a single JSON object or a JSON array.
func decodeReflections(data []byte) ([]*blackboard.Reflection, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("input is empty")
	}

	if data[0] == '[' {
		var list []*blackboard.Reflection
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("failed to parse reflection array: %w", err)
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("reflection array is empty")
		}
		return list, nil
	}

	var r blackboard.Reflection
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse reflection: %w", err)
	}
	return []*blackboard.Reflection{&r}, nil
}
