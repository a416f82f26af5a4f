package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/applens/api/schemas"
	"github.com/xkilldash9x/applens/internal/graph"
	"github.com/xkilldash9x/applens/internal/loganalysis"
	"github.com/xkilldash9x/applens/internal/observability"
)

// newLogScanCmd creates the `logscan` command: anchor an error log to the
// graph and trace propagation from every service it mentions.
func newLogScanCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "logscan [logfile]",
		Short: "Matches error log text against the graph and traces propagation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			graphFile, _ := cmd.Flags().GetString("graph")
			if graphFile == "" {
				return fmt.Errorf("--graph is required")
			}
			g, err := readGraphFile(graphFile)
			if err != nil {
				return err
			}

			text, err := readLogInput(args)
			if err != nil {
				return err
			}

			analyzer := loganalysis.New(g, logger)
			report := analyzer.Analyze(text)
			if len(report.Services) == 0 && len(report.Topics) == 0 {
				cmd.Println("No known services or topics mentioned in the log text.")
				return nil
			}

			impact := graph.NewAnalyzer(g)
			for _, svc := range report.Services {
				direct, cascading, err := impact.ErrorPropagation(svc.ID)
				if err != nil {
					return err
				}
				cmd.Printf("Failing service: %s\n", svc.Name)
				printIDList(cmd, g, "direct", direct)
				printIDList(cmd, g, "cascading", cascading)
			}
			for _, topic := range report.Topics {
				producers, consumers := analyzer.TopicEndpoints(topic)
				cmd.Printf("Topic: %s\n", topic)
				for _, p := range producers {
					cmd.Printf("  producer: %s\n", p.Name)
				}
				for _, co := range consumers {
					cmd.Printf("  consumer: %s\n", co.Name)
				}
			}
			if len(report.Unmatched) > 0 {
				cmd.Printf("Unmatched mentions: %v\n", report.Unmatched)
			}
			return nil
		},
	}
	c.Flags().StringP("graph", "g", "", "Graph JSON file produced by `applens scan --output`")
	return c
}

func readLogInput(args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read log text from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("failed to read log file: %w", err)
	}
	return string(data), nil
}

func printIDList(cmd *cobra.Command, g *schemas.Graph, label string, ids []string) {
	if len(ids) == 0 {
		cmd.Printf("  %s: none\n", label)
		return
	}
	for _, id := range ids {
		if n, ok := g.Node(id); ok {
			cmd.Printf("  %s: %s\n", label, n.Name)
		}
	}
}
