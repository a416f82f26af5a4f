package cmd

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/applens/api/schemas"
	"github.com/xkilldash9x/applens/internal/config"
	"github.com/xkilldash9x/applens/internal/observability"
	"github.com/xkilldash9x/applens/internal/service"
)

// newImpactCmd creates the `impact` command group: blast-radius, fan-out and
// domino queries over a previously built graph.
func newImpactCmd() *cobra.Command {
	impactCmd := &cobra.Command{
		Use:   "impact",
		Short: "Impact queries over a dependency graph",
	}
	impactCmd.PersistentFlags().StringP("graph", "g", "", "Graph JSON file produced by `applens scan --output`")
	impactCmd.PersistentFlags().String("scan-id", "", "Load the graph of this scan from the database instead")
	impactCmd.PersistentFlags().StringSlice("repos", nil, "Load the newest stored graph covering these owner/repo names")
	impactCmd.PersistentFlags().Bool("json", false, "Emit the result as JSON")

	impactCmd.AddCommand(newBlastRadiusCmd())
	impactCmd.AddCommand(newFanOutCmd())
	impactCmd.AddCommand(newDominoCmd())
	return impactCmd
}

// impactQuery loads the graph and runs one query through the façade.
func impactQuery(cmd *cobra.Command, run func(*service.App, *schemas.Graph) (*service.Impact, error)) (*service.Impact, error) {
	ctx := cmd.Context()
	logger := observability.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	app, cleanup, err := newApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	graphFile, _ := cmd.Flags().GetString("graph")
	scanID, _ := cmd.Flags().GetString("scan-id")
	repos, _ := cmd.Flags().GetStringSlice("repos")

	var g *schemas.Graph
	switch {
	case graphFile != "":
		g, err = readGraphFile(graphFile)
	case scanID != "":
		g, err = app.GetGraph(ctx, scanID)
	case len(repos) > 0:
		g, err = app.GetGraphForRepos(ctx, repos)
	default:
		return nil, errors.New("one of --graph, --scan-id or --repos is required")
	}
	if err != nil {
		return nil, err
	}
	return run(app, g)
}

func emitImpact(cmd *cobra.Command, impact *service.Impact) error {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		data, err := json.MarshalIndent(impact, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("Service: %s\n", impact.Service)
	if impact.Hops != nil {
		names := make([]string, 0, len(impact.Hops))
		for name := range impact.Hops {
			names = append(names, name)
		}
		sort.Slice(names, func(a, b int) bool {
			if impact.Hops[names[a]] != impact.Hops[names[b]] {
				return impact.Hops[names[a]] < impact.Hops[names[b]]
			}
			return names[a] < names[b]
		})
		for _, name := range names {
			cmd.Printf("  %d hop(s): %s\n", impact.Hops[name], name)
		}
	}
	printNameList(cmd, "affected", impact.Affected)
	printNameList(cmd, "direct", impact.Direct)
	printNameList(cmd, "cascading", impact.Cascading)
	return nil
}

func printNameList(cmd *cobra.Command, label string, names []string) {
	if names == nil {
		return
	}
	if len(names) == 0 {
		cmd.Printf("  %s: none\n", label)
		return
	}
	for _, name := range names {
		cmd.Printf("  %s: %s\n", label, name)
	}
}

func newBlastRadiusCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "blast-radius <service>",
		Short: "Everything within N hops of a service, ignoring edge direction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hops, _ := cmd.Flags().GetInt("hops")
			impact, err := impactQuery(cmd, func(app *service.App, g *schemas.Graph) (*service.Impact, error) {
				return app.BlastRadius(cmd.Context(), g, args[0], hops)
			})
			if err != nil {
				return err
			}
			return emitImpact(cmd, impact)
		},
	}
	c.Flags().Int("hops", 2, "Maximum number of hops")
	return c
}

func newFanOutCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "fan-out <service>",
		Short: "Services a service depends on, following outgoing edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hops, _ := cmd.Flags().GetInt("hops")
			impact, err := impactQuery(cmd, func(app *service.App, g *schemas.Graph) (*service.Impact, error) {
				return app.FanOut(cmd.Context(), g, args[0], hops)
			})
			if err != nil {
				return err
			}
			return emitImpact(cmd, impact)
		},
	}
	c.Flags().Int("hops", 2, "Maximum number of hops")
	return c
}

func newDominoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "domino <service>",
		Short: "Who breaks when a service starts failing",
		Long:  "Traces error propagation: HTTP failures travel from callee to caller, Kafka failures from producer to consumer, at every hop of the cascade.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			impact, err := impactQuery(cmd, func(app *service.App, g *schemas.Graph) (*service.Impact, error) {
				return app.ErrorPropagation(cmd.Context(), g, args[0])
			})
			if err != nil {
				return err
			}
			if err := emitImpact(cmd, impact); err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); !asJSON && len(impact.Direct) == 0 && len(impact.Cascading) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No downstream consumers or upstream callers are affected.")
			}
			return nil
		},
	}
}
