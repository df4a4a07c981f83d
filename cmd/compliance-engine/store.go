// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/compliance-engine/internal/store"
	"github.com/pdiddy/compliance-engine/pkg/types"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Query and export stored requirements (query, runs, export)",
	Long: `Store works with the local SQLite requirement store that extract --store
writes to. Use subcommands to search requirements, list runs, or export.`,
}

// --- query subcommand ---

var storeQueryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Search stored requirements with full-text search and filters",
	Long: `Query searches requirement descriptions and grounding text using FTS5,
structured filters (rule type, run, minimum confidence), or both. Results
include the source fragment of each requirement.`,
	RunE: runStoreQuery,
}

func runStoreQuery(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	results, err := s.Query(context.Background(), queryOptsFromFlags(cmd, args))
	if err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		return printJSON(results)
	}
	formatQueryOutput(results)
	return nil
}

func formatQueryOutput(results []store.QueryResult) {
	if len(results) == 0 {
		fmt.Println("No results found.")
		return
	}

	fmt.Fprintf(os.Stdout, "%-4s  %-14s  %-30s  %-50s  %-5s  %s\n",
		"Rank", "ID", "Type", "Description", "Conf", "Fragment")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 125))

	for i, r := range results {
		fmt.Fprintf(os.Stdout, "%-4d  %-14s  %-30s  %-50s  %.2f  %s\n",
			i+1, r.ID, r.RuleType, clip(r.Description, 50), r.Confidence, r.SourceChunkID)
	}

	fmt.Fprintf(os.Stdout, "\n%d results\n", len(results))
}

// --- runs subcommand ---

var storeRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		runs, err := s.Runs(context.Background())
		if err != nil {
			return err
		}
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return printJSON(runs)
		}
		if len(runs) == 0 {
			fmt.Println("No runs stored.")
			return nil
		}

		fmt.Fprintf(os.Stdout, "%-36s  %-4s  %-8s  %-5s  %-5s  %-12s  %s\n",
			"Run", "Pass", "Prompt", "Reqs", "Conf", "Decision", "Created")
		fmt.Fprintln(os.Stdout, strings.Repeat("-", 110))
		for _, r := range runs {
			fmt.Fprintf(os.Stdout, "%-36s  %-4d  %-8s  %-5d  %.2f   %-12s  %s\n",
				r.ID, r.Pass, r.PromptVersion, r.TotalRequirements, r.AvgConfidence,
				r.Decision, r.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

// --- export subcommand ---

var storeExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored requirements to YAML or JSON",
	Long: `Export writes stored requirements (or a filtered subset) to export.yaml
or export.json. It accepts the same filter flags as query.`,
	RunE: runStoreExport,
}

func runStoreExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	dir, _ := cmd.Flags().GetString("dir")

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	opts := queryOptsFromFlags(cmd, args)

	var path string
	switch format {
	case "yaml", "":
		path, err = s.ExportYAML(context.Background(), opts, dir)
	case "json":
		path, err = s.ExportJSON(context.Background(), opts, dir)
	default:
		return fmt.Errorf("unsupported format %q: use yaml or json", format)
	}
	if err != nil {
		return err
	}
	fmt.Println("Exported to", path)
	return nil
}

// --- shared helpers ---

func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.NewStore(cfg.Store)
}

func queryOptsFromFlags(cmd *cobra.Command, args []string) store.QueryOptions {
	queryText, _ := cmd.Flags().GetString("query")
	if queryText == "" && len(args) > 0 {
		queryText = strings.Join(args, " ")
	}
	ruleType, _ := cmd.Flags().GetString("type")
	runID, _ := cmd.Flags().GetString("run")
	minConf, _ := cmd.Flags().GetFloat64("min-confidence")
	limit, _ := cmd.Flags().GetInt("limit")

	return store.QueryOptions{
		Query:         queryText,
		RuleType:      types.RuleType(ruleType),
		RunID:         runID,
		MinConfidence: minConf,
		MaxResults:    limit,
	}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("query", "", "full-text search query")
	cmd.Flags().String("type", "", "filter by rule type (e.g. documentation_requirement)")
	cmd.Flags().String("run", "", "filter by run ID")
	cmd.Flags().Float64("min-confidence", 0, "minimum confidence")
	cmd.Flags().Int("limit", 0, "maximum results (0 = use default)")
}

func init() {
	addFilterFlags(storeQueryCmd)
	storeQueryCmd.Flags().Bool("json", false, "output results as JSON")

	storeRunsCmd.Flags().Bool("json", false, "output runs as JSON")

	addFilterFlags(storeExportCmd)
	storeExportCmd.Flags().String("format", "yaml", "export format: yaml or json")
	storeExportCmd.Flags().String("dir", "", "output directory (default: the store directory)")

	storeCmd.AddCommand(storeQueryCmd)
	storeCmd.AddCommand(storeRunsCmd)
	storeCmd.AddCommand(storeExportCmd)

	rootCmd.AddCommand(storeCmd)
}
