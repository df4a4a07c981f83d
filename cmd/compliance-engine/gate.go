// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/compliance-engine/internal/gate"
	"github.com/pdiddy/compliance-engine/internal/store"
	"github.com/pdiddy/compliance-engine/pkg/types"
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Re-run the confidence gate on a saved evaluation report",
	Long: `Gate routes an existing evaluation report to accept, human_review or
reject. The report comes from an eval_report.json file (--report) or from a
stored run (--run). Thresholds come from the config file or --thresholds and
are selected by --format.`,
	RunE: runGate,
}

func runGate(cmd *cobra.Command, args []string) error {
	reportPath, _ := cmd.Flags().GetString("report")
	runID, _ := cmd.Flags().GetString("run")
	schemaConfidence, _ := cmd.Flags().GetFloat64("schema-confidence")
	format, _ := cmd.Flags().GetString("format")
	thresholdsPath, _ := cmd.Flags().GetString("thresholds")

	if (reportPath == "") == (runID == "") {
		return fmt.Errorf("exactly one of --report or --run is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if thresholdsPath != "" {
		cfg.Gate, err = gate.LoadThresholds(thresholdsPath)
		if err != nil {
			return err
		}
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := context.Background()
	var report *types.EvalReport
	if reportPath != "" {
		report, err = readReport(reportPath)
	} else {
		report, err = storedReport(ctx, cfg.Store, runID)
	}
	if err != nil {
		return err
	}

	decision := gate.New(cfg.Gate, log).Decide(ctx, gate.Input{
		SchemaConfidence: schemaConfidence,
		DocumentFormat:   format,
		Report:           report,
	})
	return printJSON(decision)
}

func readReport(path string) (*types.EvalReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading eval report: %w", err)
	}
	var r types.EvalReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing eval report %s: %w", path, err)
	}
	return &r, nil
}

func storedReport(ctx context.Context, cfg types.StoreConfig, runID string) (*types.EvalReport, error) {
	s, err := store.NewStore(cfg)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Report(ctx, runID)
}

func init() {
	gateCmd.Flags().String("report", "", "eval_report.json to gate")
	gateCmd.Flags().String("run", "", "stored run ID to gate")
	gateCmd.Flags().Float64("schema-confidence", 1.0, "schema discovery confidence")
	gateCmd.Flags().String("format", types.DefaultThresholdsKey, "document format selecting the thresholds")
	gateCmd.Flags().String("thresholds", "", "YAML file of gate thresholds by document format")

	rootCmd.AddCommand(gateCmd)
}
