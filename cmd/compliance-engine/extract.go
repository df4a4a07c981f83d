// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/compliance-engine/internal/cache"
	"github.com/pdiddy/compliance-engine/internal/extract"
	"github.com/pdiddy/compliance-engine/internal/fragments"
	"github.com/pdiddy/compliance-engine/internal/logging"
	"github.com/pdiddy/compliance-engine/internal/metrics"
	"github.com/pdiddy/compliance-engine/internal/pipeline"
	"github.com/pdiddy/compliance-engine/internal/store"
	"github.com/pdiddy/compliance-engine/pkg/types"
)

// Output file names written by extract.
const (
	requirementsFile = "requirements.json"
	metadataFile     = "metadata.json"
	evalReportFile   = "eval_report.json"
	gateDecisionFile = "gate_decision.json"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract requirements from document fragments",
	Long: `Extract reads pre-chunked fragments (JSON, YAML or HTML) and a schema map,
runs one extraction pass, and writes requirements.json, metadata.json,
eval_report.json and gate_decision.json into the output directory.

Use --pass 2 for the retry pass: it uses the stricter prompt, a higher
temperature and a higher acceptance threshold. With --store the run is
saved to the SQLite requirement store.`,
	RunE: runExtract,
}

func runExtract(cmd *cobra.Command, args []string) error {
	fragmentsPath, _ := cmd.Flags().GetString("fragments")
	schemaPath, _ := cmd.Flags().GetString("schema-map")
	pass, _ := cmd.Flags().GetInt("pass")
	outDir, _ := cmd.Flags().GetString("out")
	save, _ := cmd.Flags().GetBool("store")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	if pass != 1 && pass != 2 {
		return fmt.Errorf("invalid --pass %d: use 1 or 2", pass)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Extraction.APIKey, err = apiKey(cfg.Extraction.AIConfig)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	frags, err := fragments.Load(fragmentsPath)
	if err != nil {
		return err
	}
	var sm *types.SchemaMap
	if schemaPath != "" {
		sm, err = cache.NewSchemaMaps(cache.New(cfg.Cache.Dir, cfg.Cache.TTL)).Load(schemaPath)
		if err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if metricsAddr != "" {
		srv := serveMetrics(ctx, log, reg, metricsAddr)
		defer srv.Close()
	}

	ext, err := extract.NewExtractor(cfg.Extraction.AIConfig, log, func(int, error) { m.RecordRetry() })
	if err != nil {
		return err
	}

	res, err := pipeline.New(cfg, ext, log, m).Run(ctx, pipeline.RunInput{
		Fragments: frags,
		SchemaMap: sm,
		Pass:      pass,
	})
	if err != nil {
		return err
	}

	if err := writeResult(outDir, res); err != nil {
		return err
	}
	if save {
		if err := saveRun(ctx, cfg.Store, res); err != nil {
			return err
		}
	}

	decision := "none"
	if res.Decision != nil {
		decision = string(res.Decision.Decision)
	}
	fmt.Fprintf(os.Stdout, "Run %s: %d requirements, %d skipped fragments, decision %s\n",
		res.Metadata.RunID, res.Metadata.TotalRequirements, len(res.Metadata.Skipped), decision)
	return nil
}

// outputFile is one result file written by extract.
type outputFile struct {
	name string
	v    any
}

func writeResult(dir string, res pipeline.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	files := []outputFile{
		{requirementsFile, res.Requirements},
		{metadataFile, res.Metadata},
	}
	if res.Report != nil {
		files = append(files, outputFile{evalReportFile, res.Report})
	}
	if res.Decision != nil {
		files = append(files, outputFile{gateDecisionFile, res.Decision})
	}
	for _, f := range files {
		path, err := writeJSON(dir, f.name, f.v)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Wrote", path)
	}
	return nil
}

func saveRun(ctx context.Context, cfg types.StoreConfig, res pipeline.Result) error {
	s, err := store.NewStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	return s.SaveRun(ctx, store.Run{
		Metadata:     res.Metadata,
		Requirements: res.Requirements,
		Report:       res.Report,
		Decision:     res.Decision,
		CreatedAt:    time.Now().UTC(),
	})
}

// serveMetrics exposes reg on addr/metrics until ctx is done.
func serveMetrics(ctx context.Context, log *logging.Logger, reg *prometheus.Registry, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "metrics_server_failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	log.Info(ctx, "metrics_server_started", zap.String("addr", addr))
	return srv
}

func init() {
	extractCmd.Flags().String("fragments", "", "fragment file (.json, .yaml or .html)")
	extractCmd.Flags().String("schema-map", "", "schema map file (.json or .yaml)")
	extractCmd.Flags().Int("pass", 1, "extraction pass: 1, or 2 for the retry pass")
	extractCmd.Flags().String("provider", "", "extractor provider: anthropic or openai")
	extractCmd.Flags().String("model", "", "AI model identifier for extraction")
	extractCmd.Flags().String("out", "output", "directory for result files")
	extractCmd.Flags().Bool("store", false, "save the run to the requirement store")
	extractCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	_ = extractCmd.MarkFlagRequired("fragments")

	bindFlag(extractCmd.Flags().Lookup("provider"), "extraction.provider")
	bindFlag(extractCmd.Flags().Lookup("model"), "extraction.model")

	rootCmd.AddCommand(extractCmd)
}
