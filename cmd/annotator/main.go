package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"dialogue-annotator/internal/annotate"
	"dialogue-annotator/internal/auth"
	"dialogue-annotator/internal/corpus"
	"dialogue-annotator/internal/integrations/azureopenai"
	"dialogue-annotator/internal/integrations/paramstore"
	"dialogue-annotator/internal/manifest"
	"dialogue-annotator/internal/output"
	"dialogue-annotator/internal/plan"
)

const logFileName = "annotation.log"

type options struct {
	dataDir       string
	outputDir     string
	mode          string
	overwrite     bool
	minTurns      int
	maxAnnotated  int
	dryRun        bool
	pattern       string
	contentColumn string
	metadataCSV   string
	dataset       string
	pidFile       string

	endpoint   string
	deployment string
	apiVersion string

	apiKeyEnv   string
	apiKeyParam string
	tokenFile   string
	tokenURL    string
	tokenScope  string

	timeoutSec     int
	gateTimeoutSec int
	maxRetries     int
}

func main() {
	// Optional local overrides; absence of a .env file is not an error.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("run failed", "err", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "annotator",
		Short: "Resumable batch annotation of two-party dialogue transcripts",
		Long: "annotator ingests delimited dialogue transcripts, classifies each dialogue and turn\n" +
			"through an external classification service, and writes one JSON record per dialogue.\n" +
			"Runs are safely interruptible: an append-only manifest ledger and atomic output writes\n" +
			"let a restarted run pick up exactly where the previous one stopped.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.dataDir, "data-dir", "", "directory holding one delimited transcript file per dialogue (required)")
	f.StringVar(&opts.outputDir, "output-dir", "annotation_results", "directory for the manifest ledger and finished records")
	f.StringVar(&opts.mode, "mode", string(plan.ModeNew), "run mode: new, rerun-skipped or rerun-failed")
	f.BoolVar(&opts.overwrite, "overwrite-existing", false, "under mode=new, reprocess items that already have output")
	f.IntVar(&opts.minTurns, "min-turns", 4, "skip dialogues with fewer normalized turns than this")
	f.IntVar(&opts.maxAnnotated, "max-annotated", 0, "stop once this many outputs exist, counting pre-existing ones (0 = unlimited)")
	f.BoolVar(&opts.dryRun, "dry-run", false, "record eligible candidates without calling the classification service")
	f.StringVar(&opts.pattern, "pattern", "*.tsv", "glob matched against filenames inside data-dir")
	f.StringVar(&opts.contentColumn, "content-column", "text", "column holding the utterance text")
	f.StringVar(&opts.metadataCSV, "metadata-csv", "", "optional sidecar CSV mapping filename to metadata columns")
	f.StringVar(&opts.dataset, "dataset", "corpus", "dataset label recorded in output records")
	f.StringVar(&opts.pidFile, "pid-file", "", "where to write the worker PID (default <output-dir>/run.pid)")

	f.StringVar(&opts.endpoint, "endpoint", "", "classification service endpoint (required unless dry-run)")
	f.StringVar(&opts.deployment, "deployment", "", "model deployment name (required unless dry-run)")
	f.StringVar(&opts.apiVersion, "api-version", "2024-10-21", "service API version")

	f.StringVar(&opts.apiKeyEnv, "api-key-env", "ANNOTATOR_API_KEY", "environment variable holding a static API key")
	f.StringVar(&opts.apiKeyParam, "api-key-param", "", "SSM parameter holding the API key (tried after the env key)")
	f.StringVar(&opts.tokenFile, "token-file", "", "web-identity token file for federated auth (tried last)")
	f.StringVar(&opts.tokenURL, "token-url", "", "token exchange endpoint for federated auth")
	f.StringVar(&opts.tokenScope, "token-scope", "", "scope requested during federated token exchange")

	f.IntVar(&opts.timeoutSec, "timeout", 60, "per-call timeout in seconds for substantive classification")
	f.IntVar(&opts.gateTimeoutSec, "gate-timeout", 30, "per-call timeout in seconds for the language gate")
	f.IntVar(&opts.maxRetries, "max-retries", 6, "retry bound for transient classification errors")

	cobra.CheckErr(cmd.MarkFlagRequired("data-dir"))
	return cmd
}

func run(ctx context.Context, opts options) error {
	mode, err := plan.ParseMode(opts.mode)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	logger, closeLog, err := newLogger(opts.outputDir)
	if err != nil {
		return err
	}
	defer closeLog()

	runID := uuid.NewString()
	logger.Info("starting annotation run",
		"run_id", runID,
		"data_dir", opts.dataDir,
		"output_dir", opts.outputDir,
		"mode", mode,
		"overwrite_existing", opts.overwrite,
		"dry_run", opts.dryRun,
		"min_turns", opts.minTurns,
		"max_annotated", opts.maxAnnotated,
		"prompt_version", annotate.PromptVersion,
		"endpoint", opts.endpoint,
		"deployment", opts.deployment,
		"api_version", opts.apiVersion)

	writePIDFile(opts, logger)

	reader, err := corpus.NewReader(corpus.Config{
		DataDir:       opts.dataDir,
		Pattern:       opts.pattern,
		ContentColumn: opts.contentColumn,
		MetadataPath:  opts.metadataCSV,
		Dataset:       opts.dataset,
	})
	if err != nil {
		return err
	}
	ledger, err := manifest.Open(opts.outputDir)
	if err != nil {
		return err
	}
	writer, err := output.NewWriter(opts.outputDir)
	if err != nil {
		return err
	}

	var classifier annotate.Classifier
	if !opts.dryRun {
		classifier, err = newClassifier(ctx, opts, logger)
		if err != nil {
			return err
		}
	}

	engine, err := annotate.NewEngine(reader, ledger, writer, classifier, annotate.RunConfig{
		Mode:         mode,
		Overwrite:    opts.overwrite,
		MinTurns:     opts.minTurns,
		MaxAnnotated: opts.maxAnnotated,
		DryRun:       opts.dryRun,
		Model:        opts.deployment,
		APIVersion:   opts.apiVersion,
		RunID:        runID,
		Timeout:      time.Duration(opts.timeoutSec) * time.Second,
		GateTimeout:  time.Duration(opts.gateTimeoutSec) * time.Second,
	}, logger)
	if err != nil {
		return err
	}

	sum, err := engine.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("done",
		"considered", sum.Considered,
		"newly_processed", sum.NewlyProcessed,
		"total_processed", sum.TotalProcessed)
	return nil
}

// newClassifier resolves the credential chain (env key, Parameter Store key,
// federated token — in that order) and builds the resilient client.
func newClassifier(ctx context.Context, opts options, logger *slog.Logger) (annotate.Classifier, error) {
	var providers []auth.Provider

	if key := os.Getenv(opts.apiKeyEnv); key != "" {
		providers = append(providers, auth.NewStaticKey(key))
	}
	if opts.apiKeyParam != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, err
		}
		p, err := auth.NewStaticKeyFromParameterStore(ps, opts.apiKeyParam)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if opts.tokenFile != "" && opts.tokenURL != "" {
		fed, err := auth.NewFederatedToken(opts.tokenFile, opts.tokenURL, opts.tokenScope)
		if err != nil {
			return nil, err
		}
		providers = append(providers, fed)
	}

	provider, err := auth.Resolve(ctx, providers...)
	if err != nil {
		return nil, err
	}
	logger.Info("credential provider resolved", "provider", provider.Name())

	return azureopenai.NewClient(opts.endpoint, opts.deployment, opts.apiVersion, provider,
		azureopenai.WithMaxRetries(opts.maxRetries),
		azureopenai.WithLogger(logger))
}

// newLogger logs to stderr and mirrors to <output-dir>/annotation.log so a
// long batch run leaves an inspectable trail next to its results.
func newLogger(outputDir string) (*slog.Logger, func(), error) {
	logPath := filepath.Join(outputDir, logFileName)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(io.MultiWriter(os.Stderr, f), nil))
	slog.SetDefault(logger)
	return logger, func() { _ = f.Close() }, nil
}

// writePIDFile is best-effort; monitoring tooling reads it, the engine never
// does.
func writePIDFile(opts options, logger *slog.Logger) {
	path := opts.pidFile
	if path == "" {
		path = filepath.Join(opts.outputDir, "run.pid")
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		logger.Warn("could not write pid file", "path", path, "err", err)
	}
}
