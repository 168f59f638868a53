package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cvalentine99/binscore/internal/config"
	"github.com/cvalentine99/binscore/internal/events"
	"github.com/cvalentine99/binscore/internal/features"
	"github.com/cvalentine99/binscore/internal/logging"
	"github.com/cvalentine99/binscore/internal/metrics"
	"github.com/cvalentine99/binscore/internal/ml"
	"github.com/cvalentine99/binscore/internal/models"
	"github.com/cvalentine99/binscore/internal/optimization"
	"github.com/cvalentine99/binscore/internal/profiling"
	"github.com/cvalentine99/binscore/internal/scanner"
)

// Exit codes for score and vector.
const (
	codeThreat = 1
	codeError  = 2
)

// ── score ────────────────────────────────────────────────────────────────────

var (
	scoreJSON       bool
	scoreRecursive  bool
	scoreProfileDir string
)

var scoreCmd = &cobra.Command{
	Use:   "score PATH...",
	Short: "Score one or more files",
	Long: `Score one or more files and print a verdict per file.

Exit status is 0 when every file is benign, 1 when at least one file is
suspicious or malicious, and 2 when any file could not be scored.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.BoolVar(&scoreJSON, "json", false, "print one JSON object per file")
	f.BoolVarP(&scoreRecursive, "recursive", "r", false, "descend into directories")
	f.Int("workers", 0, "concurrent scans (default number of CPUs)")
	f.Int64("max-file-size", 0, "skip files larger than this many bytes (0 = unlimited)")
	f.String("metrics-file", "", "write Prometheus metrics to this textfile after the run")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	f.StringVar(&scoreProfileDir, "profile-dir", "", "write CPU and heap profiles of the run to this directory")

	bindFlag("scanner.workers", f.Lookup("workers"))
	bindFlag("scanner.max_file_size", f.Lookup("max-file-size"))
	bindFlag("metrics.file", f.Lookup("metrics-file"))
	bindFlag("metrics.addr", f.Lookup("metrics-addr"))
}

// scoreOutput is the JSON line printed per file.
type scoreOutput struct {
	Path   string              `json:"path"`
	Result *models.ScoreResult `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

func runScore(cmd *cobra.Command, args []string) error {
	paths, err := expandPaths(args, scoreRecursive)
	if err != nil {
		return err
	}

	reg := metrics.New(true)
	rec := events.NewRecorder(cfg.Scanner.HistorySize)
	sc, clf, err := newScanner(reg, rec)
	if err != nil {
		return err
	}
	defer clf.Close()

	if scoreProfileDir != "" {
		prof, err := profiling.New(&profiling.Config{
			OutputDir:   scoreProfileDir,
			ProfileName: "binscore",
			CPUProfile:  true,
			MemProfile:  true,
		})
		if err != nil {
			return err
		}
		if err := prof.Start(); err != nil {
			return err
		}
		defer func() {
			if err := prof.Stop(); err != nil {
				logging.Warn("failed to write profiles", logging.Err(err))
			}
		}()
	}

	if cfg.Metrics.Addr != "" {
		srv, err := reg.Serve(cfg.Metrics.Addr)
		if err != nil {
			return err
		}
		logging.Info("serving metrics", "addr", srv.Addr())
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logging.Warn("metrics server shutdown failed", logging.Err(err))
			}
		}()
	}
	logging.LogRuntimeInfo()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := sc.ScanPaths(ctx, paths)

	out := cmd.OutOrStdout()
	if scoreJSON {
		err = printJSONResults(out, results)
	} else {
		err = printTable(out, results)
	}
	if err != nil {
		return err
	}

	if cfg.Metrics.File != "" {
		if err := reg.WriteTextfile(cfg.Metrics.File); err != nil {
			return err
		}
	}

	logger := logging.ScannerLogger()
	logger.Info("run complete",
		logging.Count("files", int64(len(results))),
		logging.Count("threats", int64(countThreats(results))),
		logging.Count("events", int64(rec.Total())),
		"chunk_pool_hit_rate", optimization.ChunkPool.HitRate(),
	)
	for _, ev := range rec.Recent(0) {
		if ev.Type == events.EventScanCompleted && ev.Verdict.IsThreat() {
			logger.Debug("recent detection", "path", ev.Path, "verdict", string(ev.Verdict), "severity", ev.Severity)
		}
	}

	return exitStatus(results)
}

func newScanner(reg *metrics.Metrics, rec *events.Recorder) (*scanner.Scanner, *ml.Classifier, error) {
	clf, err := ml.Shared(modelConfig(cfg))
	if err != nil {
		return nil, nil, err
	}
	pol, err := cfg.PolicyValue()
	if err != nil {
		return nil, nil, err
	}

	opts := []scanner.Option{
		scanner.WithPolicy(pol),
		scanner.WithExtractor(features.NewExtractor(cfg.ExtractorConfig())),
	}
	if reg != nil {
		opts = append(opts, scanner.WithMetrics(reg))
	}
	if rec != nil {
		opts = append(opts, scanner.WithRecorder(rec))
	}

	sc, err := scanner.New(clf, &scanner.Config{
		Workers:     cfg.Scanner.Workers,
		MaxFileSize: cfg.Scanner.MaxFileSize,
	}, opts...)
	if err != nil {
		clf.Close()
		return nil, nil, err
	}
	return sc, clf, nil
}

// expandPaths returns args with directories replaced by the regular files beneath them.
func expandPaths(args []string, recursive bool) ([]string, error) {
	var paths []string
	for _, arg := range args {
		fi, err := os.Stat(arg)
		if err != nil || !fi.IsDir() || !recursive {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				logging.Warn("skipping unreadable path", "path", path, logging.Err(err))
				return nil
			}
			if d.Type().IsRegular() {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", arg, err)
		}
	}
	return paths, nil
}

func printJSONResults(w io.Writer, results []scanner.PathResult) error {
	enc := json.NewEncoder(w)
	for _, r := range results {
		line := scoreOutput{Path: r.Path, Result: r.Result}
		if r.Err != nil {
			line.Error = r.Err.Error()
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}

func printTable(w io.Writer, results []scanner.PathResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tVERDICT\tPROBABILITY\tNOTE")
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(tw, "%s\terror\t-\t%v\n", r.Path, r.Err)
			continue
		}
		note := r.Result.Format
		if r.Result.Partial {
			note = "unparsed: " + r.Result.ParseError
		}
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%s\n", r.Path, r.Result.Verdict, r.Result.Probability, note)
	}
	return tw.Flush()
}

func countThreats(results []scanner.PathResult) int {
	var n int
	for _, r := range results {
		if r.Result != nil && r.Result.Verdict.IsThreat() {
			n++
		}
	}
	return n
}

func exitStatus(results []scanner.PathResult) error {
	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return &exitError{code: codeError, err: fmt.Errorf("%d of %d files could not be scored", failed, len(results))}
	}

	threats := countThreats(results)
	if threats > 0 {
		return &exitError{code: codeThreat, err: fmt.Errorf("%d threats detected", threats)}
	}
	return nil
}

// ── vector ───────────────────────────────────────────────────────────────────

var vectorCmd = &cobra.Command{
	Use:   "vector FILE|-",
	Short: "Score a precomputed feature vector",
	Long: `Score a JSON array of numbers read from FILE, or from stdin when FILE is "-".
The array length must equal the model's input dimension.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vec, err := readVector(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}

		sc, clf, err := newScanner(nil, nil)
		if err != nil {
			return err
		}
		defer clf.Close()

		res, err := sc.ScoreVector(cmd.Context(), vec)
		if err != nil {
			return &exitError{code: codeError, err: err}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		if res.Verdict.IsThreat() {
			return &exitError{code: codeThreat, err: errors.New(res.Summary())}
		}
		return nil
	},
}

func readVector(stdin io.Reader, name string) ([]float64, error) {
	r := stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var vec []float64
	if err := json.NewDecoder(r).Decode(&vec); err != nil {
		return nil, fmt.Errorf("decode vector: %w", err)
	}
	return vec, nil
}

// ── features ─────────────────────────────────────────────────────────────────

var featuresDim int

var featuresCmd = &cobra.Command{
	Use:   "features PATH",
	Short: "Print the feature vector extracted from a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dim := featuresDim
		if dim == 0 {
			dim = cfg.Model.InputDimension
		}
		dump, err := extractFeatures(args[0], cfg.ExtractorConfig(), dim)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(dump)
	},
}

func init() {
	featuresCmd.Flags().IntVar(&featuresDim, "dimension", 0, "pad the vector to this length (default model.input_dimension or 2381)")
}

// featureDump is the JSON printed by the features command.
type featureDump struct {
	Path       string          `json:"path"`
	BLAKE3     string          `json:"blake3"`
	SHA256     string          `json:"sha256"`
	Size       int64           `json:"size"`
	MIMEType   string          `json:"mime_type,omitempty"`
	Category   string          `json:"category"`
	Format     string          `json:"format,omitempty"`
	ParseError string          `json:"parse_error,omitempty"`
	Layout     string          `json:"layout"`
	Vector     features.Vector `json:"vector"`
}

func extractFeatures(path string, fc *features.Config, dim int) (*featureDump, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &scanner.IOError{Path: path, Op: "open", Err: err}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, &scanner.IOError{Path: path, Op: "stat", Err: err}
	}
	if !fi.Mode().IsRegular() {
		return nil, &scanner.IOError{Path: path, Op: "stat", Err: scanner.ErrNotRegular}
	}

	x, err := features.NewExtractor(fc).Extract(f, fi.Size())
	if err != nil {
		return nil, &scanner.IOError{Path: path, Op: "read", Err: err}
	}
	vec, err := x.Vector(dim)
	if err != nil {
		return nil, err
	}

	dump := &featureDump{
		Path:     path,
		BLAKE3:   x.Digest.BLAKE3,
		SHA256:   x.Digest.SHA256,
		Size:     x.Digest.Size,
		MIMEType: x.ContentType.MIME,
		Category: x.ContentType.Category,
		Format:   x.Format(),
		Layout:   features.LayoutVersion,
		Vector:   vec,
	}
	if x.Partial() {
		dump.ParseError = x.ParseErr.Error()
	}
	return dump, nil
}

// ── model ────────────────────────────────────────────────────────────────────

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Load the configured model and print its metadata",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		clf, err := ml.Load(modelConfig(cfg))
		if err != nil {
			return err
		}
		defer clf.Close()
		return printJSON(cmd.OutOrStdout(), clf.Info())
	},
}

var modelSaveCmd = &cobra.Command{
	Use:   "save NAME",
	Short: "Load the configured model and record its manifest under NAME",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := ml.NewModelStore(config.Paths.ModelStoreDir)
		if err != nil {
			return err
		}
		clf, err := ml.Load(modelConfig(cfg))
		if err != nil {
			return err
		}
		defer clf.Close()

		info := clf.Info()
		info.Name = args[0]
		if err := store.Save(args[0], info); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), info)
	},
}

var modelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded model manifests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := ml.NewModelStore(config.Paths.ModelStoreDir)
		if err != nil {
			return err
		}
		names, err := store.List()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tFORMAT\tDIMENSION\tBLAKE3\tPATH")
		for _, name := range names {
			info, err := store.Load(name)
			if err != nil {
				logging.Warn("unreadable manifest", "name", name, logging.Err(err))
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%.16s\t%s\n", name, info.Format, info.Dimension, info.Digest, info.Path)
		}
		return tw.Flush()
	},
}

var modelVerifyCmd = &cobra.Command{
	Use:   "verify NAME",
	Short: "Check that a recorded model artifact is unchanged",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := ml.NewModelStore(config.Paths.ModelStoreDir)
		if err != nil {
			return err
		}
		info, err := store.Verify(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s OK\n", args[0], info.Path)
		return nil
	},
}

func init() {
	modelCmd.AddCommand(modelSaveCmd)
	modelCmd.AddCommand(modelListCmd)
	modelCmd.AddCommand(modelVerifyCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
