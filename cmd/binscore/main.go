// Command binscore scores executables with a static malware classifier.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cvalentine99/binscore/internal/config"
	"github.com/cvalentine99/binscore/internal/logging"
	"github.com/cvalentine99/binscore/internal/ml"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	v       = config.NewViper()
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "binscore:", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(codeError)
	}
}

// exitError carries a specific process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

var rootCmd = &cobra.Command{
	Use:   "binscore",
	Short: "Static malware scoring for executables",
	Long: `binscore derives a fixed-length feature vector from an executable
(byte histogram, byte-entropy histogram, PE header and section features),
scores it with a boosted-tree or ONNX classifier, and maps the probability
to a benign, suspicious or malicious verdict.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.FromViper(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		logging.Init(cfg.LoggingConfig())
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	pf.String("model", "", "model artifact path (default $BINSCORE_MODEL_PATH)")
	pf.String("model-format", "", "model format: lightgbm, lightgbm-json, xgboost, onnx (default from extension)")
	pf.Int("input-dimension", 0, "model input dimension when the artifact does not declare one")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")

	bindFlag("model.path", pf.Lookup("model"))
	bindFlag("model.format", pf.Lookup("model-format"))
	bindFlag("model.input_dimension", pf.Lookup("input-dimension"))
	bindFlag("log.level", pf.Lookup("log-level"))
	bindFlag("log.format", pf.Lookup("log-format"))

	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(vectorCmd)
	rootCmd.AddCommand(featuresCmd)
	rootCmd.AddCommand(modelCmd)
	rootCmd.AddCommand(versionCmd)
}

func bindFlag(key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

// modelConfig converts the model section for ml.Load.
func modelConfig(c *config.Config) *ml.ModelConfig {
	onnx := ml.DefaultONNXConfig()
	if c.Model.ONNX.LibraryPath != "" {
		onnx.SharedLibraryPath = c.Model.ONNX.LibraryPath
	}
	onnx.InputName = c.Model.ONNX.InputName
	onnx.OutputName = c.Model.ONNX.OutputName
	if c.Model.ONNX.Threads > 0 {
		onnx.NumThreads = c.Model.ONNX.Threads
	}
	if c.Model.ONNX.PoolSize > 0 {
		onnx.PoolSize = c.Model.ONNX.PoolSize
	}

	return &ml.ModelConfig{
		Path:           c.Model.Path,
		Format:         ml.Format(c.Model.Format),
		InputDimension: c.Model.InputDimension,
		ONNX:           onnx,
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the binscore version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "binscore", version)
	},
}
