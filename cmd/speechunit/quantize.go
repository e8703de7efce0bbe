package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/speechunit"
)

var (
	quantizeSplit   string
	quantizeResume  bool
	quantizeDebug   bool
	quantizeWorkers int
	quantizeBackend string
	quantizeSeq     string
	quantizeDB      []string
)

var quantizeCmd = &cobra.Command{
	Use:   "quantize <checkpoint> <output_dir>",
	Short: "Quantize audio files with a trained codebook",
	Long: `Map every selected audio file to a sequence of unit IDs with the codebook
stored in <checkpoint> and append the results to a file in <output_dir>.

Examples:
  speechunit quantize -c train.yaml ckpt/checkpoint_last.bin units/
  speechunit quantize -c train.yaml --split 1-4 --resume ckpt/checkpoint_last.bin units/
  speechunit quantize --db /corpus/test --seq test.txt --debug ckpt/checkpoint_12.bin units/`,
	Args: cobra.ExactArgs(2),
	RunE: runQuantize,
}

func init() {
	rootCmd.AddCommand(quantizeCmd)

	quantizeCmd.Flags().StringVar(&quantizeSplit, "split", "", "Quantize part idx of num (idx-num)")
	quantizeCmd.Flags().BoolVar(&quantizeResume, "resume", false, "Skip files already present in the output")
	quantizeCmd.Flags().BoolVar(&quantizeDebug, "debug", false, "Only quantize the first files of the selection")
	quantizeCmd.Flags().IntVar(&quantizeWorkers, "workers", 0, "Parallel extraction workers")
	quantizeCmd.Flags().StringVar(&quantizeBackend, "backend", "", "Assignment backend (auto, host, accelerated)")
	quantizeCmd.Flags().StringVar(&quantizeSeq, "seq", "", "File listing the sequences to quantize")
	quantizeCmd.Flags().StringSliceVar(&quantizeDB, "db", nil, "Audio roots, overriding data.pathDB")
}

func runQuantize(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("split") {
		cfg.Data.Split = quantizeSplit
	}
	if flags.Changed("resume") {
		cfg.Runner.Resume = quantizeResume
	}
	if flags.Changed("debug") {
		cfg.Runner.Debug = quantizeDebug
	}
	if flags.Changed("workers") {
		cfg.Runner.Workers = quantizeWorkers
	}
	if flags.Changed("backend") {
		cfg.Runner.Backend = quantizeBackend
	}
	if flags.Changed("seq") {
		cfg.Data.PathSeq = quantizeSeq
	}
	if flags.Changed("db") {
		cfg.Data.PathDB = quantizeDB
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	p, logger, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	files, err := p.Files()
	if err != nil {
		return err
	}

	res, err := p.Quantize(ctx, args[0], args[1], files)
	if errors.Is(err, speechunit.ErrNoFiles) {
		logger.InfoContext(ctx, "nothing left to quantize", "files", len(files))
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d of %d files to %s (%d skipped, %d failed) in %s\n",
		res.Written, res.Selected, res.Output, res.Skipped, len(res.FailedIDs), res.Duration.Round(time.Millisecond))
	return nil
}
