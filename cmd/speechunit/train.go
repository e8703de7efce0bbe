package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	trainK       int
	trainMaxIter int
	trainSaveDir string
	trainSave    bool
	trainLoad    bool
	trainDevices int
	trainSeed    int64
	trainStart   string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a k-means codebook",
	Long: `Train a k-means codebook over the frame embeddings of every file under
data.pathDB. Flags override the kmeans section of the configuration.

Examples:
  speechunit train -c train.yaml
  speechunit train -c train.yaml --k 500 --save-dir ckpt --save --load`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().IntVar(&trainK, "k", 0, "Number of clusters")
	trainCmd.Flags().IntVar(&trainMaxIter, "max-iter", 0, "Maximum number of iterations")
	trainCmd.Flags().StringVar(&trainSaveDir, "save-dir", "", "Checkpoint directory")
	trainCmd.Flags().BoolVar(&trainSave, "save", false, "Write a checkpoint after every iteration")
	trainCmd.Flags().BoolVar(&trainLoad, "load", false, "Resume from the last checkpoint")
	trainCmd.Flags().IntVar(&trainDevices, "devices", 0, "Shards per batch")
	trainCmd.Flags().Int64Var(&trainSeed, "seed", 0, "Initialization seed")
	trainCmd.Flags().StringVar(&trainStart, "start-codebook", "", "Checkpoint whose centroids seed training")
}

func runTrain(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("k") {
		cfg.KMeans.K = trainK
	}
	if flags.Changed("max-iter") {
		cfg.KMeans.MaxIter = trainMaxIter
	}
	if flags.Changed("save-dir") {
		cfg.KMeans.SaveDir = trainSaveDir
	}
	if flags.Changed("save") {
		cfg.KMeans.Save = trainSave
	}
	if flags.Changed("load") {
		cfg.KMeans.Load = trainLoad
	}
	if flags.Changed("devices") {
		cfg.KMeans.Devices = trainDevices
	}
	if flags.Changed("seed") {
		cfg.KMeans.Seed = trainSeed
	}
	if flags.Changed("start-codebook") {
		cfg.KMeans.StartCodebook = trainStart
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
	logger.InfoContext(ctx, "discovered audio files", "count", len(files), "roots", cfg.Data.PathDB)

	res, err := p.Train(ctx, files)
	if err != nil {
		logger.ErrorContext(ctx, "training failed", "error", err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "trained %d centroids of dimension %d in %d iterations (last diff %g)\n",
		res.Codebook.K(), res.Codebook.Dim(), res.Iterations, res.LastDiff)
	return nil
}
