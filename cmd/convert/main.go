package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"conll-backend/internal/core"
	"conll-backend/internal/core/labels"
	"conll-backend/internal/core/split"
	"conll-backend/internal/storage"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "convert",
		Usage: "split a CoNLL corpus into train/val/test and emit token classification datasets",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "CoNLL corpus to convert", Required: true},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "directory the files are written to", Required: true},
			&cli.StringFlag{Name: "ratios", Usage: "train,val,test ratios", Value: "0.7,0.15,0.15"},
			&cli.StringFlag{Name: "labels", Usage: "existing label mapping (.json or .yaml)"},
			&cli.StringFlag{Name: "model-dir", Usage: "directory of trained models, the newest config.json seeds the label mapping"},
			&cli.BoolFlag{Name: "shuffle", Usage: "shuffle documents before splitting"},
			&cli.Int64Flag{Name: "seed", Usage: "seed used when shuffling"},
			&cli.BoolFlag{Name: "parquet", Usage: "also write parquet files", Value: true},
			&cli.IntFlag{Name: "workers", Usage: "number of files written concurrently", Value: 4},
		},
		Action: convert,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func baseMapping(c *cli.Context) (map[string]int, error) {
	if path := c.String("labels"); path != "" {
		return labels.LoadMappingFile(path)
	}

	if dir := c.String("model-dir"); dir != "" {
		configPath, err := labels.FindLatestModelConfig(dir)
		if err != nil {
			return nil, err
		}
		if configPath != "" {
			slog.Info("using label mapping of latest model", "config", configPath)
			return labels.LoadModelConfig(configPath)
		}
	}

	return nil, nil
}

func convert(c *cli.Context) error {
	ratios, err := split.ParseRatios(c.String("ratios"))
	if err != nil {
		return err
	}

	base, err := baseMapping(c)
	if err != nil {
		return fmt.Errorf("error loading label mapping: %w", err)
	}

	input, err := os.Open(c.String("input"))
	if err != nil {
		return fmt.Errorf("error opening input: %w", err)
	}
	defer input.Close()

	result, err := core.Convert(input, core.ConvertOptions{
		Ratios:      ratios,
		BaseMapping: base,
		Shuffle:     c.Bool("shuffle"),
		Seed:        c.Int64("seed"),
	})
	if err != nil {
		return err
	}

	for _, warning := range result.Warnings {
		slog.Warn("conversion warning", "warning", warning)
	}

	out, err := filepath.Abs(c.String("out"))
	if err != nil {
		return fmt.Errorf("error resolving output directory: %w", err)
	}

	provider, err := storage.NewLocalProvider(filepath.Dir(out))
	if err != nil {
		return fmt.Errorf("error creating output storage: %w", err)
	}

	artifacts := core.BuildArtifacts(result, c.Bool("parquet"))

	bar := progressbar.NewOptions(len(artifacts),
		progressbar.OptionSetDescription("writing files"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	writer := core.ArtifactWriter{
		Storage:   provider,
		Bucket:    filepath.Base(out),
		Workers:   c.Int("workers"),
		OnWritten: func(string) { _ = bar.Add(1) },
	}
	if err := writer.Write(context.Background(), "", artifacts); err != nil {
		return err
	}

	for _, subset := range result.Subsets {
		fmt.Printf("%-5s documents=%d sentences=%d unique_tags=%d\n",
			subset.Name, len(subset.Documents), subset.Stats.SentencesProcessed, subset.Stats.UniqueTags)
	}
	if len(result.NewEntities) > 0 {
		fmt.Printf("new labels: %v\n", result.NewEntities)
	}
	fmt.Printf("wrote %d files to %s\n", len(artifacts), out)

	return nil
}
