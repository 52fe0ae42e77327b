package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"

	"conll-backend/internal/core/conll"
	"conll-backend/internal/core/dataset"
	"conll-backend/internal/core/labels"
	"conll-backend/internal/core/utils"
	"conll-backend/internal/storage"
)

const (
	ConllDir         = "conll_files"
	ClassMappingFile = "class_mapping.py"
	LabelMappingFile = "label_mapping.json"
	StatsFile        = "stats.json"
)

// Artifact is one output file of a conversion. Name is relative to the output
// directory.
type Artifact struct {
	Name  string
	Split string

	render func(w io.Writer) error
}

func (a Artifact) Render(w io.Writer) error {
	return a.render(w)
}

func ConllFileName(split string) string {
	return path.Join(ConllDir, split+".conll")
}

func JSONFileName(split string) string {
	return split + ".json"
}

func ParquetFileName(split string) string {
	return split + ".parquet"
}

type labelMappingFile struct {
	Id2Label map[string]string `json:"id2label"`
	Label2Id map[string]int    `json:"label2id"`
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// BuildArtifacts lists the files of a conversion. Subsets without documents
// get no files, the mapping and the stats of all three subsets are always
// written.
func BuildArtifacts(result *ConversionResult, withParquet bool) []Artifact {
	var artifacts []Artifact

	for _, subset := range result.Subsets {
		if len(subset.Documents) == 0 {
			continue
		}

		artifacts = append(artifacts,
			Artifact{
				Name:   ConllFileName(subset.Name),
				Split:  subset.Name,
				render: func(w io.Writer) error { return conll.Format(w, subset.Documents) },
			},
			Artifact{
				Name:   JSONFileName(subset.Name),
				Split:  subset.Name,
				render: func(w io.Writer) error { return dataset.WriteJSONL(w, subset.Records) },
			},
		)

		if withParquet {
			artifacts = append(artifacts, Artifact{
				Name:   ParquetFileName(subset.Name),
				Split:  subset.Name,
				render: func(w io.Writer) error { return dataset.WriteParquet(w, subset.Records) },
			})
		}
	}

	mapping := result.Mapping
	artifacts = append(artifacts,
		Artifact{
			Name:   ClassMappingFile,
			render: func(w io.Writer) error { return labels.WriteClassMapping(w, mapping) },
		},
		Artifact{
			Name: LabelMappingFile,
			render: func(w io.Writer) error {
				id2label := make(map[string]string, mapping.Len())
				for id, label := range mapping.IDToLabel() {
					id2label[strconv.Itoa(id)] = label
				}
				return writeJSON(w, labelMappingFile{Id2Label: id2label, Label2Id: mapping.LabelToID()})
			},
		},
		Artifact{
			Name:   StatsFile,
			render: func(w io.Writer) error { return writeJSON(w, result.Stats()) },
		},
	)

	return artifacts
}

// ArtifactWriter renders artifacts and stores them under one directory of a
// bucket, several at a time.
type ArtifactWriter struct {
	Storage storage.Provider
	Bucket  string
	Workers int

	// Called once per stored artifact with its name.
	OnWritten func(name string)
}

func (aw *ArtifactWriter) Write(ctx context.Context, outputDir string, artifacts []Artifact) error {
	queue := make(chan Artifact, len(artifacts))
	for _, artifact := range artifacts {
		queue <- artifact
	}
	close(queue)

	completed := make(chan utils.CompletedTask[string], len(artifacts))

	worker := func(artifact Artifact) (string, error) {
		var buf bytes.Buffer
		if err := artifact.Render(&buf); err != nil {
			return "", fmt.Errorf("error rendering %s: %w", artifact.Name, err)
		}

		key := path.Join(outputDir, artifact.Name)
		if err := aw.Storage.PutObject(ctx, aw.Bucket, key, &buf); err != nil {
			return "", fmt.Errorf("error storing %s: %w", artifact.Name, err)
		}
		return artifact.Name, nil
	}

	utils.RunInPool(worker, queue, completed, max(aw.Workers, 1))

	var errs []error
	for task := range completed {
		if task.Error != nil {
			errs = append(errs, task.Error)
			continue
		}
		if aw.OnWritten != nil {
			aw.OnWritten(task.Result)
		}
	}

	return errors.Join(errs...)
}

// SplitFiles groups the artifact names by subset.
func SplitFiles(artifacts []Artifact) map[string][]string {
	files := make(map[string][]string)
	for _, artifact := range artifacts {
		if artifact.Split != "" {
			files[artifact.Split] = append(files[artifact.Split], artifact.Name)
		}
	}
	return files
}
