package core

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"conll-backend/internal/core/conll"
	"conll-backend/internal/core/dataset"
	"conll-backend/internal/core/labels"
	"conll-backend/internal/core/split"
)

// EmptyCorpusWarning is not fatal; it is only appended to ConversionResult.Warnings.
var EmptyCorpusWarning = errors.New("corpus contains no documents")

type ConvertOptions struct {
	Ratios split.Ratios

	// Label -> id mapping whose ids are kept. When empty the mapping starts
	// from O -> 0.
	BaseMapping map[string]int

	// Shuffle the documents with Seed before splitting. Without it the split
	// is purely positional.
	Shuffle bool
	Seed    int64
}

type SubsetResult struct {
	Name      string
	Documents []conll.Document
	Records   []dataset.Record
	Stats     dataset.Stats
}

type ConversionResult struct {
	Corpus      *conll.Corpus
	Mapping     *labels.Mapping
	NewEntities []string

	// Always train, val, test in that order.
	Subsets []SubsetResult

	Warnings []error
}

func (r *ConversionResult) Subset(name string) *SubsetResult {
	for i := range r.Subsets {
		if r.Subsets[i].Name == name {
			return &r.Subsets[i]
		}
	}
	return nil
}

func (r *ConversionResult) Stats() map[string]dataset.Stats {
	stats := make(map[string]dataset.Stats, len(r.Subsets))
	for _, subset := range r.Subsets {
		stats[subset.Name] = subset.Stats
	}
	return stats
}

// Convert runs the whole pipeline over one corpus. The label mapping is built
// from the entire corpus before any subset is emitted so that ids are the same
// across train, val and test. Any error aborts the conversion.
func Convert(input io.Reader, opts ConvertOptions) (*ConversionResult, error) {
	if err := opts.Ratios.Validate(); err != nil {
		return nil, err
	}

	corpus, err := conll.Parse(input)
	if err != nil {
		return nil, fmt.Errorf("error parsing corpus: %w", err)
	}

	result := &ConversionResult{Corpus: corpus}

	if len(corpus.Documents) == 0 {
		slog.Warn("conversion input contains no documents")
		result.Warnings = append(result.Warnings, EmptyCorpusWarning)
	}

	ordered := corpus
	if opts.Shuffle {
		ordered = &conll.Corpus{Documents: split.Shuffle(corpus.Documents, opts.Seed)}
	}

	subsets, err := split.Split(ordered, opts.Ratios)
	if err != nil {
		return nil, fmt.Errorf("error splitting corpus: %w", err)
	}

	mapping, newEntities, err := labels.Build(corpus, opts.BaseMapping)
	if err != nil {
		return nil, fmt.Errorf("error building label mapping: %w", err)
	}
	result.Mapping = mapping
	result.NewEntities = newEntities

	for name, docs := range subsets.Named() {
		records, stats, err := dataset.Emit(docs, mapping, newEntities)
		if err != nil {
			return nil, fmt.Errorf("error emitting %s records: %w", name, err)
		}
		result.Subsets = append(result.Subsets, SubsetResult{
			Name:      name,
			Documents: docs,
			Records:   records,
			Stats:     stats,
		})
	}

	slog.Info("converted corpus", "documents", len(corpus.Documents), "sentences", corpus.NumSentences(), "labels", mapping.Len(), "new_labels", len(newEntities))

	return result, nil
}
