package api

import (
	"fmt"

	"conll-backend/internal/database"
	"conll-backend/pkg/api"
)

func convertSplit(s database.ConversionSplit) (api.ConversionSplit, error) {
	split := api.ConversionSplit{
		Split:              s.Split,
		Documents:          s.Documents,
		SentencesProcessed: s.SentencesProcessed,
		UniqueTags:         s.UniqueTags,
	}

	if err := decodeJSON(s.TagCounts, &split.TagCounts); err != nil {
		return split, fmt.Errorf("error decoding tag counts of %s: %w", s.Split, err)
	}
	if err := decodeJSON(s.NewEntities, &split.NewEntities); err != nil {
		return split, fmt.Errorf("error decoding new entities of %s: %w", s.Split, err)
	}
	if err := decodeJSON(s.Files, &split.Files); err != nil {
		return split, fmt.Errorf("error decoding files of %s: %w", s.Split, err)
	}

	return split, nil
}

func convertConversion(c database.Conversion) (api.Conversion, error) {
	conversion := api.Conversion{
		Id:           c.Id,
		Name:         c.Name,
		OutputDir:    c.OutputDir,
		Status:       c.Status,
		Ratios:       api.Ratios{Train: c.TrainRatio, Val: c.ValRatio, Test: c.TestRatio},
		Shuffle:      c.Shuffle,
		Seed:         c.Seed,
		Parquet:      c.Parquet,
		Documents:    c.Documents,
		Sentences:    c.Sentences,
		CreationTime: c.CreationTime,
	}

	if c.CompletionTime.Valid {
		conversion.CompletionTime = &c.CompletionTime.Time
	}

	for _, s := range c.Splits {
		split, err := convertSplit(s)
		if err != nil {
			return conversion, err
		}
		conversion.Splits = append(conversion.Splits, split)
	}

	for _, l := range c.Labels {
		conversion.Labels = append(conversion.Labels, api.ConversionLabel{Id: l.LabelId, Label: l.Label, IsNew: l.IsNew})
	}

	for _, e := range c.Errors {
		conversion.Errors = append(conversion.Errors, e.Error)
	}

	return conversion, nil
}

// Only the conversion rows are loaded for listing, splits and labels are left out.
func convertConversions(cs []database.Conversion) []api.Conversion {
	conversions := make([]api.Conversion, 0, len(cs))
	for _, c := range cs {
		conversion := api.Conversion{
			Id:           c.Id,
			Name:         c.Name,
			OutputDir:    c.OutputDir,
			Status:       c.Status,
			Ratios:       api.Ratios{Train: c.TrainRatio, Val: c.ValRatio, Test: c.TestRatio},
			Shuffle:      c.Shuffle,
			Seed:         c.Seed,
			Parquet:      c.Parquet,
			Documents:    c.Documents,
			Sentences:    c.Sentences,
			CreationTime: c.CreationTime,
		}
		if c.CompletionTime.Valid {
			conversion.CompletionTime = &c.CompletionTime.Time
		}
		conversions = append(conversions, conversion)
	}
	return conversions
}
