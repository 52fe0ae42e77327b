package dataset

import (
	"fmt"
	"strconv"

	"conll-backend/internal/core/conll"
	"conll-backend/internal/core/labels"
)

type Record struct {
	Id      string   `json:"id" parquet:"id"`
	Tokens  []string `json:"tokens" parquet:"tokens,list"`
	NerTags []int    `json:"ner_tags" parquet:"ner_tags,list"`
}

type Stats struct {
	SentencesProcessed int            `json:"sentences_processed"`
	UniqueTags         int            `json:"unique_tags"`
	TagCounts          map[string]int `json:"tag_counts"`
	NewEntities        []string       `json:"new_entities"`
}

type UnknownLabelError struct {
	Label    string
	Sentence int
}

func (e *UnknownLabelError) Error() string {
	return fmt.Sprintf("label '%s' in sentence %d is missing from the label mapping", e.Label, e.Sentence)
}

// Emit converts the sentences of docs into integer labeled records. The mapping
// must already contain every tag of docs, it is never extended here.
func Emit(docs []conll.Document, mapping *labels.Mapping, newEntities []string) ([]Record, Stats, error) {
	stats := Stats{
		TagCounts:   make(map[string]int),
		NewEntities: append(make([]string, 0, len(newEntities)), newEntities...),
	}

	records := make([]Record, 0, conll.CountSentences(docs))

	for _, doc := range docs {
		for _, sentence := range doc.Sentences {
			index := len(records)

			tags := make([]int, len(sentence.Tokens))
			for i, tok := range sentence.Tokens {
				id, ok := mapping.ID(tok.Tag)
				if !ok {
					return nil, Stats{}, &UnknownLabelError{Label: tok.Tag, Sentence: index}
				}
				tags[i] = id
				stats.TagCounts[tok.Tag]++
			}

			records = append(records, Record{
				Id:      strconv.Itoa(index),
				Tokens:  sentence.Texts(),
				NerTags: tags,
			})
		}
	}

	stats.SentencesProcessed = len(records)
	stats.UniqueTags = len(stats.TagCounts)

	return records, stats, nil
}

// Decode maps the ids of a record back to their labels.
func Decode(record Record, mapping *labels.Mapping) ([]string, error) {
	out := make([]string, len(record.NerTags))
	for i, id := range record.NerTags {
		label, ok := mapping.Label(id)
		if !ok {
			return nil, fmt.Errorf("record %s: tag id %d is missing from the label mapping", record.Id, id)
		}
		out[i] = label
	}
	return out, nil
}
