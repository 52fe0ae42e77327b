package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

// WriteJSONL writes one compact JSON object per line. Non-ASCII text and
// characters such as '<' are written verbatim.
func WriteJSONL(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)

	encoder := json.NewEncoder(bw)
	encoder.SetEscapeHTML(false)

	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			return fmt.Errorf("error encoding record %s: %w", record.Id, err)
		}
	}

	return bw.Flush()
}

func ReadJSONL(r io.Reader) ([]Record, error) {
	decoder := json.NewDecoder(r)

	var records []Record
	for decoder.More() {
		var record Record
		if err := decoder.Decode(&record); err != nil {
			return nil, fmt.Errorf("error decoding record %d: %w", len(records), err)
		}
		records = append(records, record)
	}
	return records, nil
}

func WriteParquet(w io.Writer, records []Record) error {
	writer := parquet.NewGenericWriter[Record](w)

	if len(records) > 0 {
		if _, err := writer.Write(records); err != nil {
			return fmt.Errorf("error writing parquet records: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("error closing parquet writer: %w", err)
	}
	return nil
}

func ReadParquet(r io.ReaderAt) ([]Record, error) {
	reader := parquet.NewGenericReader[Record](r)
	defer reader.Close()

	records := make([]Record, reader.NumRows())
	n, err := reader.Read(records)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("error reading parquet records: %w", err)
	}
	return records[:n], nil
}
