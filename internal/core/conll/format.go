package conll

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Format writes documents back out in CoNLL form. Each document is preceded by
// a sentinel line and sentences are separated by a blank line, so the output
// parses back into the same documents.
func Format(w io.Writer, docs []Document) error {
	bw := bufio.NewWriter(w)

	for i, doc := range docs {
		if i > 0 {
			if _, err := bw.WriteString("\n"); err != nil {
				return fmt.Errorf("error writing document separator: %w", err)
			}
		}
		if _, err := bw.WriteString(DocStart + " -X- -X- O\n\n"); err != nil {
			return fmt.Errorf("error writing document header: %w", err)
		}
		for j, sentence := range doc.Sentences {
			if j > 0 {
				if _, err := bw.WriteString("\n"); err != nil {
					return fmt.Errorf("error writing sentence separator: %w", err)
				}
			}
			for _, tok := range sentence.Tokens {
				if _, err := bw.WriteString(formatToken(tok)); err != nil {
					return fmt.Errorf("error writing token: %w", err)
				}
			}
		}
	}

	return bw.Flush()
}

func formatToken(tok Token) string {
	columns := make([]string, 0, len(tok.Fields)+2)
	columns = append(columns, tok.Text)
	columns = append(columns, tok.Fields...)
	columns = append(columns, tok.Tag)
	return strings.Join(columns, " ") + "\n"
}
