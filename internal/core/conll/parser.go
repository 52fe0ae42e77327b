package conll

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const maxLineBytes = 1024 * 1024

type MalformedLineError struct {
	Line    int
	Content string
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed line %d: expected at least 2 columns, got %q", e.Line, e.Content)
}

type parseState struct {
	corpus   Corpus
	document *Document
	sentence []Token
}

func (s *parseState) startDocument() {
	s.endSentence()
	s.corpus.Documents = append(s.corpus.Documents, Document{})
	s.document = &s.corpus.Documents[len(s.corpus.Documents)-1]
}

func (s *parseState) endSentence() {
	if len(s.sentence) == 0 {
		return
	}
	if s.document == nil {
		// content before any sentinel opens an implicit first document
		s.corpus.Documents = append(s.corpus.Documents, Document{})
		s.document = &s.corpus.Documents[len(s.corpus.Documents)-1]
	}
	s.document.Sentences = append(s.document.Sentences, Sentence{Tokens: s.sentence})
	s.sentence = nil
}

func (s *parseState) finish() *Corpus {
	s.endSentence()

	// Sentinels with no content after them do not produce documents.
	docs := s.corpus.Documents[:0]
	for _, doc := range s.corpus.Documents {
		if len(doc.Sentences) > 0 {
			docs = append(docs, doc)
		}
	}
	s.corpus.Documents = docs

	return &s.corpus
}

// Parse reads a CoNLL corpus. The whole input is consumed before returning, a
// malformed line aborts the parse without a partial corpus.
func Parse(r io.Reader) (*Corpus, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	state := &parseState{}

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			state.endSentence()
			continue
		}

		columns := strings.Fields(line)
		if columns[0] == DocStart {
			// A new document is only started once the previous one has content.
			if state.document == nil || len(state.document.Sentences) > 0 || len(state.sentence) > 0 {
				state.startDocument()
			}
			continue
		}

		if len(columns) < 2 {
			return nil, &MalformedLineError{Line: lineNo, Content: scanner.Text()}
		}

		last := len(columns) - 1
		var fields []string
		if last > 1 {
			fields = columns[1:last]
		}
		state.sentence = append(state.sentence, Token{Text: columns[0], Fields: fields, Tag: columns[last]})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading corpus: %w", err)
	}

	return state.finish(), nil
}

func ParseString(text string) (*Corpus, error) {
	return Parse(strings.NewReader(text))
}
