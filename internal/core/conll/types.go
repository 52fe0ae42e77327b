package conll

// DocStart is the sentinel that opens a new document when it appears in the
// first column of a line.
const DocStart = "-DOCSTART-"

type Token struct {
	Text string
	// Interior columns (POS, chunk, ...) kept as-is.
	Fields []string
	Tag    string
}

type Sentence struct {
	Tokens []Token
}

func (s Sentence) Texts() []string {
	texts := make([]string, len(s.Tokens))
	for i, tok := range s.Tokens {
		texts[i] = tok.Text
	}
	return texts
}

func (s Sentence) Tags() []string {
	tags := make([]string, len(s.Tokens))
	for i, tok := range s.Tokens {
		tags[i] = tok.Tag
	}
	return tags
}

type Document struct {
	Sentences []Sentence
}

type Corpus struct {
	Documents []Document
}

func (c *Corpus) NumSentences() int {
	return CountSentences(c.Documents)
}

func (c *Corpus) NumTokens() int {
	total := 0
	for _, doc := range c.Documents {
		for _, sentence := range doc.Sentences {
			total += len(sentence.Tokens)
		}
	}
	return total
}

// Tags returns the distinct tags of the corpus in first-occurrence order.
func (c *Corpus) Tags() []string {
	seen := make(map[string]struct{})
	var tags []string
	for _, doc := range c.Documents {
		for _, sentence := range doc.Sentences {
			for _, tok := range sentence.Tokens {
				if _, ok := seen[tok.Tag]; !ok {
					seen[tok.Tag] = struct{}{}
					tags = append(tags, tok.Tag)
				}
			}
		}
	}
	return tags
}

func CountSentences(docs []Document) int {
	total := 0
	for _, doc := range docs {
		total += len(doc.Sentences)
	}
	return total
}
