package split

import (
	"fmt"
	"iter"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"conll-backend/internal/core/conll"
)

const ratioTolerance = 1e-6

const (
	Train = "train"
	Val   = "val"
	Test  = "test"
)

var Names = []string{Train, Val, Test}

type Ratios struct {
	Train float64
	Val   float64
	Test  float64
}

var DefaultRatios = Ratios{Train: 0.7, Val: 0.15, Test: 0.15}

type InvalidRatioError struct {
	Ratios Ratios
	Input  string
	Reason string
}

func (e *InvalidRatioError) Error() string {
	if e.Input != "" {
		return fmt.Sprintf("invalid ratios '%s': %s", e.Input, e.Reason)
	}
	return fmt.Sprintf("invalid ratios (%g, %g, %g): %s", e.Ratios.Train, e.Ratios.Val, e.Ratios.Test, e.Reason)
}

// ParseRatios parses "train,val,test". An empty string yields DefaultRatios.
func ParseRatios(s string) (Ratios, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultRatios, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Ratios{}, &InvalidRatioError{Input: s, Reason: "ratios must be three comma-separated numbers"}
	}

	var values [3]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return Ratios{}, &InvalidRatioError{Input: s, Reason: fmt.Sprintf("'%s' is not a number", strings.TrimSpace(part))}
		}
		values[i] = v
	}

	r := Ratios{Train: values[0], Val: values[1], Test: values[2]}
	if err := r.Validate(); err != nil {
		return Ratios{}, err
	}
	return r, nil
}

func (r Ratios) values() [3]float64 {
	return [3]float64{r.Train, r.Val, r.Test}
}

func (r Ratios) Validate() error {
	sum := 0.0
	for _, v := range r.values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &InvalidRatioError{Ratios: r, Reason: "ratios must be finite"}
		}
		if v < 0 {
			return &InvalidRatioError{Ratios: r, Reason: "ratios must be non-negative"}
		}
		sum += v
	}
	if math.Abs(sum-1.0) > ratioTolerance {
		return &InvalidRatioError{Ratios: r, Reason: fmt.Sprintf("ratios must sum to 1.0, got %g", sum)}
	}
	return nil
}

func (r Ratios) String() string {
	return fmt.Sprintf("%g,%g,%g", r.Train, r.Val, r.Test)
}

// Counts distributes n items across the three ratios using largest remainder
// rounding. The counts always sum to n, and a zero ratio always gets zero.
// Ties between equal remainders go to train, then val, then test.
func Counts(n int, r Ratios) [3]int {
	var counts [3]int
	if n <= 0 {
		return counts
	}

	ratios := r.values()

	// Validate allows the sum to drift from 1 within ratioTolerance.
	sum := ratios[0] + ratios[1] + ratios[2]
	if sum <= 0 {
		return counts
	}

	type remainder struct {
		index int
		value float64
	}
	remainders := make([]remainder, 0, 3)

	assigned := 0
	for i, ratio := range ratios {
		exact := ratio / sum * float64(n)
		counts[i] = int(math.Floor(exact))
		assigned += counts[i]
		if ratio > 0 {
			remainders = append(remainders, remainder{index: i, value: exact - float64(counts[i])})
		}
	}

	sort.SliceStable(remainders, func(i, j int) bool {
		return remainders[i].value > remainders[j].value
	})

	for i := 0; assigned < n && len(remainders) > 0; i++ {
		counts[remainders[i%len(remainders)].index]++
		assigned++
	}

	for i := len(remainders) - 1; assigned > n && i >= 0; i-- {
		idx := remainders[i].index
		take := min(counts[idx], assigned-n)
		counts[idx] -= take
		assigned -= take
	}

	return counts
}

type Subsets struct {
	Train []conll.Document
	Val   []conll.Document
	Test  []conll.Document
}

func (s *Subsets) Get(name string) []conll.Document {
	switch name {
	case Train:
		return s.Train
	case Val:
		return s.Val
	case Test:
		return s.Test
	}
	return nil
}

// Named iterates over the subsets in train, val, test order.
func (s *Subsets) Named() iter.Seq2[string, []conll.Document] {
	return func(yield func(string, []conll.Document) bool) {
		for _, name := range Names {
			if !yield(name, s.Get(name)) {
				return
			}
		}
	}
}

// Split assigns whole documents to train, val and test by position: the first
// documents go to train, the next to val and the rest to test.
func Split(corpus *conll.Corpus, r Ratios) (*Subsets, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	docs := corpus.Documents
	counts := Counts(len(docs), r)

	trainEnd := counts[0]
	valEnd := trainEnd + counts[1]

	return &Subsets{
		Train: docs[:trainEnd:trainEnd],
		Val:   docs[trainEnd:valEnd:valEnd],
		Test:  docs[valEnd:],
	}, nil
}

// Shuffle returns a copy of docs in a random order determined by seed.
func Shuffle(docs []conll.Document, seed int64) []conll.Document {
	shuffled := make([]conll.Document, len(docs))
	copy(shuffled, docs)

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	return shuffled
}
