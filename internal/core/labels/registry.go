package labels

import (
	"fmt"
	"sort"

	"conll-backend/internal/core/conll"
)

const OutsideLabel = "O"

type InvalidMappingError struct {
	Label  string
	Id     int
	Reason string
}

func (e *InvalidMappingError) Error() string {
	return fmt.Sprintf("invalid label mapping entry %q -> %d: %s", e.Label, e.Id, e.Reason)
}

// Mapping is a bijection between label strings and integer ids. It is only
// mutated while it is being built.
type Mapping struct {
	toId    map[string]int
	toLabel map[int]string
	maxId   int
}

func newMapping() *Mapping {
	return &Mapping{toId: make(map[string]int), toLabel: make(map[int]string), maxId: -1}
}

// NewMapping validates and copies a label -> id mapping.
func NewMapping(labelToId map[string]int) (*Mapping, error) {
	m := newMapping()

	// sorted so that the reported error does not depend on map iteration order
	labels := make([]string, 0, len(labelToId))
	for label := range labelToId {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		if err := m.set(label, labelToId[label]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Mapping) set(label string, id int) error {
	if label == "" {
		return &InvalidMappingError{Label: label, Id: id, Reason: "label is empty"}
	}
	if id < 0 {
		return &InvalidMappingError{Label: label, Id: id, Reason: "id is negative"}
	}
	if existing, ok := m.toLabel[id]; ok && existing != label {
		return &InvalidMappingError{Label: label, Id: id, Reason: fmt.Sprintf("id already assigned to %q", existing)}
	}
	m.toId[label] = id
	m.toLabel[id] = label
	m.maxId = max(m.maxId, id)
	return nil
}

func (m *Mapping) add(label string) int {
	id := m.maxId + 1
	m.toId[label] = id
	m.toLabel[id] = label
	m.maxId = id
	return id
}

func (m *Mapping) ID(label string) (int, bool) {
	id, ok := m.toId[label]
	return id, ok
}

func (m *Mapping) Label(id int) (string, bool) {
	label, ok := m.toLabel[id]
	return label, ok
}

func (m *Mapping) Len() int {
	return len(m.toId)
}

// Labels returns the labels ordered by id.
func (m *Mapping) Labels() []string {
	ids := make([]int, 0, len(m.toLabel))
	for id := range m.toLabel {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	labels := make([]string, len(ids))
	for i, id := range ids {
		labels[i] = m.toLabel[id]
	}
	return labels
}

func (m *Mapping) LabelToID() map[string]int {
	out := make(map[string]int, len(m.toId))
	for label, id := range m.toId {
		out[label] = id
	}
	return out
}

func (m *Mapping) IDToLabel() map[int]string {
	out := make(map[int]string, len(m.toLabel))
	for id, label := range m.toLabel {
		out[id] = label
	}
	return out
}

// Build creates the mapping for a whole corpus. The base mapping is copied and
// its ids are kept; tags it does not contain get the next unused ids in the
// order they first appear in the corpus. Without a base mapping the registry
// starts from O -> 0. The returned slice lists the tags that received new ids.
func Build(corpus *conll.Corpus, base map[string]int) (*Mapping, []string, error) {
	var m *Mapping
	if len(base) == 0 {
		m = newMapping()
		m.add(OutsideLabel)
	} else {
		var err error
		if m, err = NewMapping(base); err != nil {
			return nil, nil, err
		}
	}

	newEntities := make([]string, 0)
	for _, tag := range corpus.Tags() {
		if _, ok := m.toId[tag]; ok {
			continue
		}
		m.add(tag)
		newEntities = append(newEntities, tag)
	}

	return m, newEntities, nil
}
