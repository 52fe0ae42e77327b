package labels

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// ParseIDToLabel parses a JSON object of the form {"0": "O", "1": "B-PER"} and
// returns it as label -> id.
func ParseIDToLabel(data []byte) (map[string]int, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("error parsing id to label mapping: %w", err)
	}
	return invertIDToLabel(raw)
}

func invertIDToLabel(raw map[string]string) (map[string]int, error) {
	out := make(map[string]int, len(raw))
	for key, label := range raw {
		id, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("invalid label id '%s': %w", key, err)
		}
		if prev, ok := out[label]; ok && prev != id {
			return nil, &InvalidMappingError{Label: label, Id: id, Reason: fmt.Sprintf("label already has id %d", prev)}
		}
		out[label] = id
	}
	return out, nil
}

type modelConfig struct {
	Id2Label map[string]string `json:"id2label"`
}

// LoadModelConfig reads the id2label section of a model config.json.
func LoadModelConfig(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading model config %s: %w", path, err)
	}

	var cfg modelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing model config %s: %w", path, err)
	}

	return invertIDToLabel(cfg.Id2Label)
}

// FindLatestModelConfig returns the config.json of the newest model directory
// under modelDir, where newest is the lexicographically largest name. An empty
// path is returned when there is no such config.
func FindLatestModelConfig(modelDir string) (string, error) {
	if modelDir == "" {
		return "", nil
	}

	entries, err := os.ReadDir(modelDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("error listing model dir %s: %w", modelDir, err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	if len(dirs) == 0 {
		return "", nil
	}

	path := filepath.Join(modelDir, slices.Max(dirs), "config.json")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("error checking model config %s: %w", path, err)
	}
	return path, nil
}

// LoadMappingFile loads a base mapping from a .json or .yaml file. JSON files
// may hold either label -> id or id -> label (including a model config with an
// id2label section); YAML files hold label -> id.
func LoadMappingFile(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading mapping file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var mapping map[string]int
		if err := yaml.Unmarshal(data, &mapping); err != nil {
			return nil, fmt.Errorf("error parsing yaml mapping %s: %w", path, err)
		}
		return mapping, nil

	case ".json":
		var cfg modelConfig
		if err := json.Unmarshal(data, &cfg); err == nil && len(cfg.Id2Label) > 0 {
			return invertIDToLabel(cfg.Id2Label)
		}

		var labelToId map[string]int
		if err := json.Unmarshal(data, &labelToId); err == nil {
			return labelToId, nil
		}

		return ParseIDToLabel(data)

	default:
		return nil, fmt.Errorf("unsupported mapping file type '%s'", filepath.Ext(path))
	}
}

// WriteClassMapping renders the mapping as a python dict literal:
//
//	tag_mapping = {
//	    0: 'O',
//	}
func WriteClassMapping(w io.Writer, m *Mapping) error {
	var sb strings.Builder
	sb.WriteString("tag_mapping = {\n")
	for _, label := range m.Labels() {
		id := m.toId[label]
		sb.WriteString(fmt.Sprintf("    %d: '%s',\n", id, strings.ReplaceAll(label, "'", "\\'")))
	}
	sb.WriteString("}\n")

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("error writing class mapping: %w", err)
	}
	return nil
}
