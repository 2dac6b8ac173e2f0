package model

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/Brownie44l1/classify-api/internal/preprocess"
	"github.com/Brownie44l1/classify-api/internal/ranking"
)

// Metadata is the JSON sidecar shipped next to the .onnx weights.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ClassIDs    []string `json:"class_ids,omitempty"`
	ImageSize   int      `json:"image_size"`
}

// synset lines look like "n01440764 tench, Tinca tinca"
var synsetLine = regexp.MustCompile(`^(n\d{8})\s+(.+)$`)

func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return metadata, nil
}

// Labels is the class-label table of a loaded model.
type Labels struct {
	ids   []string
	names []string
}

// NewLabels pairs class names with optional identifiers. Names written as
// ImageNet synset lines are split into identifier and the first synonym.
func NewLabels(names, ids []string) Labels {
	l := Labels{
		ids:   make([]string, len(names)),
		names: make([]string, len(names)),
	}
	for i, name := range names {
		name = strings.TrimSpace(name)
		id := ""
		if i < len(ids) {
			id = ids[i]
		}
		if m := synsetLine.FindStringSubmatch(name); m != nil {
			if id == "" {
				id = m[1]
			}
			name = strings.TrimSpace(strings.SplitN(m[2], ",", 2)[0])
		}
		l.ids[i] = id
		l.names[i] = name
	}
	return l
}

func (l Labels) Len() int { return len(l.names) }

// ID returns the class identifier, or the decimal index when the table has none.
func (l Labels) ID(i int) string {
	if i >= 0 && i < len(l.ids) && l.ids[i] != "" {
		return l.ids[i]
	}
	return strconv.Itoa(i)
}

// Name returns the raw label, or class_<i> past the end of the table.
func (l Labels) Name(i int) string {
	if i >= 0 && i < len(l.names) && l.names[i] != "" {
		return l.names[i]
	}
	return fmt.Sprintf("class_%d", i)
}

// Info is the read-only description of a classifier.
type Info struct {
	Name          string             `json:"name"`
	Backbone      string             `json:"backbone"`
	Framework     string             `json:"framework"`
	Device        string             `json:"device"`
	InputShape    []int64            `json:"input_shape"`
	OutputClasses int                `json:"output_classes"`
	Normalization preprocess.Scheme  `json:"normalization"`
	Activation    ranking.Activation `json:"output_activation"`
	Loaded        bool               `json:"loaded"`

	Input preprocess.Spec `json:"-"`
}
