package compiler

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the decoded, not yet validated form of a rule configuration.
type Document struct {
	Edges []EdgeDoc `json:"edges" yaml:"edges"`
}

// EdgeDoc is one declared transition rule.
type EdgeDoc struct {
	ID              string         `json:"id,omitempty" yaml:"id,omitempty"`
	From            string         `json:"from" yaml:"from"`
	To              string         `json:"to" yaml:"to"`
	Trigger         string         `json:"trigger" yaml:"trigger"`
	Conditions      map[string]any `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Actions         []string       `json:"actions,omitempty" yaml:"actions,omitempty"`
	Priority        int            `json:"priority,omitempty" yaml:"priority,omitempty"`
	CooldownSeconds *int           `json:"cooldownSeconds,omitempty" yaml:"cooldownSeconds,omitempty"`
	Witness         *WitnessDoc    `json:"witness,omitempty" yaml:"witness,omitempty"`
}

// WitnessDoc declares that a rule adds or removes a lock witness.
type WitnessDoc struct {
	Op   string `json:"op" yaml:"op"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// edgeFields lists the keys an edge may carry.
var edgeFields = map[string]bool{
	"id":              true,
	"from":            true,
	"to":              true,
	"trigger":         true,
	"conditions":      true,
	"actions":         true,
	"priority":        true,
	"cooldownSeconds": true,
	"witness":         true,
}

// Format identifies the encoding of a rule document.
type Format int

const (
	FormatJSON Format = iota + 1
	FormatYAML
	FormatCUE
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	case FormatCUE:
		return "cue"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseFormat accepts a format name as used by --format flags.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "json", "jsonc":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "cue":
		return FormatCUE, nil
	default:
		return 0, fmt.Errorf("unknown rule format %q (expected json, yaml or cue)", name)
	}
}

// FormatFromPath infers the document format from a file extension.
// Unknown extensions are treated as JSON, the format the daemon has always read.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".cue":
		return FormatCUE
	default:
		return FormatJSON
	}
}

// MarshalDocument encodes doc in the given format. CUE output is not
// supported; JSON is valid CUE, so callers wanting a .cue file can use JSON.
func MarshalDocument(doc *Document, format Format) ([]byte, error) {
	if doc.Edges == nil {
		doc = &Document{Edges: []EdgeDoc{}}
	}
	switch format {
	case FormatJSON, FormatCUE:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal rules as json: %w", err)
		}
		return append(data, '\n'), nil
	case FormatYAML:
		data, err := yaml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("marshal rules as yaml: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
