package world

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// Format selects the document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatXML  Format = "xml"
)

// FormatForPath picks the encoding from the file extension. Unknown
// extensions are treated as YAML.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sdf", ".xml":
		return FormatXML
	default:
		return FormatYAML
	}
}

// Sniff guesses the encoding of an in-memory document.
func Sniff(data []byte) Format {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("<")) {
		return FormatXML
	}
	return FormatYAML
}

// Decode parses data without validating it. Unknown YAML keys are errors.
func Decode(data []byte, format Format) (*Description, error) {
	desc := &Description{}
	switch format {
	case FormatXML:
		if err := xml.Unmarshal(data, desc); err != nil {
			return nil, err
		}
	case FormatYAML:
		if err := yaml.UnmarshalStrict(data, desc); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
	return desc, nil
}

// Encode writes desc in format.
func Encode(desc *Description, format Format) ([]byte, error) {
	if desc == nil {
		return nil, ErrNoWorld
	}
	switch format {
	case FormatXML:
		data, err := xml.MarshalIndent(desc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append([]byte(xml.Header), append(data, '\n')...), nil
	case FormatYAML:
		return yaml.Marshal(desc)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}
