package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a schema from a .json, .yaml/.yml or .cue file.
//
// A CUE file may either be the schema itself or declare it under a
// top-level "schema" field.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".cue":
		return ParseCUE(path, data)
	default:
		return nil, fmt.Errorf("unsupported schema file extension: %s", path)
	}
}

// ParseJSON parses a JSON schema document.
func ParseJSON(data []byte) (*Schema, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse schema json: %w", err)
	}
	return FromMap(m)
}

// ParseYAML parses a YAML schema document.
func ParseYAML(data []byte) (*Schema, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse schema yaml: %w", err)
	}
	return FromMap(m)
}

// ParseCUE evaluates a CUE schema document. filename is used in error
// positions only.
func ParseCUE(filename string, data []byte) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile schema cue: %w", err)
	}
	if nested := v.LookupPath(cue.ParsePath("schema")); nested.Exists() {
		v = nested
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("schema cue is not concrete: %w", err)
	}
	// Going through JSON keeps numbers as float64 like the other formats.
	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("export schema cue: %w", err)
	}
	return ParseJSON(raw)
}
