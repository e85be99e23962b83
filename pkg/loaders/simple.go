package loaders

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/herd/pkg/inventory"
)

// SimpleLoader reads an inventory from YAML files.
type SimpleLoader struct {
	// HostFile maps host names to host records. Required.
	HostFile string

	// GroupFile maps group names to group records. Skipped when empty or
	// missing.
	GroupFile string

	// DefaultsFile holds the defaults record. Skipped when empty or missing.
	DefaultsFile string
}

// Load implements inventory.Loader.
func (l *SimpleLoader) Load(ctx context.Context) (*inventory.Records, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.HostFile == "" {
		return nil, fmt.Errorf("simple inventory: host file not set")
	}

	records := &inventory.Records{
		Hosts:  map[string]inventory.HostRecord{},
		Groups: map[string]inventory.GroupRecord{},
	}

	content, err := readFile(l.HostFile, false)
	if err != nil {
		return nil, err
	}
	if err := decode(l.HostFile, content, &records.Hosts); err != nil {
		return nil, err
	}
	records.HostOrder = mappingKeys(content)
	if err := decodeFile(l.GroupFile, true, &records.Groups); err != nil {
		return nil, err
	}
	if err := decodeFile(l.DefaultsFile, true, &records.Defaults); err != nil {
		return nil, err
	}

	return records, nil
}

// decodeFile strictly decodes a YAML document into out. An empty document
// leaves out untouched.
func decodeFile(path string, optional bool, out any) error {
	content, err := readFile(path, optional)
	if err != nil || content == nil {
		return err
	}
	return decode(path, content, out)
}

// readFile returns nil content for an optional file that is unset or
// missing.
func readFile(path string, optional bool) ([]byte, error) {
	if path == "" && optional {
		return nil, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read inventory file %s: %w", path, err)
	}
	return content, nil
}

func decode(path string, content []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &LoadError{
			Plugin: "simple",
			Errors: yamlErrors(path, err),
		}
	}

	return nil
}

// mappingKeys returns the top-level keys of a YAML mapping document in the
// order they appear.
func mappingKeys(content []byte) []string {
	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil || len(doc.Content) == 0 {
		return nil
	}
	m := doc.Content[0]
	if m.Kind != yaml.MappingNode {
		return nil
	}
	keys := make([]string, 0, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		keys = append(keys, m.Content[i].Value)
	}
	return keys
}

func yamlErrors(path string, err error) []ValidationError {
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		errs := make([]ValidationError, len(typeErr.Errors))
		for i, msg := range typeErr.Errors {
			errs[i] = ValidationError{File: path, Message: msg}
		}
		return errs
	}
	return []ValidationError{{File: path, Message: err.Error()}}
}
