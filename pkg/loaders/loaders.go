package loaders

import (
	"fmt"
	"strings"

	"github.com/openfroyo/herd/pkg/config"
	"github.com/openfroyo/herd/pkg/inventory"
)

// ValidationError is a single problem found in an inventory source.
type ValidationError struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (e ValidationError) String() string {
	if e.File == "" {
		return e.Message
	}
	if e.Line == 0 {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
}

// LoadError is returned when an inventory source is malformed.
type LoadError struct {
	// Plugin is the inventory plugin name.
	Plugin string

	// Errors lists every problem found.
	Errors []ValidationError
}

func (e *LoadError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.String()
	}
	return fmt.Sprintf("%s inventory: %s", e.Plugin, strings.Join(msgs, "; "))
}

// New returns the inventory plugin selected by cfg.
func New(cfg config.InventoryConfig) (inventory.Loader, error) {
	switch cfg.Plugin {
	case config.InventorySimple, "":
		return &SimpleLoader{
			HostFile:     cfg.HostFile,
			GroupFile:    cfg.GroupFile,
			DefaultsFile: cfg.DefaultsFile,
		}, nil
	case config.InventoryCUE:
		return NewCUELoader(cfg.Sources...), nil
	default:
		return nil, fmt.Errorf("unknown inventory plugin %q", cfg.Plugin)
	}
}
