package loaders

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/openfroyo/herd/pkg/inventory"
)

// inventorySchema closes hosts, groups and defaults. Other top-level fields
// are left open so sources can hold helper definitions.
const inventorySchema = `
#ConnectionOptions: {
	hostname?: string
	port?:     int & >=1 & <=65535
	username?: string
	password?: string
	platform?: string
	extras?: {...}
}

#Defaults: {
	hostname?: string
	port?:     int & >=1 & <=65535
	username?: string
	password?: string
	platform?: string
	data?: {...}
	connection_options?: [string]: #ConnectionOptions
}

#Element: {
	#Defaults
	groups?: [...string]
}

hosts?: [string]:  #Element
groups?: [string]: #Element
defaults?:         #Defaults
`

// CUELoader evaluates CUE sources into an inventory.
type CUELoader struct {
	ctx     *cue.Context
	schema  cue.Value
	sources []string
}

// NewCUELoader creates a loader over files and directories. Directories
// contribute every .cue file they contain, in name order.
func NewCUELoader(sources ...string) *CUELoader {
	ctx := cuecontext.New()
	return &CUELoader{
		ctx:     ctx,
		schema:  ctx.CompileString(inventorySchema, cue.Filename("schema.cue")),
		sources: sources,
	}
}

// Load implements inventory.Loader.
func (l *CUELoader) Load(ctx context.Context) (*inventory.Records, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(l.sources) == 0 {
		return nil, fmt.Errorf("cue inventory: no sources provided")
	}

	files, err := l.sourceFiles()
	if err != nil {
		return nil, err
	}

	val := l.schema
	var errs []ValidationError
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read inventory file %s: %w", file, err)
		}
		fileVal := l.ctx.CompileString(string(content), cue.Filename(file))
		if err := fileVal.Err(); err != nil {
			errs = append(errs, convertCUEErrors(err)...)
			continue
		}
		val = val.Unify(fileVal)
	}
	if len(errs) > 0 {
		return nil, &LoadError{Plugin: "cue", Errors: errs}
	}

	return l.decode(val)
}

// LoadString evaluates inline CUE content.
func (l *CUELoader) LoadString(content string) (*inventory.Records, error) {
	val := l.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return nil, &LoadError{Plugin: "cue", Errors: convertCUEErrors(err)}
	}
	return l.decode(l.schema.Unify(val))
}

func (l *CUELoader) decode(val cue.Value) (*inventory.Records, error) {
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{Plugin: "cue", Errors: convertCUEErrors(err)}
	}

	records := &inventory.Records{
		Hosts:  map[string]inventory.HostRecord{},
		Groups: map[string]inventory.GroupRecord{},
	}

	if v := val.LookupPath(cue.ParsePath("hosts")); v.Exists() {
		if err := v.Decode(&records.Hosts); err != nil {
			return nil, fmt.Errorf("failed to decode hosts: %w", err)
		}
		fields, err := v.Fields()
		if err != nil {
			return nil, fmt.Errorf("failed to decode hosts: %w", err)
		}
		for fields.Next() {
			records.HostOrder = append(records.HostOrder, fields.Selector().Unquoted())
		}
	}
	if v := val.LookupPath(cue.ParsePath("groups")); v.Exists() {
		if err := v.Decode(&records.Groups); err != nil {
			return nil, fmt.Errorf("failed to decode groups: %w", err)
		}
	}
	if v := val.LookupPath(cue.ParsePath("defaults")); v.Exists() {
		if err := v.Decode(&records.Defaults); err != nil {
			return nil, fmt.Errorf("failed to decode defaults: %w", err)
		}
	}

	return records, nil
}

// sourceFiles expands directories into their .cue files.
func (l *CUELoader) sourceFiles() ([]string, error) {
	var files []string
	for _, source := range l.sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}
		if !info.IsDir() {
			files = append(files, source)
			continue
		}

		matches, err := filepath.Glob(filepath.Join(source, "*.cue"))
		if err != nil {
			return nil, fmt.Errorf("failed to list directory %s: %w", source, err)
		}
		if len(matches) == 0 {
			return nil, &LoadError{Plugin: "cue", Errors: []ValidationError{{
				File:    source,
				Message: "no CUE files found",
			}}}
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	return files, nil
}

// convertCUEErrors flattens a CUE error list with positions.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		ve := ValidationError{Message: errors.Details(e, nil)}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	return out
}
