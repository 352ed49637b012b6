package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"

	"github.com/Tensibai/si/pkg/schema"
)

// DefinitionsField is the top-level CUE field holding schema definitions, keyed by
// schema name:
//
//	schemas: docker_image: {
//		props: [{name: "image", kind: "string", default: "nginx"}]
//	}
const DefinitionsField = "schemas"

// DefinitionLoader reads schema definitions from CUE files and directories.
type DefinitionLoader struct {
	ctx       *cue.Context
	registry  *SchemaRegistry
	validator *validator.Validate
}

// NewDefinitionLoader creates a loader with the built-in definition schema.
func NewDefinitionLoader() *DefinitionLoader {
	registry := NewSchemaRegistry()
	return &DefinitionLoader{
		ctx:       registry.ctx,
		registry:  registry,
		validator: validator.New(),
	}
}

// Registry returns the loader's schema registry.
func (dl *DefinitionLoader) Registry() *SchemaRegistry {
	return dl.registry
}

// Load parses the given files and directories. Sources are unified, so a definition
// may be spread over several files. Parse and validation problems are reported in
// Errors; only I/O failures are returned as an error.
func (dl *DefinitionLoader) Load(sources []string) (*ParsedDefinitions, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var value cue.Value
	var files []string
	var errs []ValidationError
	unify := func(v cue.Value) {
		if !v.Exists() {
			return
		}
		if value.Exists() {
			value = value.Unify(v)
		} else {
			value = v
		}
	}

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}
		if info.IsDir() {
			val, dirFiles, dirErrs := dl.loadDirectory(source)
			errs = append(errs, dirErrs...)
			files = append(files, dirFiles...)
			unify(val)
			continue
		}
		val, fileErrs := dl.loadFile(source)
		errs = append(errs, fileErrs...)
		files = append(files, source)
		unify(val)
	}

	parsed := &ParsedDefinitions{SourceFiles: files, ParsedAt: time.Now(), Errors: errs}
	if len(errs) > 0 {
		return parsed, nil
	}
	if err := value.Err(); err != nil {
		parsed.Errors = convertCUEErrors(err)
		return parsed, nil
	}
	dl.extract(value, parsed)
	return parsed, nil
}

// LoadInline parses CUE source held in memory.
func (dl *DefinitionLoader) LoadInline(content string) *ParsedDefinitions {
	parsed := &ParsedDefinitions{SourceFiles: []string{"inline"}, ParsedAt: time.Now()}
	val := dl.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		parsed.Errors = convertCUEErrors(err)
		return parsed
	}
	dl.extract(val, parsed)
	return parsed
}

// loadDirectory loads a directory as a CUE package. Directories holding files from
// several packages should be loaded file by file through FindDefinitionFiles.
func (dl *DefinitionLoader) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, nil, []ValidationError{{File: dir, Message: "no CUE files found", Severity: "error"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, convertCUEErrors(inst.Err)
	}

	val := dl.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, convertCUEErrors(err)
	}
	var files []string
	for _, f := range inst.Files {
		if f.Filename != "" {
			files = append(files, f.Filename)
		}
	}
	return val, files, nil
}

func (dl *DefinitionLoader) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}
	val := dl.ctx.CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return val, nil
}

// extract decodes every entry of the definitions field into parsed.
func (dl *DefinitionLoader) extract(val cue.Value, parsed *ParsedDefinitions) {
	defs := val.LookupPath(cue.ParsePath(DefinitionsField))
	if !defs.Exists() {
		return
	}
	iter, err := defs.Fields()
	if err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Path:     DefinitionsField,
			Message:  fmt.Sprintf("failed to iterate definitions: %v", err),
			Severity: "error",
		})
		return
	}
	for iter.Next() {
		name := iter.Selector().Unquoted()
		def, errs := dl.decode(name, iter.Value())
		if len(errs) > 0 {
			parsed.Errors = append(parsed.Errors, errs...)
			continue
		}
		parsed.Definitions = append(parsed.Definitions, def)
	}
	sort.Slice(parsed.Definitions, func(i, j int) bool {
		return parsed.Definitions[i].Name < parsed.Definitions[j].Name
	})
}

// decode validates one definition against #Definition and the Go struct tags.
func (dl *DefinitionLoader) decode(name string, val cue.Value) (schema.Definition, []ValidationError) {
	path := DefinitionsField + "." + name
	fail := func(msg string) (schema.Definition, []ValidationError) {
		return schema.Definition{}, []ValidationError{{Path: path, Message: msg, Severity: "error"}}
	}

	if !val.LookupPath(cue.ParsePath("name")).Exists() {
		val = val.FillPath(cue.ParsePath("name"), name)
	}
	if err := dl.registry.Validate("Definition", val); err != nil {
		errs := convertCUEErrors(err)
		for i := range errs {
			errs[i].Path = path
		}
		return schema.Definition{}, errs
	}

	var def schema.Definition
	if err := val.Decode(&def); err != nil {
		return fail(fmt.Sprintf("failed to decode definition: %v", err))
	}
	nameEntries(def.Props)
	if err := dl.validator.Struct(def); err != nil {
		return fail(fmt.Sprintf("validation failed: %v", err))
	}
	if err := checkProps(def.Props); err != nil {
		return fail(err.Error())
	}
	return def, nil
}

// nameEntries gives unnamed map and array entries their default name.
func nameEntries(props []schema.PropDefinition) {
	for i := range props {
		if e := props[i].Entry; e != nil {
			if e.Name == "" {
				e.Name = "entry"
			}
			nameEntries(e.Children)
		}
		nameEntries(props[i].Children)
	}
}

// checkProps enforces the shape rules the struct tags cannot express.
func checkProps(props []schema.PropDefinition) error {
	seen := map[string]bool{}
	for _, p := range props {
		if seen[p.Name] {
			return fmt.Errorf("duplicate prop %s", p.Name)
		}
		seen[p.Name] = true
		if len(p.Children) > 0 && p.Kind != schema.PropKindObject {
			return fmt.Errorf("prop %s: only object props have children", p.Name)
		}
		if p.Entry != nil && p.Kind != schema.PropKindMap && p.Kind != schema.PropKindArray {
			return fmt.Errorf("prop %s: only map and array props have an entry", p.Name)
		}
		if (p.Kind == schema.PropKindMap || p.Kind == schema.PropKindArray) && p.Entry == nil {
			return fmt.Errorf("prop %s: %s props need an entry", p.Name, p.Kind)
		}
		if err := checkProps(p.Children); err != nil {
			return fmt.Errorf("%s: %w", p.Name, err)
		}
		if p.Entry != nil {
			if err := checkProps(p.Entry.Children); err != nil {
				return fmt.Errorf("%s entry: %w", p.Name, err)
			}
		}
	}
	return nil
}

// FindDefinitionFiles lists the .cue files under dir.
func FindDefinitionFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".cue") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		var file string
		var line, column int
		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}
		out = append(out, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}
	return out
}
