package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry holds the CUE definitions documents are checked against. Each
// registered source declares a definition named after it, e.g. "#Definition".
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry with the built-in definitions.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchema("Definition", builtinDefinitionSchema); err != nil {
		panic(err)
	}
	return sr
}

// RegisterSchema compiles source and registers its #name definition.
func (sr *SchemaRegistry) RegisterSchema(name, source string) error {
	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath("#" + name))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not declare #%s", name, name)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = def
	return nil
}

// GetSchema returns a registered definition.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	val, ok := sr.schemas[name]
	return val, ok
}

// Validate unifies val with the named definition and requires a concrete result.
func (sr *SchemaRegistry) Validate(name string, val cue.Value) error {
	def, ok := sr.GetSchema(name)
	if !ok {
		return fmt.Errorf("schema %s not found", name)
	}
	return def.Unify(val).Validate(cue.Concrete(true))
}

// ValidateAgainstSchema encodes data and validates it against the named definition.
func (sr *SchemaRegistry) ValidateAgainstSchema(name string, data interface{}) error {
	val := sr.ctx.Encode(data)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	if err := sr.Validate(name, val); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns the registered names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinDefinitionSchema = `
#PropKind: "string" | "integer" | "boolean" | "map" | "array" | "object"

#Prop: {
	name:     string & =~"^[A-Za-z_][A-Za-z0-9_-]*$"
	kind:     #PropKind
	default?: _
	docLink?: string
	widget?:  string
	children?: [...{...}]
	entry?: {
		name?: string
		kind:  #PropKind
		...
	}
}

#Pass: {
	title:        string & !=""
	description?: string
	link?:        string
	func:         string & !=""
	backend?:     "starlark" | "rego" | "wasm"
	handler?:     string
	code?:        string
	args?: {...}
}

#Definition: {
	name:     string & =~"^[A-Za-z_][A-Za-z0-9_.-]*$"
	kind?:    "concept" | "implementation" | "concrete"
	variant?: string
	props?: [...#Prop]
	validations?: [...{
		prop:     string & =~"^/root(/.*)?$"
		expected: string
		func?:    string
		link?:    string
	}]
	qualifications?: [...#Pass]
	codeGeneration?: [...#Pass]
}
`
