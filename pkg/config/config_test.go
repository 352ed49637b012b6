package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Tensibai/si/pkg/schema"
	"github.com/Tensibai/si/pkg/stores"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s failed: %v", name, err)
	}
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	t.Setenv(EnvDatabaseDSN, "")
	t.Setenv(EnvBusURL, "")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN != "si.db" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Bus.URL != "memory://" {
		t.Errorf("bus url = %s", cfg.Bus.URL)
	}
	if cfg.Telemetry == nil || cfg.Telemetry.ServiceName != "si" {
		t.Errorf("telemetry defaults not applied: %+v", cfg.Telemetry)
	}
}

func TestLoadFileMergesYAML(t *testing.T) {
	t.Setenv(EnvDatabaseDSN, "")
	t.Setenv(EnvBusURL, "")

	path := writeFile(t, t.TempDir(), "si.yaml", `
database:
  driver: sqlite
  dsn: /tmp/other.db
bus:
  url: redis://localhost:6379/0
funcs:
  starlark_timeout: 5s
schema_dir: ./schemas
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Database.DSN != "/tmp/other.db" {
		t.Errorf("dsn = %s", cfg.Database.DSN)
	}
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("unset fields lost their defaults: max_open_conns = %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Bus.URL != "redis://localhost:6379/0" {
		t.Errorf("bus url = %s", cfg.Bus.URL)
	}
	if cfg.Funcs.StarlarkTimeout != 5*time.Second {
		t.Errorf("starlark timeout = %s", cfg.Funcs.StarlarkTimeout)
	}
	if cfg.SchemaDir != "./schemas" {
		t.Errorf("schema dir = %s", cfg.SchemaDir)
	}
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	t.Setenv(EnvDatabaseDSN, "")
	t.Setenv(EnvBusURL, "")

	tests := []struct {
		name    string
		content string
	}{
		{"unknown driver", "database:\n  driver: mysql\n  dsn: x\n"},
		{"empty dsn", "database:\n  driver: sqlite\n  dsn: \"\"\n"},
		{"bad log level", "telemetry:\n  service_name: si\n  service_version: dev\n  logging:\n    level: loud\n    format: console\n"},
		{"bad yaml", "database: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "si.yaml", tt.content)
			if _, err := LoadFile(path); err == nil {
				t.Errorf("expected an error")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvDatabaseDSN: "postgres://si:si@localhost:5432/si",
		EnvBusURL:      "mqtt://localhost:1883",
	}
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	if cfg.Database.Driver != string(stores.DialectPostgres) {
		t.Errorf("driver = %s, want postgres for a postgres DSN", cfg.Database.Driver)
	}
	if cfg.Bus.URL != "mqtt://localhost:1883" {
		t.Errorf("bus url = %s", cfg.Bus.URL)
	}

	sc := cfg.StoreConfig()
	if sc.Driver != stores.DialectPostgres || sc.DSN != env[EnvDatabaseDSN] {
		t.Errorf("store config = %+v", sc)
	}
}

const dockerImageCUE = `
schemas: docker_image: {
	props: [
		{name: "image", kind: "string", default: "nginx"},
		{name: "ports", kind: "array", entry: {kind: "string"}},
		{name: "env", kind: "map", entry: {name: "var", kind: "string"}},
	]
	validations: [{prop: "/root/domain/image", expected: "nginx"}]
	codeGeneration: [{title: "YAML", func: "si:generateYAML"}]
}
`

func TestLoadInline(t *testing.T) {
	parsed := NewDefinitionLoader().LoadInline(dockerImageCUE)
	if err := parsed.Err(); err != nil {
		t.Fatalf("LoadInline failed: %v", err)
	}
	if len(parsed.Definitions) != 1 {
		t.Fatalf("definitions = %d, want 1", len(parsed.Definitions))
	}
	def := parsed.Definitions[0]
	if def.Name != "docker_image" {
		t.Errorf("name = %s, want the field label", def.Name)
	}
	if len(def.Props) != 3 || def.Props[0].Default != "nginx" {
		t.Fatalf("props = %+v", def.Props)
	}
	if def.Props[1].Entry == nil || def.Props[1].Entry.Name != "entry" {
		t.Errorf("unnamed entry = %+v, want the default name", def.Props[1].Entry)
	}
	if def.Props[2].Entry.Name != "var" {
		t.Errorf("named entry = %s", def.Props[2].Entry.Name)
	}
	if len(def.Validations) != 1 || len(def.CodeGeneration) != 1 {
		t.Errorf("passes = %+v / %+v", def.Validations, def.CodeGeneration)
	}
}

func TestLoadInlineRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", `schemas: {`, ""},
		{"unknown kind", `schemas: a: props: [{name: "x", kind: "float"}]`, ""},
		{"unknown field", `schemas: a: colour: "blue"`, ""},
		{"bad pointer", `schemas: a: validations: [{prop: "domain/x", expected: "y"}]`, ""},
		{"children on string", `schemas: a: props: [{name: "x", kind: "string", children: [{name: "y", kind: "string"}]}]`, "only object props"},
		{"map without entry", `schemas: a: props: [{name: "x", kind: "map"}]`, "need an entry"},
		{"duplicate", `schemas: a: props: [{name: "x", kind: "string"}, {name: "x", kind: "integer"}]`, "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := NewDefinitionLoader().LoadInline(tt.content)
			err := parsed.Err()
			if err == nil {
				t.Fatalf("expected errors, got definitions %+v", parsed.Definitions)
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want %q", err, tt.want)
			}
			if len(parsed.Definitions) != 0 {
				t.Errorf("invalid definitions were kept: %+v", parsed.Definitions)
			}
		})
	}
}

func TestLoadFilesUnify(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.cue", `schemas: svc: props: [{name: "image", kind: "string"}]`)
	b := writeFile(t, dir, "b.cue", `schemas: svc: kind: "concrete"
schemas: other: {}`)

	parsed, err := NewDefinitionLoader().Load([]string{a, b})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := parsed.Err(); err != nil {
		t.Fatalf("Load reported errors: %v", err)
	}
	if len(parsed.Definitions) != 2 || parsed.Definitions[0].Name != "other" {
		t.Fatalf("definitions = %+v, want other and svc", parsed.Definitions)
	}
	svc := parsed.Definitions[1]
	if svc.Kind != schema.KindConcrete || len(svc.Props) != 1 {
		t.Errorf("svc = %+v", svc)
	}
	if len(parsed.SourceFiles) != 2 {
		t.Errorf("source files = %v", parsed.SourceFiles)
	}

	if _, err := NewDefinitionLoader().Load([]string{filepath.Join(dir, "missing.cue")}); err == nil {
		t.Errorf("expected an error for a missing source")
	}
}

func TestRegistryValidateAgainstSchema(t *testing.T) {
	sr := NewSchemaRegistry()
	if names := sr.ListSchemas(); len(names) != 1 || names[0] != "Definition" {
		t.Fatalf("schemas = %v", names)
	}
	if err := sr.RegisterSchema("Port", `#Port: int & >0 & <65536`); err != nil {
		t.Fatalf("RegisterSchema failed: %v", err)
	}
	if err := sr.ValidateAgainstSchema("Port", 8080); err != nil {
		t.Errorf("8080 rejected: %v", err)
	}
	if err := sr.ValidateAgainstSchema("Port", 70000); err == nil {
		t.Errorf("70000 accepted")
	}
	if err := sr.RegisterSchema("Missing", `#Other: string`); err == nil {
		t.Errorf("expected an error for a source without #Missing")
	}
	if err := sr.ValidateAgainstSchema("Nope", 1); err == nil {
		t.Errorf("expected an error for an unknown schema")
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "svc.cue", `schemas: svc: {}`)

	w := NewWatcher(dir, nil, nil)
	w.SetDelay(20 * time.Millisecond)

	parsed, err := w.Reload()
	if err != nil || len(parsed.Definitions) != 1 {
		t.Fatalf("Reload = %+v, %v", parsed, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan *ParsedDefinitions, 4)
	if err := w.Watch(ctx, func(_ context.Context, p *ParsedDefinitions) error {
		reloaded <- p
		return nil
	}); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Stop()

	writeFile(t, dir, "db.cue", `schemas: db: {}`)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case p := <-reloaded:
			// A reload may land between the create and the write.
			if len(p.Definitions) == 2 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for a reload with both definitions")
		}
	}
}
