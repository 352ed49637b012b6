// Package config loads the engine configuration and schema definitions.
//
// The engine configuration is a YAML file decoded over DefaultConfig. SI_DATABASE_DSN
// and SI_BUS_URL override the file, and the result is checked with validator struct
// tags:
//
//	database:
//	  driver: postgres
//	  dsn: postgres://si:si@localhost:5432/si
//	bus:
//	  url: redis://localhost:6379/0
//	funcs:
//	  starlark_timeout: 10s
//	schema_dir: ./schemas
//
// Schema definitions are written in CUE under a top-level "schemas" field. Each entry
// is unified with the built-in #Definition schema held by SchemaRegistry before it is
// decoded into a schema.Definition:
//
//	schemas: docker_image: {
//		props: [
//			{name: "image", kind: "string", default: "nginx"},
//			{name: "ports", kind: "array", entry: {kind: "string"}},
//		]
//		validations: [{prop: "/root/domain/image", expected: "nginx"}]
//		codeGeneration: [{title: "YAML", func: "si:generateYAML"}]
//	}
//
// Watcher reloads a definitions directory when its .cue files change.
package config
