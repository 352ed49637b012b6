package funcs_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/funcs"
)

// echoWasm exports memory, malloc (always 1024), free (no-op) and echo, which returns
// its input unchanged.
var echoWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type section: (i32)->i32, (i32)->(), (i32,i32)->i64
	0x01, 0x10, 0x03,
	0x60, 0x01, 0x7f, 0x01, 0x7f,
	0x60, 0x01, 0x7f, 0x00,
	0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7e,
	// function section
	0x03, 0x04, 0x03, 0x00, 0x01, 0x02,
	// memory section: one page
	0x05, 0x03, 0x01, 0x00, 0x01,
	// export section
	0x07, 0x21, 0x04,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x06, 'm', 'a', 'l', 'l', 'o', 'c', 0x00, 0x00,
	0x04, 'f', 'r', 'e', 'e', 0x00, 0x01,
	0x04, 'e', 'c', 'h', 'o', 0x00, 0x02,
	// code section
	0x0a, 0x17, 0x03,
	0x05, 0x00, 0x41, 0x80, 0x08, 0x0b,
	0x02, 0x00, 0x0b,
	0x0c, 0x00, 0x20, 0x00, 0xad, 0x42, 0x20, 0x86, 0x20, 0x01, 0xad, 0x84, 0x0b,
}

func execute(t *testing.T, b funcs.Backend, kind funcs.BackendKind, args string) (*engine.ExecutionResult, error) {
	t.Helper()
	return b.Execute(context.Background(), engine.ExecutionRequest{
		FuncName:    "test",
		BackendKind: string(kind),
		Args:        json.RawMessage(args),
	})
}

func TestBuiltinBackend(t *testing.T) {
	tests := []struct {
		name    string
		kind    funcs.BackendKind
		args    string
		want    string
		wantErr bool
	}{
		{name: "string", kind: funcs.BackendString, args: `{"value":"nginx"}`, want: `"nginx"`},
		{name: "string mismatch", kind: funcs.BackendString, args: `{"value":1}`, wantErr: true},
		{name: "integer", kind: funcs.BackendInteger, args: `{"value":8080}`, want: `8080`},
		{name: "integer float", kind: funcs.BackendInteger, args: `{"value":1.5}`, wantErr: true},
		{name: "integer null", kind: funcs.BackendInteger, args: `{"value":null}`, wantErr: true},
		{name: "boolean", kind: funcs.BackendBoolean, args: `{"value":true}`, want: `true`},
		{name: "boolean string", kind: funcs.BackendBoolean, args: `{"value":"true"}`, wantErr: true},
		{name: "array", kind: funcs.BackendArray, args: `{"value":[]}`, want: `[]`},
		{name: "map", kind: funcs.BackendMap, args: `{"value":{}}`, want: `{}`},
		{name: "object", kind: funcs.BackendPropObject, args: `{"value":{}}`, want: `{}`},
		{name: "object array", kind: funcs.BackendPropObject, args: `{"value":[]}`, wantErr: true},
		{name: "unset", kind: funcs.BackendUnset, args: `null`, want: ``},
		{name: "validate ok", kind: funcs.BackendValidateStringValue, args: `{"value":"a","expected":"a"}`, want: `[]`},
		{name: "unknown", kind: funcs.BackendKind("python"), args: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := execute(t, funcs.BuiltinBackend{}, tt.kind, tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := string(res.Value); got != tt.want {
				t.Errorf("value = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestValidateStringValueMismatch(t *testing.T) {
	res, err := execute(t, funcs.BuiltinBackend{}, funcs.BackendValidateStringValue, `{"value":"b","expected":"a"}`)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	var errs []funcs.ValidationError
	if err := json.Unmarshal(res.Value, &errs); err != nil {
		t.Fatalf("invalid result: %v", err)
	}
	if len(errs) != 1 || errs[0].Kind != "validateStringValue" {
		t.Errorf("unexpected validation errors: %+v", errs)
	}
}

func TestGenerateCode(t *testing.T) {
	args := `{"component":{"properties":{"si":{"name":"web"},"domain":{"port":80}}}}`

	for _, tc := range []struct {
		kind   funcs.BackendKind
		format string
		want   string
	}{
		{funcs.BackendGenerateYAML, "yaml", "name: web"},
		{funcs.BackendGenerateJSON, "json", `"name": "web"`},
	} {
		res, err := execute(t, funcs.BuiltinBackend{}, tc.kind, args)
		if err != nil {
			t.Fatalf("%s: Execute failed: %v", tc.kind, err)
		}
		var code funcs.CodeGenerated
		if err := json.Unmarshal(res.Value, &code); err != nil {
			t.Fatalf("%s: invalid result: %v", tc.kind, err)
		}
		if code.Format != tc.format {
			t.Errorf("%s: format = %s", tc.kind, code.Format)
		}
		if !strings.Contains(code.Code, tc.want) {
			t.Errorf("%s: code %q missing %q", tc.kind, code.Code, tc.want)
		}
	}
}

func TestStarlarkBackend(t *testing.T) {
	b := funcs.NewStarlarkBackend(time.Second)
	res, err := b.Execute(context.Background(), engine.ExecutionRequest{
		FuncName:    "double",
		BackendKind: string(funcs.BackendStarlark),
		Code: `
def main(input):
    print("doubling")
    return {"double": input["value"] * 2, "tags": ("a", "b")}
`,
		Args: json.RawMessage(`{"value":2}`),
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := string(res.Value); got != `{"double":4,"tags":["a","b"]}` {
		t.Errorf("value = %s", got)
	}
	if len(res.Output) != 1 || res.Output[0] != "doubling" {
		t.Errorf("output = %v", res.Output)
	}
}

func TestStarlarkBackendErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler string
		code    string
		kind    string
	}{
		{name: "syntax", code: "def main(:", kind: "StarlarkError"},
		{name: "missing handler", handler: "qualify", code: "def main(input):\n    return 1\n", kind: "StarlarkError"},
		{name: "runtime", code: "def main(input):\n    return input[\"missing\"]\n", kind: "StarlarkError"},
		{name: "timeout", code: "def main(input):\n    for i in range(1000000000):\n        pass\n", kind: "Timeout"},
	}

	b := funcs.NewStarlarkBackend(50 * time.Millisecond)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Execute(context.Background(), engine.ExecutionRequest{
				FuncName: "broken",
				Handler:  tt.handler,
				Code:     tt.code,
				Args:     json.RawMessage(`{}`),
			})
			failure, ok := err.(*engine.ExecutionFailure)
			if !ok {
				t.Fatalf("expected ExecutionFailure, got %v", err)
			}
			if failure.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", failure.Kind, tt.kind)
			}
		})
	}
}

func TestRegoBackend(t *testing.T) {
	code := `package si.qualification.port

default result := {"qualified": false}

result := {"qualified": true, "message": "port is set"} if {
	print("port", input.component.data.properties.domain.port)
	input.component.data.properties.domain.port > 0
}
`
	b := funcs.NewRegoBackend("")

	tests := []struct {
		name string
		args string
		want bool
	}{
		{name: "qualified", args: `{"component":{"data":{"properties":{"domain":{"port":80}}}}}`, want: true},
		{name: "unqualified", args: `{"component":{"data":{"properties":{"domain":{}}}}}`, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := b.Execute(context.Background(), engine.ExecutionRequest{
				FuncName: "port",
				Code:     code,
				Args:     json.RawMessage(tt.args),
			})
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			var q funcs.QualificationResult
			if err := json.Unmarshal(res.Value, &q); err != nil {
				t.Fatalf("invalid result: %v", err)
			}
			if q.Qualified != tt.want {
				t.Errorf("qualified = %v, want %v", q.Qualified, tt.want)
			}
		})
	}
}

func TestRegoBackendUndefined(t *testing.T) {
	b := funcs.NewRegoBackend("")
	_, err := b.Execute(context.Background(), engine.ExecutionRequest{
		FuncName: "empty",
		Code:     "package si.empty\n\nother := 1\n",
		Args:     json.RawMessage(`{}`),
	})
	failure, ok := err.(*engine.ExecutionFailure)
	if !ok || failure.Kind != "RegoUndefined" {
		t.Fatalf("expected RegoUndefined failure, got %v", err)
	}
}

func TestWasmBackend(t *testing.T) {
	ctx := context.Background()
	b, err := funcs.NewWasmBackend(ctx, funcs.WasmConfig{})
	if err != nil {
		t.Fatalf("NewWasmBackend failed: %v", err)
	}
	defer b.Close(ctx)

	req := engine.ExecutionRequest{
		FuncName: "echo",
		Handler:  "echo",
		Code:     base64.StdEncoding.EncodeToString(echoWasm),
		Args:     json.RawMessage(`{"value":"nginx"}`),
	}
	for i := 0; i < 2; i++ {
		res, err := b.Execute(ctx, req)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if got := string(res.Value); got != `{"value":"nginx"}` {
			t.Errorf("value = %s", got)
		}
	}

	req.Handler = "missing"
	if _, err := b.Execute(ctx, req); err == nil {
		t.Error("expected error for missing export")
	}

	req.Handler = "echo"
	req.Code = "not base64!"
	if _, err := b.Execute(ctx, req); err == nil {
		t.Error("expected error for invalid module encoding")
	}
}

func TestDispatcherRoutes(t *testing.T) {
	ctx := context.Background()
	d, err := funcs.NewDispatcher(ctx, funcs.Config{}, nil)
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	defer d.Close(ctx)

	res, err := d.Execute(ctx, engine.ExecutionRequest{
		FuncName:    funcs.SetString,
		BackendKind: string(funcs.BackendString),
		Args:        json.RawMessage(`{"value":"x"}`),
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if string(res.Value) != `"x"` {
		t.Errorf("value = %s", res.Value)
	}
	if res.Duration <= 0 {
		t.Error("expected execution duration")
	}
}
