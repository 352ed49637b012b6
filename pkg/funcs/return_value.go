package funcs

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/engine"
)

// FuncBindingReturnValue is the recorded result of one binding execution. A nil Value
// means the function produced "unset".
type FuncBindingReturnValue struct {
	dal.Standard
	FuncID           string          `json:"func_id"`
	FuncBindingID    string          `json:"func_binding_id"`
	UnprocessedValue json.RawMessage `json:"unprocessed_value"`
	Value            json.RawMessage `json:"value"`
	Output           []string        `json:"output"`
}

var returnValueTable = dal.Table[FuncBindingReturnValue]{
	Name:    "func_binding_return_values",
	Kind:    "func_binding_return_value",
	Columns: []string{"func_id", "func_binding_id", "unprocessed_value", "value", "output"},
	Std:     func(rv *FuncBindingReturnValue) *dal.Standard { return &rv.Standard },
	Values: func(rv *FuncBindingReturnValue) []any {
		output, _ := json.Marshal(rv.Output)
		return []any{rv.FuncID, rv.FuncBindingID, nullText(rv.UnprocessedValue), nullText(rv.Value), string(output)}
	},
	Dest: func(rv *FuncBindingReturnValue) []any {
		return []any{&rv.FuncID, &rv.FuncBindingID, (*dal.JSONText)(&rv.UnprocessedValue), (*dal.JSONText)(&rv.Value), (*outputText)(&rv.Output)}
	},
}

type outputText []string

func (o *outputText) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*o = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into output", src)
	}
	return json.Unmarshal(raw, (*[]string)(o))
}

// nullJSON maps a JSON null to a nil message so unset is stored as SQL NULL.
func nullJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return raw
}

func nullText(raw json.RawMessage) sql.NullString {
	if raw == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

// GetReturnValue returns the return value with id.
func GetReturnValue(dc *dal.Context, id string) (*FuncBindingReturnValue, error) {
	return returnValueTable.Get(dc, id)
}

// FindReturnValueForBinding returns the most recent result recorded for a binding.
func FindReturnValueForBinding(dc *dal.Context, bindingID string) (*FuncBindingReturnValue, error) {
	rvs, err := returnValueTable.List(dc, "m.func_binding_id = ? ORDER BY m.created_at DESC", bindingID)
	if err != nil {
		return nil, err
	}
	if len(rvs) == 0 {
		return nil, engine.NewNotFoundError("func_binding_return_value", bindingID).
			WithDetail("func_binding_id", bindingID)
	}
	return rvs[0], nil
}

// IsUnset reports whether the function produced no value.
func (rv *FuncBindingReturnValue) IsUnset() bool {
	return rv == nil || rv.Value == nil
}

// Decode unmarshals the value into v.
func (rv *FuncBindingReturnValue) Decode(v any) error {
	if rv.IsUnset() {
		return fmt.Errorf("return value %s is unset", rv.ID)
	}
	return json.Unmarshal(rv.Value, v)
}
