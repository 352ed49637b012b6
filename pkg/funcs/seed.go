package funcs

import (
	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/engine"
)

// Names of the functions seeded by SeedBuiltins.
const (
	SetString            = "si:setString"
	SetInteger           = "si:setInteger"
	SetBoolean           = "si:setBoolean"
	SetArray             = "si:setArray"
	SetMap               = "si:setMap"
	SetPropObject        = "si:setPropObject"
	Unset                = "si:unset"
	ValidateStringValue  = "si:validateStringValue"
	GenerateYAML         = "si:generateYAML"
	GenerateJSON         = "si:generateJSON"
	GenerateEnv          = "si:generateEnv"
	QualificationNameSet = "si:qualificationNameSet"
)

// BuiltinFunc describes a function that ships with the engine.
type BuiltinFunc struct {
	Name        string
	Kind        BackendKind
	Response    ResponseType
	Handler     string
	Code        string
	Description string
}

const generateEnvCode = `
def main(input):
    props = input["component"].get("properties") or {}
    domain = props.get("domain") or {}
    lines = []
    for key in sorted(domain.keys()):
        value = domain[key]
        if type(value) in ("string", "int", "bool"):
            lines.append("%s=%s" % (key.upper(), value))
    return {"format": "env", "code": "\n".join(lines)}
`

const qualificationNameSetCode = `package si.qualification.name

default result := {"qualified": false, "message": "component has no name"}

result := {"qualified": true, "message": "component is named"} if {
	name := input.component.data.properties.si.name
	is_string(name)
	name != ""
}
`

// Builtins lists the functions seeded into the universal tenancy.
var Builtins = []BuiltinFunc{
	{Name: SetString, Kind: BackendString, Response: ResponseString, Description: "Sets a string value"},
	{Name: SetInteger, Kind: BackendInteger, Response: ResponseInteger, Description: "Sets an integer value"},
	{Name: SetBoolean, Kind: BackendBoolean, Response: ResponseBoolean, Description: "Sets a boolean value"},
	{Name: SetArray, Kind: BackendArray, Response: ResponseArray, Description: "Sets an array value"},
	{Name: SetMap, Kind: BackendMap, Response: ResponseMap, Description: "Sets a map value"},
	{Name: SetPropObject, Kind: BackendPropObject, Response: ResponsePropObject, Description: "Sets an object value"},
	{Name: Unset, Kind: BackendUnset, Response: ResponseUnset, Description: "Unsets a value"},
	{Name: ValidateStringValue, Kind: BackendValidateStringValue, Response: ResponseValidation, Description: "Checks a string value against an expected one"},
	{Name: GenerateYAML, Kind: BackendGenerateYAML, Response: ResponseCodeGeneration, Description: "Renders component properties as YAML"},
	{Name: GenerateJSON, Kind: BackendGenerateJSON, Response: ResponseCodeGeneration, Description: "Renders component properties as JSON"},
	{
		Name:        GenerateEnv,
		Kind:        BackendStarlark,
		Response:    ResponseCodeGeneration,
		Handler:     DefaultStarlarkHandler,
		Code:        generateEnvCode,
		Description: "Renders scalar domain properties as KEY=value lines",
	},
	{
		Name:        QualificationNameSet,
		Kind:        BackendRego,
		Response:    ResponseQualification,
		Handler:     DefaultRegoRule,
		Code:        qualificationNameSetCode,
		Description: "Qualifies components that have a name",
	},
}

// SeedBuiltins creates every missing builtin function under the universal tenancy.
// Existing functions are left untouched.
func SeedBuiltins(dc *dal.Context) error {
	udc := dc.Universal()
	for _, b := range Builtins {
		_, err := FindByName(udc, b.Name)
		if err == nil {
			continue
		}
		if !engine.IsNotFound(err) {
			return err
		}

		f := &Func{
			Standard:     dal.NewStandard(udc),
			Name:         b.Name,
			BackendKind:  b.Kind,
			ResponseType: b.Response,
			Handler:      b.Handler,
			Code:         b.Code,
			Description:  b.Description,
		}
		if err := f.Save(udc); err != nil {
			return err
		}
	}
	udc.Log().Debugf("seeded %d builtin functions", len(Builtins))
	return nil
}
