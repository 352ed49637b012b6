package funcs

// ValidationError is one failed validation, as returned by validation functions.
type ValidationError struct {
	Message string  `json:"message"`
	Level   string  `json:"level,omitempty"`
	Kind    string  `json:"kind,omitempty"`
	Link    *string `json:"link"`
}

// QualificationResult is the result shape of qualification functions.
type QualificationResult struct {
	Qualified bool     `json:"qualified"`
	Message   string   `json:"message,omitempty"`
	Output    []string `json:"output,omitempty"`
}

// CodeGenerated is the result shape of code generation functions.
type CodeGenerated struct {
	Format string `json:"format"`
	Code   string `json:"code"`
}
