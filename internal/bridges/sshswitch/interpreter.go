package sshswitch

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// Interpreter maps a raw status line to a normalised state value.
//
// Implementations must not panic and have no error return: on any internal
// failure they return StateUnknown.
type Interpreter interface {
	Interpret(raw string) string
}

// InterpreterFunc adapts a plain function to the Interpreter interface.
type InterpreterFunc func(raw string) string

// Interpret calls f(raw), returning StateUnknown if f panics.
func (f InterpreterFunc) Interpret(raw string) (value string) {
	defer func() {
		if recover() != nil {
			value = StateUnknown
		}
	}()
	return f(raw)
}

// templateData is the dot value available inside a value template.
type templateData struct {
	// Value is the raw status line.
	Value string

	// ValueJSON is Value decoded as JSON, or nil when Value is not JSON.
	ValueJSON any
}

// TemplateInterpreter renders the status line through a text/template.
//
// The template sees {{.Value}} (raw line) and {{.ValueJSON}} (the decoded
// JSON document, if the line is one). Missing keys are rendering errors, so
// {{.ValueJSON.state}} on non-JSON output yields StateUnknown rather than
// "<no value>".
//
// Thread Safety: Interpret is safe for concurrent use.
type TemplateInterpreter struct {
	source string
	tmpl   *template.Template
}

// NewTemplateInterpreter parses src.
//
// Parameters:
//   - src: Go text/template source, e.g. `{{if eq .Value "1"}}on{{else}}off{{end}}`
//
// Returns:
//   - *TemplateInterpreter: Ready for use
//   - error: If src does not parse
func NewTemplateInterpreter(src string) (*TemplateInterpreter, error) {
	tmpl, err := template.New("value_template").
		Option("missingkey=error").
		Funcs(templateFuncs).
		Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parsing value template: %w", err)
	}
	return &TemplateInterpreter{source: src, tmpl: tmpl}, nil
}

// Interpret renders the template for raw. Rendering errors and panics both
// yield StateUnknown.
func (t *TemplateInterpreter) Interpret(raw string) (value string) {
	defer func() {
		if recover() != nil {
			value = StateUnknown
		}
	}()

	data := templateData{Value: raw}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		data.ValueJSON = decoded
	}

	var sb strings.Builder
	if err := t.tmpl.Execute(&sb, data); err != nil {
		return StateUnknown
	}
	return strings.TrimSpace(sb.String())
}

// String returns the template source.
func (t *TemplateInterpreter) String() string {
	return t.source
}

// templateFuncs are the helpers available to value templates.
var templateFuncs = template.FuncMap{
	"lower":     strings.ToLower,
	"upper":     strings.ToUpper,
	"trim":      strings.TrimSpace,
	"hasPrefix": strings.HasPrefix,
	"contains":  strings.Contains,
}

// OnStates returns a mapping that treats any of values as "on".
// With no values it falls back to the single value StateOn.
func OnStates(values ...string) func(string) bool {
	if len(values) == 0 {
		values = []string{StateOn}
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return func(state string) bool {
		_, ok := set[state]
		return ok
	}
}
