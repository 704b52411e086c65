package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// compileSchema turns a tool's input schema into a JSON Schema validator.
// A nil schema compiles to nil, which accepts anything.
func compileSchema(tool string, schema *mcp.ToolInputSchema) (*jsonschema.Schema, error) {
	if schema == nil {
		return nil, nil
	}
	args := mcp.ToolArgumentsSchema(*schema)
	if args.Type == "" {
		args.Type = "object"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("tool %s: encode schema: %w", tool, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("tool %s: decode schema: %w", tool, err)
	}

	url := tool + ".schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("tool %s: schema: %w", tool, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tool %s: compile schema: %w", tool, err)
	}
	return sch, nil
}

// Validate checks params against schema. A nil schema accepts anything.
func Validate(tool string, schema *mcp.ToolInputSchema, params map[string]any) error {
	sch, err := compileSchema(tool, schema)
	if err != nil {
		return err
	}
	return validate(tool, sch, params)
}

func validate(tool string, sch *jsonschema.Schema, params map[string]any) error {
	if sch == nil {
		return nil
	}
	// Round-trip through JSON so Go values are checked the way a remote
	// server would see them.
	raw, err := json.Marshal(params)
	if err != nil {
		return &ValidationError{Tool: tool, Reason: err.Error()}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &ValidationError{Tool: tool, Reason: err.Error()}
	}

	err = sch.Validate(inst)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ValidationError{Tool: tool, Reason: err.Error()}
	}
	return toValidationError(tool, ve)
}

// toValidationError reports the first leaf failure. Field is the slash
// separated path of the offending parameter.
func toValidationError(tool string, ve *jsonschema.ValidationError) *ValidationError {
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	path := append([]string(nil), leaf.InstanceLocation...)
	if req, ok := leaf.ErrorKind.(*kind.Required); ok && len(req.Missing) > 0 {
		path = append(path, req.Missing[0])
		return &ValidationError{Tool: tool, Field: strings.Join(path, "/"), Reason: "required"}
	}
	return &ValidationError{
		Tool:   tool,
		Field:  strings.Join(path, "/"),
		Reason: leaf.ErrorKind.LocalizedString(printer),
	}
}
