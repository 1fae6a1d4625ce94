// SPDX-License-Identifier: Apache-2.0

// Package jsonout validates the shape of the JSON every cmd/ subcommand
// emits under --format json against the envelope spec.md §6.6 describes:
// either a {status, ...fields, warnings: [str]} success payload or an
// {error, ...} failure payload.
package jsonout

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"sigs.k8s.io/yaml"
)

//go:embed schema.json
var envelopeSchemaJSON []byte

var envelopeSchema = compileEnvelopeSchema()

func compileEnvelopeSchema() *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal(envelopeSchemaJSON, &doc); err != nil {
		panic(fmt.Sprintf("jsonout: embedded schema.json is invalid JSON: %v", err))
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("envelope.json", doc); err != nil {
		panic(fmt.Sprintf("jsonout: adding embedded schema resource: %v", err))
	}
	sch, err := c.Compile("envelope.json")
	if err != nil {
		panic(fmt.Sprintf("jsonout: compiling embedded schema: %v", err))
	}
	return sch
}

// Validate decodes payload and checks it against the command output
// envelope schema, returning a descriptive error on mismatch. Callers
// run this before writing a --format json response so a malformed
// payload is caught at the source rather than shipped to the caller.
func Validate(payload []byte) error {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return fmt.Errorf("jsonout: payload is not valid JSON: %w", err)
	}
	if err := envelopeSchema.Validate(v); err != nil {
		return fmt.Errorf("jsonout: payload does not match the command output envelope: %w", err)
	}
	return nil
}

// MarshalValidated marshals v to JSON and validates the result against
// the envelope schema before returning it, so a caller building a
// --format json response can't accidentally emit a shape the schema
// rejects.
func MarshalValidated(v any) ([]byte, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := Validate(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// MarshalStructured renders v as JSON or YAML depending on format ("json"
// or anything else defaults to JSON), always validating the underlying
// payload against the envelope schema first. YAML output is produced by
// converting the validated JSON rather than marshaling v directly, so it
// round-trips the same json tags the schema already validates instead of
// requiring a parallel set of yaml tags on every payload type.
func MarshalStructured(format string, v any) ([]byte, error) {
	payload, err := MarshalValidated(v)
	if err != nil {
		return nil, err
	}
	if format != "yaml" {
		return payload, nil
	}
	out, err := yaml.JSONToYAML(payload)
	if err != nil {
		return nil, fmt.Errorf("jsonout: converting payload to YAML: %w", err)
	}
	return out, nil
}
