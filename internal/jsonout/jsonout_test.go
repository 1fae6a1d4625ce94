// SPDX-License-Identifier: Apache-2.0

package jsonout_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fraiseql/confiture/internal/jsonout"
)

func TestValidateAcceptsStatusEnvelope(t *testing.T) {
	assert.NoError(t, jsonout.Validate([]byte(`{"status":"ok","warnings":[]}`)))
}

func TestValidateAcceptsErrorEnvelope(t *testing.T) {
	assert.NoError(t, jsonout.Validate([]byte(`{"error":"boom","code":"MIGR_106"}`)))
}

func TestValidateRejectsEnvelopeWithNeitherStatusNorError(t *testing.T) {
	assert.Error(t, jsonout.Validate([]byte(`{"foo":"bar"}`)))
}

func TestValidateRejectsMalformedJSON(t *testing.T) {
	assert.Error(t, jsonout.Validate([]byte(`not json`)))
}

func TestMarshalValidatedRoundTrips(t *testing.T) {
	payload, err := jsonout.MarshalValidated(map[string]any{"status": "ok", "warnings": []string{"w1"}})
	assert.NoError(t, err)
	assert.Contains(t, string(payload), "\"status\"")
}

func TestMarshalStructuredDefaultsToJSON(t *testing.T) {
	payload, err := jsonout.MarshalStructured("json", map[string]any{"status": "ok", "warnings": []string{}})
	assert.NoError(t, err)
	assert.Contains(t, string(payload), "\"status\": \"ok\"")
}

func TestMarshalStructuredEmitsYAML(t *testing.T) {
	payload, err := jsonout.MarshalStructured("yaml", map[string]any{"status": "ok", "applied": []string{"001", "002"}})
	assert.NoError(t, err)
	assert.Contains(t, string(payload), "status: ok")
	assert.Contains(t, string(payload), "- \"001\"")
}

func TestMarshalStructuredRejectsInvalidEnvelopeRegardlessOfFormat(t *testing.T) {
	_, err := jsonout.MarshalStructured("yaml", map[string]any{"neither_status_nor_error": true})
	assert.Error(t, err)
}
