package validation

import (
	"errors"
	"testing"
)

func TestPassthroughAcceptsPlainPayloads(t *testing.T) {
	v := Passthrough{}
	payload := map[string]interface{}{
		"context_id": "ctx_1",
		"query_text": "laptops",
	}
	if err := v.Validate("context_request", payload); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestVendorExtensionRule(t *testing.T) {
	v := Passthrough{}

	tests := []struct {
		name    string
		payload map[string]interface{}
		ok      bool
	}{
		{
			name: "valid vendor key",
			payload: map[string]interface{}{
				"extensions": map[string]interface{}{
					"acme-corp": map[string]interface{}{"campaign": "q3"},
				},
			},
			ok: true,
		},
		{
			name: "uppercase vendor key rejected",
			payload: map[string]interface{}{
				"extensions": map[string]interface{}{
					"AcmeCorp": map[string]interface{}{},
				},
			},
			ok: false,
		},
		{
			name: "single-char vendor key rejected",
			payload: map[string]interface{}{
				"ext": map[string]interface{}{
					"a": map[string]interface{}{},
				},
			},
			ok: false,
		},
		{
			name: "non-object vendor entry rejected",
			payload: map[string]interface{}{
				"ext": map[string]interface{}{
					"acme": "just a string",
				},
			},
			ok: false,
		},
		{
			name: "nested ext blocks are checked",
			payload: map[string]interface{}{
				"intent": map[string]interface{}{
					"ext": map[string]interface{}{
						"-bad": map[string]interface{}{},
					},
				},
			},
			ok: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate("context_request", tt.payload)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrSchemaInvalid) {
				t.Errorf("expected ErrSchemaInvalid, got %v", err)
			}
		})
	}
}
