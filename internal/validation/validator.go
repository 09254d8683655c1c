// Package validation adapts an external JSON Schema capability. The engine
// itself is an external collaborator; the coordinator only depends on the
// Validate(name, payload) contract plus the vendor extension namespace rule.
package validation

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrSchemaInvalid is the kind for payloads that violate their schema
var ErrSchemaInvalid = errors.New("schema validation failed")

// VendorKeyPattern constrains the keys admitted under ext/extensions blocks
var VendorKeyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,63}$`)

// Validator validates a named payload shape
type Validator interface {
	Validate(name string, payload map[string]interface{}) error
}

// Passthrough is the default validator: it enforces only the structural
// vendor extension rule and accepts everything else, leaving full schema
// checking to an external deployment concern.
type Passthrough struct{}

// Validate applies the vendor extension namespace rule recursively
func (Passthrough) Validate(name string, payload map[string]interface{}) error {
	if err := checkExtensions(payload); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaInvalid, name, err)
	}
	return nil
}

func checkExtensions(node map[string]interface{}) error {
	for key, value := range node {
		if key == "ext" || key == "extensions" {
			ext, ok := value.(map[string]interface{})
			if !ok {
				if value == nil {
					continue
				}
				return fmt.Errorf("%s must be an object", key)
			}
			for vendor, entry := range ext {
				if !VendorKeyPattern.MatchString(vendor) {
					return fmt.Errorf("invalid vendor key %q under %s", vendor, key)
				}
				if _, ok := entry.(map[string]interface{}); !ok {
					return fmt.Errorf("vendor entry %q under %s must be an object", vendor, key)
				}
			}
			continue
		}
		if child, ok := value.(map[string]interface{}); ok {
			if err := checkExtensions(child); err != nil {
				return err
			}
		}
	}
	return nil
}
