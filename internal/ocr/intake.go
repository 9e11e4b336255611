// Package ocr turns an extraction collaborator's payload into editor
// items. Payloads are validated against a JSON Schema before anything
// reaches a session.
package ocr

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"splitledger/internal/core"
)

const extractionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["extracted_name", "quantity", "price"],
    "properties": {
      "extracted_name": {"type": "string", "minLength": 1},
      "friendly_name": {"type": "string"},
      "quantity": {"type": "integer", "minimum": 0},
      "price": {"type": "number", "minimum": 0},
      "discount": {"type": "number", "minimum": 0}
    },
    "additionalProperties": true
  }
}`

var schema = jsonschema.MustCompileString("extracted-items.json", extractionSchema)

// Decode validates the raw extraction payload and decodes it. Payloads
// failing validation are rejected whole; no partial intake.
func Decode(raw []byte) ([]core.ExtractedItem, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse extraction payload: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("validate extraction payload: %w", err)
	}
	var items []core.ExtractedItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode extraction payload: %w", err)
	}
	return items, nil
}

// ToItems maps extracted rows to editor items. The friendly name
// defaults to the extracted name; numeric fields carry over as text
// under the editor's zero-fallback policy.
func ToItems(extracted []core.ExtractedItem) []core.Item {
	items := make([]core.Item, 0, len(extracted))
	for _, e := range extracted {
		friendly := e.FriendlyName
		if friendly == "" {
			friendly = e.ExtractedName
		}
		items = append(items, core.Item{
			OriginalName: e.ExtractedName,
			FriendlyName: friendly,
			Quantity:     strconv.Itoa(e.Quantity),
			Price:        strconv.FormatFloat(e.Price, 'f', -1, 64),
			Discount:     formatOptional(e.Discount),
		})
	}
	return items
}

func formatOptional(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
