package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// buildEnvelopeSchema returns the wire schema for a single-job message as a
// generic map, compiled once at package init.
func buildEnvelopeSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"type":                map[string]any{"type": "string", "minLength": 1},
			"content_ref":         map[string]any{"type": "string"},
			"raw_bytes":           map[string]any{"type": "string"}, // base64
			"content_fingerprint": map[string]any{"type": "string", "minLength": 1},
			"extracted_text":      map[string]any{"type": "string"},
			"text_fingerprint":    map[string]any{"type": "string"},
			"translated_text":     map[string]any{"type": "string"},
			"job_id":              map[string]any{"type": "string", "minLength": 1},
			"is_external_storage": map[string]any{"type": "boolean"},
		},
		"required": []string{"type", "content_fingerprint", "job_id"},
	}
}

func buildBatchSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"job_ids": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items":    map[string]any{"type": "integer"},
			},
		},
		"required": []string{"job_ids"},
	}
}

var (
	envelopeSchema = mustCompile(buildEnvelopeSchema())
	batchSchema    = mustCompile(buildBatchSchema())
)

func mustCompile(schemaMap map[string]any) *jsonschema.Schema {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		panic(fmt.Sprintf("marshal schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		panic(fmt.Sprintf("add schema: %v", err))
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return schema
}

// Message is the result of decoding one queue delivery: exactly one of Env
// or Batch is set.
type Message struct {
	Env   *Envelope
	Batch *Batch
}

// Decode classifies raw queue bytes as a single Envelope or a recovery
// Batch, validating against the wire schema. A non-nil error means the
// message is malformed and belongs on the dead-letter stream.
func Decode(raw []byte) (Message, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return Message{}, fmt.Errorf("decode message: not a JSON object")
	}

	if _, isBatch := obj["job_ids"]; isBatch {
		if err := batchSchema.Validate(v); err != nil {
			return Message{}, fmt.Errorf("batch does not match schema: %w", err)
		}
		var b Batch
		if err := json.Unmarshal(raw, &b); err != nil {
			return Message{}, fmt.Errorf("decode batch: %w", err)
		}
		return Message{Batch: &b}, nil
	}

	if err := envelopeSchema.Validate(v); err != nil {
		return Message{}, fmt.Errorf("envelope does not match schema: %w", err)
	}
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	return Message{Env: &e}, nil
}
