package api

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Request schemas. Bodies are validated before being mapped onto typed
// structs so malformed input is rejected with a stable message.

const erasureRequestSchema = `{
	"type": "object",
	"required": ["requestId", "userId", "grounds", "confirmation"],
	"properties": {
		"requestId":    {"type": "string", "minLength": 1},
		"userId":       {"type": "string", "minLength": 1},
		"grounds":      {"type": "string", "minLength": 1},
		"confirmation": {"type": "string", "minLength": 1}
	}
}`

const createEventSchema = `{
	"type": "object",
	"required": ["eventType", "severity", "sourceSystem", "payload"],
	"properties": {
		"eventType":       {"type": "string", "minLength": 1},
		"severity":        {"type": "string", "enum": ["L1", "L2", "L3", "L4"]},
		"sourceSystem":    {"type": "string", "minLength": 1},
		"regulatoryTags":  {"type": "array", "items": {"type": "string"}},
		"articles":        {"type": "array", "items": {"type": "string"}},
		"payload":         {"type": "object"},
		"correlationId":   {"type": "string"},
		"causationId":     {"type": "string"},
		"sourceIp":        {"type": "string"},
		"sourceUserAgent": {"type": "string"}
	}
}`

var (
	erasureSchema  = mustCompileSchema("erasure-request", erasureRequestSchema)
	evidenceSchema = mustCompileSchema("create-event", createEventSchema)
)

func mustCompileSchema(name, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://veridion.schemas.local/api/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("schema %s load failed: %v", name, err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("schema %s compile failed: %v", name, err))
	}
	return compiled
}
