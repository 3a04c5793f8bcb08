package graph

import "github.com/xeipuuv/gojsonschema"

// definitionSchema is the structural contract for definition payloads.
// Graph integrity (duplicate ids, dangling edges, start nodes) is checked by
// the compiler itself; the schema only rejects payloads that are not even
// shaped like a definition.
const definitionSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["workflow_id", "version"],
	"properties": {
		"workflow_id": {"type": "string", "minLength": 1},
		"version": {"type": "integer", "minimum": 1},
		"name": {"type": "string"},
		"description": {"type": "string"},
		"execution": {
			"type": "object",
			"required": ["nodes"],
			"properties": {
				"nodes": {
					"type": "array",
					"items": {
						"type": "object",
						"required": ["id", "type"],
						"properties": {
							"id": {"type": "string", "minLength": 1},
							"type": {"type": "string", "minLength": 1},
							"name": {"type": "string"},
							"config": {"type": "object"}
						}
					}
				},
				"edges": {
					"type": "array",
					"items": {
						"type": "object",
						"required": ["source", "target"],
						"properties": {
							"source": {"type": "string", "minLength": 1},
							"target": {"type": "string", "minLength": 1},
							"condition": {"type": "string"}
						}
					}
				}
			}
		}
	}
}`

var schemaLoader = gojsonschema.NewStringLoader(definitionSchema)

func validateSchema(raw []byte) (*gojsonschema.Result, error) {
	return gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
}
