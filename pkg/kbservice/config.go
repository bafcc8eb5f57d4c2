package kbservice

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Dearborn-Open-AI/neural-structured-learning/pkg/knowledgebank"
	"github.com/Dearborn-Open-AI/neural-structured-learning/pkg/optimizer"
)

// embeddingConfigSchema is the JSON Schema for dynamic embedding
// configuration validation.
const embeddingConfigSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["embedding_dimension"],
  "properties": {
    "embedding_dimension": {
      "type": "integer",
      "minimum": 1,
      "description": "Dimension of every stored embedding vector"
    },
    "knowledge_bank": {
      "type": "object",
      "properties": {
        "type": {
          "type": "string",
          "enum": ["", "in_memory", "sqlite"]
        },
        "initializer": {
          "type": "object",
          "properties": {
            "zero": { "type": "object" },
            "random_uniform": {
              "type": "object",
              "properties": {
                "low": { "type": "number" },
                "high": { "type": "number" }
              }
            }
          }
        },
        "sqlite": {
          "type": "object",
          "required": ["path"],
          "properties": {
            "path": { "type": "string", "minLength": 1 }
          }
        }
      }
    },
    "gradient_descent": {
      "type": "object",
      "required": ["learning_rate"],
      "properties": {
        "learning_rate": {
          "type": "number",
          "exclusiveMinimum": 0
        },
        "sgd": { "type": "object" },
        "adagrad": {
          "type": "object",
          "properties": {
            "init_accumulator_value": { "type": "number", "minimum": 0 }
          }
        }
      }
    }
  }
}`

var embeddingSchemaLoader = gojsonschema.NewStringLoader(embeddingConfigSchema)

// DynamicEmbeddingConfig describes one embedding session: the vector
// dimension, the backing store and the optional gradient-descent rule.
type DynamicEmbeddingConfig struct {
	EmbeddingDimension int                  `json:"embedding_dimension"`
	KnowledgeBank      knowledgebank.Config `json:"knowledge_bank,omitempty"`
	GradientDescent    *optimizer.Config    `json:"gradient_descent,omitempty"`
}

// Validate checks the configuration against its JSON schema.
func (c DynamicEmbeddingConfig) Validate() error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode embedding config: %w", err)
	}
	result, err := gojsonschema.Validate(embeddingSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var errMsg string
		for i, schemaErr := range result.Errors() {
			if i > 0 {
				errMsg += "; "
			}
			errMsg += schemaErr.String()
		}
		return fmt.Errorf("invalid embedding config: %s", errMsg)
	}
	return nil
}

// StartSessionRequest names a session and carries its full configuration.
// The session handle is this request serialized, so identical requests
// always resolve to the same session.
type StartSessionRequest struct {
	Name   string                 `json:"name"`
	Config DynamicEmbeddingConfig `json:"config"`
}

// SessionHandle returns the handle identifying the session this request
// describes.
func (r StartSessionRequest) SessionHandle() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode session request: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// ParseSessionHandle decodes a session handle back into the request that
// produced it.
func ParseSessionHandle(handle string) (StartSessionRequest, error) {
	var req StartSessionRequest
	data, err := base64.RawURLEncoding.DecodeString(handle)
	if err != nil {
		return req, fmt.Errorf("malformed session handle: %w", err)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("malformed session handle: %w", err)
	}
	return req, nil
}
