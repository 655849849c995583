package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"voiceagent-platform/internal/store"
)

// ErrExtraction wraps any model call failure or schema violation.
// First failure is terminal for the invocation; nothing is retried here.
var ErrExtraction = errors.New("extraction: structured summary failed")

// Extractor produces a schema-bound structured summary from a transcript.
type Extractor interface {
	Extract(ctx context.Context, transcript string, requiredFields map[string]store.FieldType) (map[string]any, error)
}

const extractionSystemPrompt = `You are an expert logistics data extractor. Your sole task is to analyze the call transcript and extract all requested fields in JSON format.

- STRICTLY ADHERE to the provided JSON schema. DO NOT add extra text.
- RULE: If a field cannot be determined from the transcript, use "N/A", "None", or false (if boolean).`

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIExtractor issues a single chat completion constrained to a strict
// JSON schema, with deterministic decoding (temperature zero).
type OpenAIExtractor struct {
	client openai.Client
	model  string
}

var _ Extractor = (*OpenAIExtractor)(nil)

func NewOpenAIExtractor(cfg Config) *OpenAIExtractor {
	// First failure is terminal; the SDK's transport retries are disabled
	// to keep that contract honest.
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if trimmed := strings.TrimRight(cfg.BaseURL, "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}
	return &OpenAIExtractor{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}
}

func (e *OpenAIExtractor) Extract(ctx context.Context, transcript string, requiredFields map[string]store.FieldType) (map[string]any, error) {
	if len(requiredFields) == 0 {
		return nil, fmt.Errorf("%w: no fields requested", ErrExtraction)
	}

	schema := BuildSchema(requiredFields)

	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(e.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(extractionSystemPrompt),
			openai.UserMessage("# Call Transcript:\n---\n" + transcript + "\n---"),
		},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "structured_summary",
					Schema: schema,
					Strict: openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: model call: %s", ErrExtraction, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: model returned no choices", ErrExtraction)
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON response: %s", ErrExtraction, err)
	}
	if err := validateAgainstFields(out, requiredFields); err != nil {
		return nil, err
	}
	return out, nil
}

// BuildSchema translates declared scenario fields into a strict JSON schema:
// object type, one property per field, boolean fields typed boolean, text
// fields typed string, all fields required, no additional properties.
func BuildSchema(requiredFields map[string]store.FieldType) map[string]any {
	properties := make(map[string]any, len(requiredFields))
	required := make([]string, 0, len(requiredFields))
	for name, ft := range requiredFields {
		jsonType := "string"
		if ft == store.FieldTypeBoolean {
			jsonType = "boolean"
		}
		properties[name] = map[string]any{
			"type":        jsonType,
			"description": fmt.Sprintf("Extracted value for %s. Must be true or false for boolean types.", name),
		}
		required = append(required, name)
	}
	sort.Strings(required)

	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

func validateAgainstFields(out map[string]any, requiredFields map[string]store.FieldType) error {
	for name, ft := range requiredFields {
		v, ok := out[name]
		if !ok {
			return fmt.Errorf("%w: response missing field %q", ErrExtraction, name)
		}
		if ft == store.FieldTypeBoolean {
			if _, ok := v.(bool); !ok {
				return fmt.Errorf("%w: field %q is not a boolean", ErrExtraction, name)
			}
		}
	}
	return nil
}
