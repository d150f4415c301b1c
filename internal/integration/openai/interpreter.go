// Package openai turns free-text requests into water-balance queries.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Intent names returned by the model.
const (
	IntentWaterBalance = "WaterBalance"
	IntentGeneralQuery = "GeneralQuery"
)

// QueryIntent defines the structured output from the model.
type QueryIntent struct {
	Intent      string `json:"intent" jsonschema_description:"Either WaterBalance or GeneralQuery"`
	GroupName   string `json:"group_name" jsonschema_description:"Metering group from the known list, empty when unclear"`
	StatDate    string `json:"stat_date" jsonschema_description:"Statistics date in YYYY-MM-DD, empty when unclear"`
	UserMessage string `json:"user_message" jsonschema_description:"A short reply to show the user in their own language"`
}

// QueryInterpreter interprets a user's free-text message.
type QueryInterpreter interface {
	InterpretQuery(ctx context.Context, userMessage string, knownGroups []string, today string) (*QueryIntent, error)
}

// interpreter implements QueryInterpreter with the chat completions API.
type interpreter struct {
	client openai.Client
	model  openai.ChatModel
	schema interface{}
	logger *log.Logger
}

// GenerateSchema generates a JSON schema for a given type.
func GenerateSchema[T any]() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// NewInterpreter creates a QueryInterpreter. The model defaults to GPT-4o.
func NewInterpreter(apiKey, model string, logger *log.Logger) (QueryInterpreter, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	chatModel := openai.ChatModel(model)
	if chatModel == "" {
		chatModel = openai.ChatModelGPT4o
	}
	if logger == nil {
		logger = log.Default()
	}
	return &interpreter{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  chatModel,
		schema: GenerateSchema[QueryIntent](),
		logger: logger,
	}, nil
}

// SystemPrompt builds the instructions sent with every request.
func SystemPrompt(knownGroups []string, today string) string {
	return fmt.Sprintf(`You help plant operators look up water-balance reports.

Known metering groups: %s
Today is %s.

Behavior:
1. If the user asks for a water-balance report:
   - intent = "WaterBalance"
   - group_name: the matching group from the known list; empty if none matches.
   - stat_date: the requested day as YYYY-MM-DD; resolve words like "yesterday" against today; empty if no day is given.
   - user_message: a one-line confirmation in the user's language.
2. Otherwise:
   - intent = "GeneralQuery"
   - group_name = "", stat_date = ""
   - user_message: a short helpful reply in the user's language.

Output strictly in JSON.`, strings.Join(knownGroups, ", "), today)
}

// InterpretQuery sends a message to the model and returns the structured response.
func (s *interpreter) InterpretQuery(ctx context.Context, userMessage string, knownGroups []string, today string) (*QueryIntent, error) {
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "query_intent",
		Description: openai.String("Structured water-balance query extracted from the user's message"),
		Schema:      s.schema,
		Strict:      openai.Bool(true),
	}

	chat, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt(knownGroups, today)),
			openai.UserMessage(userMessage),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schemaParam},
		},
		Model: s.model,
	})
	if err != nil {
		return nil, fmt.Errorf("error calling OpenAI API: %w", err)
	}

	if len(chat.Choices) == 0 || chat.Choices[0].Message.Content == "" {
		return nil, errors.New("received empty response from OpenAI")
	}

	intent, err := ParseIntent(chat.Choices[0].Message.Content)
	if err != nil {
		s.logger.Error("Failed to unmarshal OpenAI response", "err", err, "raw", chat.Choices[0].Message.Content)
		return nil, err
	}
	return intent, nil
}

// ParseIntent decodes the model's JSON answer.
func ParseIntent(content string) (*QueryIntent, error) {
	var intent QueryIntent
	if err := json.Unmarshal([]byte(content), &intent); err != nil {
		return nil, fmt.Errorf("error unmarshalling OpenAI response: %w", err)
	}
	intent.GroupName = strings.TrimSpace(intent.GroupName)
	intent.StatDate = strings.TrimSpace(intent.StatDate)
	return &intent, nil
}

// Complete reports whether the intent carries everything needed to run a query.
func (q *QueryIntent) Complete() bool {
	return q.Intent == IntentWaterBalance && q.GroupName != "" && q.StatDate != ""
}
