// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package block

import (
	"context"
	"encoding/json"
	"fmt"

	engineerrors "github.com/vsync-io/workflow-engine/pkg/errors"

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/engine/resolve"
)

// AgentRequest is what the agent block hands its AgentInvoker collaborator.
type AgentRequest struct {
	Provider    string
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
	APIKey      string
	JSONMode    bool
	Tools       []string
}

// AgentResponse is what an AgentInvoker returns.
type AgentResponse struct {
	Text string
	JSON any
}

// AgentInvoker performs one LLM round trip, optionally exposing MCP-backed
// tools to the model.
type AgentInvoker interface {
	Invoke(ctx context.Context, req AgentRequest) (*AgentResponse, error)
}

// maxSchemaRetries bounds the structured-output retry loop.
const maxSchemaRetries = 3

// NewAgentHandler builds the agent block's handler over invoker.
func NewAgentHandler(invoker AgentInvoker) HandlerFunc {
	return func(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
		return agentHandle(ctx, b, rc, invoker)
	}
}

func agentHandle(ctx context.Context, b *model.Block, rc *resolve.Context, invoker AgentInvoker) (Result, error) {
	provider, _ := logicString(b, rc, "agent_provider")
	modelName, _ := logicString(b, rc, "agent_model")
	prompt, ok := logicString(b, rc, "agent_prompt")
	if !ok || prompt == "" {
		return nil, validationErr("agent_prompt", "required")
	}

	temperature := 0.0
	if v, ok := logicAny(b, rc, "agent_temperature"); ok {
		temperature, _ = toFloatAny(v)
	}
	maxTokens := 1024
	if v, ok := logicAny(b, rc, "agent_max_tokens"); ok {
		if f, ok := toFloatAny(v); ok {
			maxTokens = int(f)
		}
	}

	jsonMode := false
	if v, ok := logicAny(b, rc, "agent_json_mode"); ok {
		jsonMode, _ = v.(bool)
	}

	var schemaRequired []string
	if jsonMode {
		if raw, ok := b.Logic["agent_output_schema"]; ok {
			if m, ok := raw.(map[string]any); ok {
				if req, ok := m["required"].([]any); ok {
					for _, r := range req {
						if s, ok := r.(string); ok {
							schemaRequired = append(schemaRequired, s)
						}
					}
				}
			}
		}
	}

	apiKey := ""
	if keyName, ok := logicString(b, rc, "agent_key_name"); ok && keyName != "" {
		apiKey, _ = resolve.Resolve("$keys."+keyName, rc).(string)
	}

	req := AgentRequest{
		Provider:    provider,
		Model:       modelName,
		Prompt:      prompt,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		APIKey:      apiKey,
		JSONMode:    jsonMode,
	}

	if !jsonMode {
		resp, err := invoker.Invoke(ctx, req)
		if err != nil {
			return nil, err
		}
		return Completed{StateDelta: Bind(b, resp.Text)}, nil
	}

	var lastErr error
	for attempt := 0; attempt < maxSchemaRetries; attempt++ {
		resp, err := invoker.Invoke(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		parsed := resp.JSON
		if parsed == nil && resp.Text != "" {
			var decoded any
			if json.Unmarshal([]byte(resp.Text), &decoded) == nil {
				parsed = decoded
			}
		}
		if err := validateAgainstRequired(parsed, schemaRequired); err != nil {
			lastErr = err
			continue
		}
		return Completed{StateDelta: Bind(b, parsed)}, nil
	}

	return nil, &engineerrors.EngineError{
		Code:    engineerrors.CodeValidation,
		Message: fmt.Sprintf("agent response failed schema validation after %d attempts: %v", maxSchemaRetries, lastErr),
	}
}

func validateAgainstRequired(value any, required []string) error {
	if len(required) == 0 {
		if value == nil {
			return fmt.Errorf("empty JSON response")
		}
		return nil
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("response is not a JSON object")
	}
	for _, field := range required {
		if _, present := obj[field]; !present {
			return fmt.Errorf("missing required field %q", field)
		}
	}
	return nil
}

// NewValidationHandler implements the validation block: sugar for agent
// with agent_type = "validation", mapping validation_* logic fields to
// their agent_* equivalents before delegating.
func NewValidationHandler(agentHandler HandlerFunc) HandlerFunc {
	return func(ctx context.Context, b *model.Block, rc *resolve.Context) (Result, error) {
		delegated := *b
		logic := make(map[string]any, len(b.Logic)+1)
		for k, v := range b.Logic {
			if mapped, ok := mapValidationField(k); ok {
				logic[mapped] = v
			} else {
				logic[k] = v
			}
		}
		logic["agent_type"] = "validation"
		delegated.Logic = logic
		delegated.Type = model.BlockAgent
		return agentHandler.Handle(ctx, &delegated, rc)
	}
}

func mapValidationField(key string) (string, bool) {
	const prefix = "validation_"
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		return "agent_" + key[len(prefix):], true
	}
	return "", false
}
