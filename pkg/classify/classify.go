// Package classify recognizes the shape of an inbound LLM API request body
// well enough to build the policy.Resource the Proxy Service hands to the
// Policy Engine. It never interprets LLM output and never rewrites the
// request payload — it only reads enough of the JSON body to identify
// which tool the agent is trying to invoke.
package classify

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"

	"github.com/olegmukhin/thoughtgate/pkg/policy"
)

// anthropicMessagesRequest mirrors the subset of the Anthropic Messages API
// request body (POST /v1/messages) this package needs. anthropic.Model
// gives the Model field the SDK's own named type rather than a bare
// string, so a typo in a literal model name fails type-checking the same
// way it would in code built directly against the SDK.
type anthropicMessagesRequest struct {
	Model anthropic.Model  `json:"model"`
	Tools []anthropicTool  `json:"tools"`
}

type anthropicTool struct {
	Name string `json:"name"`
}

// openAIChatRequest mirrors the subset of the OpenAI Chat Completions API
// request body (POST /v1/chat/completions) this package needs.
type openAIChatRequest struct {
	Model openai.ChatModel `json:"model"`
	Tools []openAITool     `json:"tools"`
}

type openAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

// mcpRequest mirrors a JSON-RPC MCP request envelope: {"method": "...", ...}.
type mcpRequest struct {
	Method string `json:"method"`
	Params struct {
		Name string `json:"name"`
	} `json:"params"`
}

// Upstream identifies which recognizer matched.
type Upstream string

const (
	UpstreamAnthropic Upstream = "anthropic"
	UpstreamOpenAI     Upstream = "openai"
	UpstreamMCP         Upstream = "mcp"
	UpstreamUnknown     Upstream = "unknown"
)

// Result is what a successful classification yields: the Resource to hand
// the Policy Engine, plus the recognized upstream kind and model name for
// logging.
type Result struct {
	Resource policy.Resource
	Upstream Upstream
	Model    string
}

// Classify inspects body (the raw JSON request payload) and server (the
// configured upstream identifier this request is bound for) and returns
// the Resource it represents. It never panics: malformed or unrecognized
// bodies fall back to UpstreamUnknown with a McpMethod Resource built from
// path — callers pass routePath for that fallback case.
func Classify(server, routePath string, body []byte) Result {
	if r, ok := tryAnthropic(server, body); ok {
		return r
	}
	if r, ok := tryOpenAI(server, body); ok {
		return r
	}
	if r, ok := tryMCP(server, body); ok {
		return r
	}
	return Result{
		Resource: policy.McpMethod(routePath, server),
		Upstream: UpstreamUnknown,
	}
}

func tryAnthropic(server string, body []byte) (Result, bool) {
	var req anthropicMessagesRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Model == "" {
		return Result{}, false
	}
	// Anthropic tools carry a top-level name; OpenAI tools nest it under
	// "function", so a tool without a top-level name is not Anthropic-shaped.
	for _, tool := range req.Tools {
		if tool.Name == "" {
			return Result{}, false
		}
	}
	name := "completion"
	if len(req.Tools) > 0 {
		name = req.Tools[0].Name
	}
	return Result{
		Resource: policy.ToolCall(name, server),
		Upstream: UpstreamAnthropic,
		Model:    string(req.Model),
	}, true
}

func tryOpenAI(server string, body []byte) (Result, bool) {
	var req openAIChatRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Model == "" {
		return Result{}, false
	}
	name := "completion"
	for _, tool := range req.Tools {
		if tool.Type == "function" && tool.Function.Name != "" {
			name = tool.Function.Name
			break
		}
	}
	return Result{
		Resource: policy.ToolCall(name, server),
		Upstream: UpstreamOpenAI,
		Model:    string(req.Model),
	}, true
}

func tryMCP(server string, body []byte) (Result, bool) {
	var req mcpRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Method == "" {
		return Result{}, false
	}
	if req.Params.Name != "" {
		return Result{
			Resource: policy.ToolCall(req.Params.Name, server),
			Upstream: UpstreamMCP,
		}, true
	}
	return Result{
		Resource: policy.McpMethod(req.Method, server),
		Upstream: UpstreamMCP,
	}, true
}

// Validate reports an error if body is not valid JSON at all. Classify does
// not call it: a malformed body simply falls through Classify's
// best-effort chain to the UpstreamUnknown fallback.
func Validate(body []byte) error {
	if !json.Valid(body) {
		return fmt.Errorf("classify: request body is not valid JSON")
	}
	return nil
}
