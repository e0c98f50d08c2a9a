package classify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify_AnthropicToolCall(t *testing.T) {
	body := []byte(`{"model":"claude-sonnet-4-20250514","messages":[],"tools":[{"name":"read_file"}]}`)
	r := Classify("anthropic-upstream", "/v1/messages", body)
	require.Equal(t, UpstreamAnthropic, r.Upstream)
	require.Equal(t, "read_file", r.Resource.Name)
	require.Equal(t, "claude-sonnet-4-20250514", r.Model)
}

func TestClassify_AnthropicNoToolsFallsBackToCompletion(t *testing.T) {
	body := []byte(`{"model":"claude-sonnet-4-20250514","messages":[]}`)
	r := Classify("anthropic-upstream", "/v1/messages", body)
	require.Equal(t, UpstreamAnthropic, r.Upstream)
	require.Equal(t, "completion", r.Resource.Name)
}

func TestClassify_OpenAIFunctionCall(t *testing.T) {
	body := []byte(`{"model":"gpt-4o","messages":[],"tools":[{"type":"function","function":{"name":"delete_user"}}]}`)
	r := Classify("openai-upstream", "/v1/chat/completions", body)
	require.Equal(t, UpstreamOpenAI, r.Upstream)
	require.Equal(t, "delete_user", r.Resource.Name)
	require.Equal(t, "gpt-4o", r.Model)
}

func TestClassify_MCPToolCall(t *testing.T) {
	body := []byte(`{"method":"tools/call","params":{"name":"list_dir"}}`)
	r := Classify("fs-server", "/mcp", body)
	require.Equal(t, UpstreamMCP, r.Upstream)
	require.Equal(t, "list_dir", r.Resource.Name)
}

func TestClassify_MCPMethodWithoutToolName(t *testing.T) {
	body := []byte(`{"method":"tools/list","params":{}}`)
	r := Classify("fs-server", "/mcp", body)
	require.Equal(t, UpstreamMCP, r.Upstream)
	require.Equal(t, "tools/list", r.Resource.Method)
}

func TestClassify_UnrecognizedBodyFallsBackToRoutePath(t *testing.T) {
	body := []byte(`{"foo":"bar"}`)
	r := Classify("mystery-server", "/custom/path", body)
	require.Equal(t, UpstreamUnknown, r.Upstream)
	require.Equal(t, "/custom/path", r.Resource.Method)
}

func TestValidate_RejectsMalformedJSON(t *testing.T) {
	require.Error(t, Validate([]byte(`{not json`)))
	require.NoError(t, Validate([]byte(`{}`)))
}
