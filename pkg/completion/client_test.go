package completion

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeAPI records chat completion requests and answers with reply.
type fakeAPI struct {
	mu       sync.Mutex
	requests []map[string]any
	keys     []string
	reply    func(req map[string]any) (int, string)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req map[string]any
	_ = json.Unmarshal(body, &req)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.keys = append(f.keys, r.Header.Get("Authorization"))
	f.mu.Unlock()

	status, payload := f.reply(req)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, payload)
}

func textReply(content string) string {
	return `{"id":"cmpl-1","object":"chat.completion","created":1,"model":"m",` +
		`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":` + quote(content) + `}}],` +
		`"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`
}

func toolReply(name, arguments string) string {
	return `{"id":"cmpl-2","object":"chat.completion","created":1,"model":"m",` +
		`"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":null,` +
		`"tool_calls":[{"id":"call_1","type":"function","function":{"name":"` + name + `","arguments":` + quote(arguments) + `}}]}}],` +
		`"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func newTestClient(t *testing.T, api *fakeAPI, keys string, models ...string) *Client {
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	noRetries := 0
	return NewClient(Config{
		APIKeys:     keys,
		BaseURL:     server.URL + "/v1/",
		Models:      models,
		Temperature: 1,
		TopP:        1,
		MaxRetries:  &noRetries,
		Logger:      zaptest.NewLogger(t),
	})
}

func TestGenerateText(t *testing.T) {
	api := &fakeAPI{reply: func(map[string]any) (int, string) { return 200, textReply("  hello chat  ") }}
	c := newTestClient(t, api, "k1", "model-a")

	got, err := c.GenerateText(context.Background(), "say hi", Options{Temperature: 0.5})
	require.NoError(t, err)
	assert.Equal(t, "hello chat", got)

	require.Len(t, api.requests, 1)
	req := api.requests[0]
	assert.Equal(t, "model-a", req["model"])
	assert.Equal(t, 0.5, req["temperature"])
	messages := req["messages"].([]any)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].(map[string]any)["role"])
	assert.Equal(t, "say hi", messages[0].(map[string]any)["content"])
	assert.Nil(t, req["tools"])
}

func TestGenerateWithFunction(t *testing.T) {
	api := &fakeAPI{reply: func(map[string]any) (int, string) {
		return 200, toolReply("respond_to_chat", `{"banter":"hey","urls":[],"emotion":"happy","gesture":"wave"}`)
	}}
	c := newTestClient(t, api, "k1", "model-a")

	fn := Function{
		Name:        "respond_to_chat",
		Description: "reply",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{"banter": map[string]any{"type": "string"}}},
	}
	args, err := c.GenerateWithFunction(context.Background(), "chat", fn, Options{})
	require.NoError(t, err)
	assert.Equal(t, "hey", args["banter"])
	assert.Equal(t, "wave", args["gesture"])

	tools := api.requests[0]["tools"].([]any)
	require.Len(t, tools, 1)
	function := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "respond_to_chat", function["name"])
}

func TestGenerateWithFunction_NoCall(t *testing.T) {
	api := &fakeAPI{reply: func(map[string]any) (int, string) { return 200, textReply("I'd rather not") }}
	c := newTestClient(t, api, "k1", "model-a")

	_, err := c.GenerateWithFunction(context.Background(), "chat", Function{Name: "comment"}, Options{})
	assert.ErrorIs(t, err, ErrNoArguments)
}

func TestGenerate_FallsBackToNextModel(t *testing.T) {
	api := &fakeAPI{reply: func(req map[string]any) (int, string) {
		if req["model"] == "broken" {
			return 500, `{"error":{"message":"boom","type":"server_error"}}`
		}
		return 200, textReply("from backup")
	}}
	c := newTestClient(t, api, "k1", "broken", "backup")

	got, err := c.GenerateText(context.Background(), "hi", Options{})
	require.NoError(t, err)
	assert.Equal(t, "from backup", got)
	require.Len(t, api.requests, 2)
	assert.Equal(t, "backup", api.requests[1]["model"])
}

func TestGenerate_RotatesKeyOnRateLimit(t *testing.T) {
	api := &fakeAPI{}
	api.reply = func(map[string]any) (int, string) {
		api.mu.Lock()
		key := api.keys[len(api.keys)-1]
		api.mu.Unlock()
		if key == "Bearer k1" {
			return 429, `{"error":{"message":"slow down","type":"rate_limit"}}`
		}
		return 200, textReply("ok")
	}
	c := newTestClient(t, api, "k1, k2", "model-a")

	got, err := c.GenerateText(context.Background(), "hi", Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, []string{"Bearer k1", "Bearer k2"}, api.keys)
}

func TestGenerate_AllModelsFail(t *testing.T) {
	api := &fakeAPI{reply: func(map[string]any) (int, string) {
		return 500, `{"error":{"message":"boom","type":"server_error"}}`
	}}
	c := newTestClient(t, api, "k1", "model-a")

	_, err := c.GenerateText(context.Background(), "hi", Options{})
	assert.Error(t, err)
}

func TestGenerate_NoKeys(t *testing.T) {
	c := NewClient(Config{Models: []string{"m"}})
	_, err := c.GenerateText(context.Background(), "hi", Options{})
	assert.ErrorIs(t, err, ErrNoKeys)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, CountTokens(""))
	assert.Equal(t, 1, estimateTokens("abcd"))
	assert.Equal(t, 2, estimateTokens("abcde"))
	assert.Equal(t, 1, estimateTokens("日本"))
	assert.Positive(t, CountTokens("hello there chat"))
}
