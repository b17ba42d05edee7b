// Package completion talks to an OpenAI-compatible chat completion API.
package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"
)

const requestTimeout = 120 * time.Second

var (
	ErrNoKeys = errors.New("completion: no API keys configured")
	// ErrNoArguments means the model answered without calling the function.
	ErrNoArguments = errors.New("completion: model returned no function arguments")
)

// Function describes a single callable schema offered to the model.
type Function struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Options tune one request. Zero values fall back to the client defaults.
type Options struct {
	Temperature float64
	MaxTokens   int
}

type KeyState struct {
	Key          string
	FailureCount int
	LastUsed     time.Time
	LastSuccess  time.Time
}

type Config struct {
	APIKeys     string // comma separated
	BaseURL     string
	Models      []string
	Temperature float64
	TopP        float64
	// MaxRetries is passed to the SDK; nil keeps its default.
	MaxRetries *int
	Logger     *zap.Logger
}

type Client struct {
	keys        []*KeyState
	keyMu       sync.RWMutex
	clients     map[string]openai.Client
	clientsMu   sync.RWMutex
	baseURL     string
	temperature float64
	topP        float64
	models      []string
	maxRetries  *int
	log         *zap.Logger
}

func NewClient(cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	keyStrings := strings.Split(cfg.APIKeys, ",")
	keys := make([]*KeyState, 0, len(keyStrings))
	for _, k := range keyStrings {
		k = strings.TrimSpace(k)
		if k != "" {
			keys = append(keys, &KeyState{Key: k})
		}
	}

	if len(keys) == 0 {
		log.Warn("No completion API keys provided")
	} else {
		log.Info("Loaded completion API keys", zap.Int("count", len(keys)))
	}

	return &Client{
		keys:        keys,
		clients:     make(map[string]openai.Client),
		baseURL:     cfg.BaseURL,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		models:      cfg.Models,
		maxRetries:  cfg.MaxRetries,
		log:         log,
	}
}

func (c *Client) getClient(key string) openai.Client {
	c.clientsMu.RLock()
	if client, ok := c.clients[key]; ok {
		c.clientsMu.RUnlock()
		return client
	}
	c.clientsMu.RUnlock()

	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()

	opts := []option.RequestOption{option.WithAPIKey(key)}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	if c.maxRetries != nil {
		opts = append(opts, option.WithMaxRetries(*c.maxRetries))
	}
	client := openai.NewClient(opts...)
	c.clients[key] = client
	return client
}

func (c *Client) getBestKey() *KeyState {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()

	if len(c.keys) == 0 {
		return nil
	}

	best := c.keys[0]
	for _, k := range c.keys[1:] {
		if k.FailureCount < best.FailureCount {
			best = k
		}
	}
	return best
}

func (c *Client) recordSuccess(key *KeyState) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	key.LastSuccess = time.Now()
	key.LastUsed = time.Now()
	if key.FailureCount > 0 {
		key.FailureCount--
	}
}

func (c *Client) recordFailure(key *KeyState) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	key.FailureCount++
	key.LastUsed = time.Now()
}

// GenerateText sends prompt as a single user message and returns the reply.
func (c *Client) GenerateText(ctx context.Context, prompt string, opts Options) (string, error) {
	msg, err := c.complete(ctx, prompt, nil, opts)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(msg.Content), nil
}

// GenerateWithFunction offers fn to the model and returns the decoded
// arguments of its call. A reply without a call yields ErrNoArguments.
func (c *Client) GenerateWithFunction(ctx context.Context, prompt string, fn Function, opts Options) (map[string]any, error) {
	msg, err := c.complete(ctx, prompt, &fn, opts)
	if err != nil {
		return nil, err
	}

	for _, tc := range msg.ToolCalls {
		if tc.Function.Name != fn.Name || strings.TrimSpace(tc.Function.Arguments) == "" {
			continue
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("decode %s arguments: %w", fn.Name, err)
		}
		if args == nil {
			return nil, ErrNoArguments
		}
		if fn.Parameters == nil {
			return args, nil
		}
		valid, errs := ValidateArguments(fn.Parameters, args)
		if errs.Fatal() {
			return nil, fmt.Errorf("%w: %s: %s", ErrInvalidArguments, fn.Name, errs.Error())
		}
		if len(errs) > 0 {
			c.log.Debug("Dropped out-of-range function arguments", zap.String("function", fn.Name), zap.String("errors", errs.Error()))
		}
		return valid, nil
	}
	return nil, ErrNoArguments
}

func (c *Client) complete(ctx context.Context, prompt string, fn *Function, opts Options) (*openai.ChatCompletionMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	keyState := c.getBestKey()
	if keyState == nil {
		return nil, ErrNoKeys
	}
	if len(c.models) == 0 {
		return nil, errors.New("completion: no models configured")
	}

	temperature := c.temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	var lastErr error

	for _, model := range c.models {
		c.log.Debug("Attempting model", zap.String("model", model), zap.Int("key_failures", keyState.FailureCount))

		params := openai.ChatCompletionNewParams{
			Model:       shared.ChatModel(model),
			Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
			Temperature: openai.Float(temperature),
		}
		if c.topP > 0 {
			params.TopP = openai.Float(c.topP)
		}
		if opts.MaxTokens > 0 {
			params.MaxTokens = openai.Int(int64(opts.MaxTokens))
		}
		if fn != nil {
			params.Tools = []openai.ChatCompletionToolParam{{
				Function: shared.FunctionDefinitionParam{
					Name:        fn.Name,
					Description: openai.String(fn.Description),
					Parameters:  shared.FunctionParameters(fn.Parameters),
				},
			}}
		}

		start := time.Now()
		client := c.getClient(keyState.Key)
		resp, err := client.Chat.Completions.New(ctx, params)

		if err != nil && isRateLimitOrAuthError(err) {
			c.recordFailure(keyState)
			nextKey := c.getBestKey()
			if nextKey != nil && nextKey != keyState {
				c.log.Warn("Key rate limited or rejected, trying another key", zap.String("model", model))
				keyState = nextKey
				next := c.getClient(keyState.Key)
				resp, err = next.Chat.Completions.New(ctx, params)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn("Model request failed", zap.String("model", model), zap.Error(err))
			lastErr = err
			continue
		}

		if resp == nil || len(resp.Choices) == 0 {
			c.log.Warn("Model returned empty response", zap.String("model", model))
			lastErr = fmt.Errorf("empty response from model %s", model)
			continue
		}

		c.recordSuccess(keyState)
		c.log.Debug("Model success",
			zap.String("model", model),
			zap.Duration("took", time.Since(start)),
			zap.Int64("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int64("completion_tokens", resp.Usage.CompletionTokens))

		return &resp.Choices[0].Message, nil
	}

	c.recordFailure(keyState)
	return nil, fmt.Errorf("all models exhausted: %w", lastErr)
}

func isRateLimitOrAuthError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403, 429:
			return true
		}
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "unauthorized")
}
