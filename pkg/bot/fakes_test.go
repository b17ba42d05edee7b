package bot

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"citrine/pkg/agenda"
	"citrine/pkg/comlink"
	"citrine/pkg/completion"
	"citrine/pkg/memory"
	"citrine/pkg/twitch"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeChat struct {
	mu      sync.Mutex
	batches [][]twitch.ChatMessage
}

func (f *fakeChat) push(msgs ...twitch.ChatMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, msgs)
}

func (f *fakeChat) ReceiveMessages(ctx context.Context) []twitch.ChatMessage {
	f.mu.Lock()
	if len(f.batches) > 0 {
		next := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return next
	}
	f.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Millisecond):
	}
	return nil
}

type fakeCompleter struct {
	mu        sync.Mutex
	textCalls int
	fnCalls   map[string]int

	GenerateTextFunc         func(ctx context.Context, prompt string, opts completion.Options) (string, error)
	GenerateWithFunctionFunc func(ctx context.Context, prompt string, fn completion.Function, opts completion.Options) (map[string]any, error)
}

func (f *fakeCompleter) GenerateText(ctx context.Context, prompt string, opts completion.Options) (string, error) {
	f.mu.Lock()
	f.textCalls++
	f.mu.Unlock()
	if f.GenerateTextFunc == nil {
		return "", completion.ErrNoKeys
	}
	return f.GenerateTextFunc(ctx, prompt, opts)
}

func (f *fakeCompleter) GenerateWithFunction(ctx context.Context, prompt string, fn completion.Function, opts completion.Options) (map[string]any, error) {
	f.mu.Lock()
	if f.fnCalls == nil {
		f.fnCalls = make(map[string]int)
	}
	f.fnCalls[fn.Name]++
	f.mu.Unlock()
	if f.GenerateWithFunctionFunc == nil {
		return nil, completion.ErrNoArguments
	}
	return f.GenerateWithFunctionFunc(ctx, prompt, fn, opts)
}

func (f *fakeCompleter) TextCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.textCalls
}

func (f *fakeCompleter) FunctionCalls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fnCalls[name]
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []comlink.Message
}

func (p *recordingPublisher) Publish(ctx context.Context, msg comlink.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		types = append(types, m.Type)
	}
	return types
}

func (p *recordingPublisher) Messages() []comlink.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]comlink.Message(nil), p.msgs...)
}

type fakeFetcher struct {
	mu      sync.Mutex
	fetched []string
	listing string
}

func (f *fakeFetcher) Fetch(ctx context.Context, urls []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, urls...)
}

func (f *fakeFetcher) Formatted() string {
	return f.listing
}

type fakeTasks struct {
	task *agenda.Task
	list string
}

func (f *fakeTasks) CurrentTask() (*agenda.Task, error) {
	return f.task, nil
}

func (f *fakeTasks) ListTasks() (string, error) {
	return f.list, nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// newTestRuntime wires fakes into a Runtime whose clock starts at a fixed
// time and whose token count is the number of words.
func newTestRuntime(t *testing.T, deps Deps) (*Runtime, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	if deps.Store == nil {
		deps.Store = memory.NewMemStore()
	}
	if deps.Chat == nil {
		deps.Chat = &fakeChat{}
	}
	if deps.Completer == nil {
		deps.Completer = &fakeCompleter{}
	}
	if deps.Logger == nil {
		deps.Logger = zaptest.NewLogger(t)
	}

	r := New(deps, DefaultSettings())
	r.now = clock.Now
	r.clock = NewClock(clock.Now())
	r.tokens = func(text string) int { return len(strings.Fields(text)) }
	r.pick = func(int) int { return 0 }
	return r, clock
}

func seedPending(t *testing.T, store memory.Store, lines ...string) {
	t.Helper()
	for _, line := range lines {
		user, text, _ := strings.Cut(line, ": ")
		_, err := store.CreateRecord(context.Background(), memory.KindTwitchMessage, text, map[string]string{
			"user":    user,
			"handled": memory.Unhandled,
		})
		require.NoError(t, err)
	}
}

func recordsWith(t *testing.T, store memory.Store, filter map[string]string) []memory.Record {
	t.Helper()
	recs, err := store.QueryRecords(context.Background(), memory.KindTwitchMessage, filter)
	require.NoError(t, err)
	return recs
}

func decodePayload(t *testing.T, msg comlink.Message) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(msg.Payload, &out))
	return out
}

func banter(text string, urls ...any) func(context.Context, string, completion.Function, completion.Options) (map[string]any, error) {
	return func(context.Context, string, completion.Function, completion.Options) (map[string]any, error) {
		if urls == nil {
			urls = []any{}
		}
		return map[string]any{
			"banter":  text,
			"emotion": "joy",
			"gesture": "victory",
			"urls":    urls,
		}, nil
	}
}
