package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"citrine/pkg/comlink"
	"citrine/pkg/completion"
	"citrine/pkg/memory"
	"citrine/pkg/twitch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInboundStep_RecordsAndAnswers(t *testing.T) {
	ctx := context.Background()
	chat := &fakeChat{}
	chat.push(
		twitch.ChatMessage{Username: "alice", Text: "hello there"},
		twitch.ChatMessage{Username: "bob", Text: "what are you playing"},
	)
	llm := &fakeCompleter{GenerateWithFunctionFunc: banter("Hi both, it's a cursed puzzle game")}
	pub := &recordingPublisher{}
	store := memory.NewMemStore()

	r, clock := newTestRuntime(t, Deps{Chat: chat, Store: store, Completer: llm, Publisher: pub})
	clock.Advance(time.Minute)

	require.NoError(t, r.inboundStep(ctx))

	assert.Empty(t, recordsWith(t, store, map[string]string{"handled": memory.Unhandled}))
	handled := recordsWith(t, store, map[string]string{"handled": memory.Handled})
	require.Len(t, handled, 3)
	assert.Equal(t, "alice", handled[0].Metadata["user"])
	assert.Equal(t, "bob", handled[1].Metadata["user"])
	assert.Equal(t, memory.Self, handled[2].Metadata["user"])
	assert.Equal(t, "Hi both, it's a cursed puzzle game", handled[2].Document)

	assert.Equal(t, clock.Now(), r.Clock().LastSpoken())
	assert.Equal(t, 1, llm.FunctionCalls("respond_to_chat"))
	assert.Equal(t, []string{comlink.TypeMessage}, pub.Types())
}

func TestInboundStep_NoChatNoCall(t *testing.T) {
	llm := &fakeCompleter{GenerateWithFunctionFunc: banter("unused")}
	r, _ := newTestRuntime(t, Deps{Completer: llm})

	require.NoError(t, r.inboundStep(context.Background()))
	assert.Zero(t, llm.FunctionCalls("respond_to_chat"))
}

func TestInboundStep_StampsClockOnArrival(t *testing.T) {
	chat := &fakeChat{}
	chat.push(twitch.ChatMessage{Username: "alice", Text: "hi"})
	llm := &fakeCompleter{GenerateWithFunctionFunc: func(context.Context, string, completion.Function, completion.Options) (map[string]any, error) {
		return nil, errors.New("model down")
	}}
	r, clock := newTestRuntime(t, Deps{Chat: chat, Completer: llm})
	clock.Advance(45 * time.Second)

	require.Error(t, r.inboundStep(context.Background()))
	assert.Equal(t, clock.Now(), r.Clock().LastSpoken(), "incoming chat restarts the quiet period")
}

func TestRespondToChat_PublishesAndFetches(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemStore()
	seedPending(t, store, "alice: look at https://example.com/cat.png")
	files := &fakeFetcher{}
	pub := &recordingPublisher{}
	llm := &fakeCompleter{GenerateWithFunctionFunc: banter("That cat is plotting something", "https://example.com/cat.png")}

	r, _ := newTestRuntime(t, Deps{Store: store, Completer: llm, Publisher: pub, Files: files})
	require.NoError(t, r.respondToChat(ctx))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, comlink.TypeMessage, msgs[0].Type)
	assert.Equal(t, "use_chat", msgs[0].Source)
	assert.Equal(t, map[string]string{
		"message": "That cat is plotting something",
		"emotion": "joy",
		"gesture": "victory",
	}, decodePayload(t, msgs[0]))

	assert.Equal(t, []string{"https://example.com/cat.png"}, files.fetched)

	events, err := store.GetLatestEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, memory.Self, events[0].Metadata["creator"])
	assert.Equal(t, "message", events[0].Metadata["type"])
	assert.JSONEq(t, `["https://example.com/cat.png"]`, events[0].Metadata["urls"])
}

func TestRespondToChat_NoURLsRecordsEmptyList(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemStore()
	seedPending(t, store, "alice: hi")
	files := &fakeFetcher{}
	llm := &fakeCompleter{GenerateWithFunctionFunc: banter("hey alice")}

	r, _ := newTestRuntime(t, Deps{Store: store, Completer: llm, Files: files})
	require.NoError(t, r.respondToChat(ctx))

	assert.Empty(t, files.fetched)
	events, err := store.GetLatestEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "[]", events[0].Metadata["urls"])
}

func TestRespondToChat_FailureLeavesPending(t *testing.T) {
	tests := []struct {
		name string
		fn   func(context.Context, string, completion.Function, completion.Options) (map[string]any, error)
	}{
		{
			name: "model error",
			fn: func(context.Context, string, completion.Function, completion.Options) (map[string]any, error) {
				return nil, errors.New("503")
			},
		},
		{
			name: "no tool call",
			fn: func(context.Context, string, completion.Function, completion.Options) (map[string]any, error) {
				return nil, completion.ErrNoArguments
			},
		},
		{
			name: "empty banter",
			fn:   banter("   "),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := memory.NewMemStore()
			seedPending(t, store, "alice: hi", "bob: yo")
			pub := &recordingPublisher{}
			r, _ := newTestRuntime(t, Deps{Store: store, Completer: &fakeCompleter{GenerateWithFunctionFunc: tt.fn}, Publisher: pub})

			require.Error(t, r.respondToChat(ctx))

			assert.Len(t, recordsWith(t, store, map[string]string{"handled": memory.Unhandled}), 2)
			assert.Empty(t, recordsWith(t, store, map[string]string{"handled": memory.Handled}))
			assert.Empty(t, pub.Types())
			assert.Empty(t, r.inflight, "failed batch must be released")

			epoch, err := memory.LatestEpoch(ctx, store)
			require.NoError(t, err)
			assert.Zero(t, epoch)
		})
	}
}

func TestRespondToChat_RetriesFailedBatch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemStore()
	seedPending(t, store, "alice: hi")

	attempts := 0
	llm := &fakeCompleter{GenerateWithFunctionFunc: func(ctx context.Context, prompt string, fn completion.Function, opts completion.Options) (map[string]any, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("timeout")
		}
		return banter("sorry, lagged out")(ctx, prompt, fn, opts)
	}}
	r, _ := newTestRuntime(t, Deps{Store: store, Completer: llm})

	require.Error(t, r.respondToChat(ctx))
	require.NoError(t, r.respondToChat(ctx))

	assert.Empty(t, recordsWith(t, store, map[string]string{"handled": memory.Unhandled}))
	assert.Equal(t, 2, llm.FunctionCalls("respond_to_chat"))
}

func TestRespondToChat_ConcurrentCyclesAnswerOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemStore()
	seedPending(t, store, "alice: one", "bob: two", "carol: three")

	entered := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	llm := &fakeCompleter{GenerateWithFunctionFunc: func(ctx context.Context, prompt string, fn completion.Function, opts completion.Options) (map[string]any, error) {
		once.Do(func() { close(entered) })
		<-proceed
		return banter("answering everyone at once")(ctx, prompt, fn, opts)
	}}
	r, _ := newTestRuntime(t, Deps{Store: store, Completer: llm, Logger: zap.NewNop()})

	first := make(chan error, 1)
	go func() { first <- r.respondToChat(ctx) }()
	<-entered

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.respondToChat(ctx))
		}()
	}
	wg.Wait()
	close(proceed)
	require.NoError(t, <-first)

	require.NoError(t, r.respondToChat(ctx))

	assert.Equal(t, 1, llm.FunctionCalls("respond_to_chat"))
	assert.Empty(t, recordsWith(t, store, map[string]string{"handled": memory.Unhandled}))
	assert.Len(t, recordsWith(t, store, map[string]string{"user": memory.Self}), 1)
}

func TestStringsArg(t *testing.T) {
	args := map[string]any{
		"any":     []any{" https://a.example ", "", 3, "https://b.example"},
		"strings": []string{"x", " "},
		"wrong":   "https://c.example",
	}

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, stringsArg(args, "any"))
	assert.Equal(t, []string{"x"}, stringsArg(args, "strings"))
	assert.Nil(t, stringsArg(args, "wrong"))
	assert.Nil(t, stringsArg(args, "missing"))
}

// flakyStore fails the Nth handled-marking update, or every event append.
type flakyStore struct {
	*memory.MemStore
	failMarkAt   int
	failAppend   bool
	markAttempts int
}

func (s *flakyStore) UpdateRecordMetadata(ctx context.Context, kind, id string, metadata map[string]string) error {
	if metadata["handled"] == memory.Handled {
		s.markAttempts++
		if s.markAttempts == s.failMarkAt {
			return errors.New("db blip")
		}
	}
	return s.MemStore.UpdateRecordMetadata(ctx, kind, id, metadata)
}

func (s *flakyStore) AppendEvent(ctx context.Context, document string, metadata map[string]string) (memory.Event, error) {
	if s.failAppend {
		return memory.Event{}, errors.New("db blip")
	}
	return s.MemStore.AppendEvent(ctx, document, metadata)
}

func TestInboundStep_StoreFailureKeepsBatchPending(t *testing.T) {
	tests := []struct {
		name  string
		store *flakyStore
	}{
		{name: "second mark fails", store: &flakyStore{MemStore: memory.NewMemStore(), failMarkAt: 2}},
		{name: "event append fails", store: &flakyStore{MemStore: memory.NewMemStore(), failAppend: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{}
			chat.push(
				twitch.ChatMessage{Username: "alice", Text: "a"},
				twitch.ChatMessage{Username: "bob", Text: "b"},
			)
			pub := &recordingPublisher{}
			r, _ := newTestRuntime(t, Deps{
				Chat:      chat,
				Store:     tt.store,
				Completer: &fakeCompleter{GenerateWithFunctionFunc: banter("hi both")},
				Publisher: pub,
			})

			require.Error(t, r.inboundStep(context.Background()))

			pending := recordsWith(t, tt.store, map[string]string{"handled": memory.Unhandled})
			require.Len(t, pending, 2)
			assert.Equal(t, "alice", pending[0].Metadata["user"])
			assert.Equal(t, "bob", pending[1].Metadata["user"])
			for _, rec := range recordsWith(t, tt.store, map[string]string{"handled": memory.Handled}) {
				assert.Equal(t, memory.Self, rec.Metadata["user"], "only the persona's own line may be handled")
			}
			assert.Empty(t, pub.Types())
			assert.Empty(t, r.inflight)
		})
	}
}
