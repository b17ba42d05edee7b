package bot

import (
	"context"

	"citrine/pkg/agenda"
	"citrine/pkg/completion"
	"citrine/pkg/twitch"
)

// ChatSource yields the chat lines received since the last call.
type ChatSource interface {
	ReceiveMessages(ctx context.Context) []twitch.ChatMessage
}

type Completer interface {
	GenerateText(ctx context.Context, prompt string, opts completion.Options) (string, error)
	GenerateWithFunction(ctx context.Context, prompt string, fn completion.Function, opts completion.Options) (map[string]any, error)
}

// Fetcher downloads links in the background and lists what it has.
type Fetcher interface {
	Fetch(ctx context.Context, urls []string)
	Formatted() string
}

type TaskSource interface {
	CurrentTask() (*agenda.Task, error)
	ListTasks() (string, error)
}
