package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"citrine/pkg/completion"
	"citrine/pkg/memory"

	"go.uber.org/zap"
)

var errEmptyReply = errors.New("model returned empty banter")

// RunInbound records incoming chat and answers it until ctx is done. The
// chat source's poll paces the loop; a failed reply cycle backs off first.
func (r *Runtime) RunInbound(ctx context.Context) error {
	for ctx.Err() == nil {
		if err := r.inboundStep(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			r.log.Warn("Reply cycle failed, records stay pending", zap.Error(err))
			if r.sleep(ctx, r.settings.FailureBackoff) != nil {
				break
			}
		}
	}
	return nil
}

func (r *Runtime) inboundStep(ctx context.Context) error {
	for _, m := range r.chat.ReceiveMessages(ctx) {
		r.clock.Stamp(r.now())
		_, err := r.store.CreateRecord(ctx, memory.KindTwitchMessage, m.Text, map[string]string{
			"user":    m.Username,
			"handled": memory.Unhandled,
		})
		if err != nil {
			r.log.Error("Failed to store chat message", zap.String("user", m.Username), zap.Error(err))
			continue
		}
		r.log.Debug("Chat message", zap.String("user", m.Username), zap.String("text", m.Text))
	}
	return r.respondToChat(ctx)
}

// respondToChat answers every pending chat record no other cycle has claimed.
// On any failure the batch is left unhandled for the next cycle.
func (r *Runtime) respondToChat(ctx context.Context) error {
	batch, err := r.claimPending(ctx)
	if err != nil {
		return fmt.Errorf("query pending chat: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}
	defer r.release(batch)

	prompt, err := r.chatPrompt(ctx, batch)
	if err != nil {
		return fmt.Errorf("compose chat prompt: %w", err)
	}

	args, err := r.llm.GenerateWithFunction(ctx, prompt, respondToChatFunction, completion.Options{
		Temperature: r.settings.Temperature,
	})
	if err != nil {
		return fmt.Errorf("respond to chat: %w", err)
	}

	banter := strings.TrimSpace(stringArg(args, "banter"))
	if banter == "" {
		return errEmptyReply
	}

	urls := stringsArg(args, "urls")
	if len(urls) > 0 && r.files != nil {
		r.files.Fetch(ctx, urls)
	}

	_, err = r.emit(ctx, reply{
		kind:     chatReply,
		text:     banter,
		emotion:  stringArg(args, "emotion"),
		gesture:  stringArg(args, "gesture"),
		urls:     urls,
		answered: batch,
	})
	return err
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func stringsArg(args map[string]any, key string) []string {
	var out []string
	switch v := args[key].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		for _, s := range v {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}
