package bot

import (
	"context"
	"encoding/json"
	"fmt"

	"citrine/pkg/agenda"
	"citrine/pkg/comlink"
	"citrine/pkg/memory"

	"go.uber.org/zap"
)

type replyKind int

const (
	chatReply replyKind = iota
	ambientReply
)

type reply struct {
	kind    replyKind
	text    string
	emotion string
	gesture string
	urls    []string

	// answered are the claimed chat records this reply covers.
	answered []memory.Record

	// Ambient commentary metadata; absent when the metadata call failed.
	hasMetadata bool
	visual      string
	audio       string
}

// emit is the only place records are marked handled. It stores the reply as
// the persona's own line and event, publishes it, and restarts the quiet
// period. Store failures abort before anything is published, and records
// marked by the failed emission are set back to pending.
func (r *Runtime) emit(ctx context.Context, rep reply) (memory.Event, error) {
	for i, rec := range rep.answered {
		if err := r.store.UpdateRecordMetadata(ctx, memory.KindTwitchMessage, rec.ID, map[string]string{"handled": memory.Handled}); err != nil {
			r.unmark(ctx, rep.answered[:i])
			return memory.Event{}, fmt.Errorf("mark %s handled: %w", rec.ID, err)
		}
	}

	if _, err := r.store.CreateRecord(ctx, memory.KindTwitchMessage, rep.text, map[string]string{
		"user":    memory.Self,
		"handled": memory.Handled,
	}); err != nil {
		r.unmark(ctx, rep.answered)
		return memory.Event{}, fmt.Errorf("store own message: %w", err)
	}

	eventMeta := map[string]string{
		"type":    "message",
		"creator": memory.Self,
	}
	if rep.kind == chatReply {
		urls := rep.urls
		if urls == nil {
			urls = []string{}
		}
		encoded, _ := json.Marshal(urls)
		eventMeta["urls"] = string(encoded)
	}
	event, err := r.store.AppendEvent(ctx, rep.text, eventMeta)
	if err != nil {
		r.unmark(ctx, rep.answered)
		return memory.Event{}, fmt.Errorf("append event: %w", err)
	}

	switch rep.kind {
	case chatReply:
		r.publish(ctx, comlink.TypeMessage, map[string]string{
			"message": rep.text,
			"emotion": rep.emotion,
			"gesture": rep.gesture,
		})
	case ambientReply:
		if rep.hasMetadata {
			meta := map[string]string{
				"emotion":            rep.emotion,
				"gesture":            rep.gesture,
				"visual_description": rep.visual,
				"audio_description":  rep.audio,
			}
			r.publish(ctx, comlink.TypeEmotion, meta)
			r.publish(ctx, comlink.TypeDescription, meta)
		}
		if task := r.currentTask(agenda.FormatOptions{}); task != "" {
			r.publish(ctx, comlink.TypeTask, task)
		}
		r.publish(ctx, comlink.TypeMessage, map[string]string{"message": rep.text})
	}

	r.clock.Stamp(r.now())
	r.log.Info("Spoke",
		zap.String("text", rep.text),
		zap.Int("answered", len(rep.answered)),
		zap.Int64("epoch", event.Epoch))
	return event, nil
}

// unmark returns records to pending after a failed emission. It runs on a
// context detached from cancellation so shutdown cannot strand a record.
func (r *Runtime) unmark(ctx context.Context, records []memory.Record) {
	ctx = context.WithoutCancel(ctx)
	for _, rec := range records {
		if err := r.store.UpdateRecordMetadata(ctx, memory.KindTwitchMessage, rec.ID, map[string]string{"handled": memory.Unhandled}); err != nil {
			r.log.Error("Failed to return record to pending", zap.String("id", rec.ID), zap.Error(err))
		}
	}
}

// publish is best effort; a sink being down never undoes a reply.
func (r *Runtime) publish(ctx context.Context, typ string, payload any) {
	msg, err := comlink.NewMessage(typ, r.settings.Source, payload)
	if err != nil {
		r.log.Error("Failed to encode outgoing message", zap.String("type", typ), zap.Error(err))
		return
	}
	if err := r.pub.Publish(ctx, msg); err != nil {
		r.log.Warn("Failed to publish", zap.String("type", typ), zap.Error(err))
	}
}
