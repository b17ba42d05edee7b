package bot

import (
	"context"
	"strings"
	"time"

	"citrine/pkg/completion"
	"citrine/pkg/memory"

	"go.uber.org/zap"
)

// RunIdle comments on recent events whenever chat has been quiet for the
// quiet period and something new has happened since the last comment.
func (r *Runtime) RunIdle(ctx context.Context) error {
	for ctx.Err() == nil {
		wait := r.idleStep(ctx)
		if r.sleep(ctx, wait) != nil {
			break
		}
	}
	return nil
}

// idleStep runs one idle cycle and returns how long to wait before the next.
func (r *Runtime) idleStep(ctx context.Context) time.Duration {
	poll := r.settings.IdlePoll

	if !r.clock.Reserve(r.now(), r.settings.QuietPeriod) {
		return poll
	}

	epoch, err := memory.LatestEpoch(ctx, r.store)
	if err != nil {
		r.log.Warn("Failed to read latest event epoch", zap.Error(err))
		return poll
	}
	if epoch == r.lastEpoch {
		return poll
	}

	prompt, err := r.ambientPrompt(ctx)
	if err != nil {
		r.log.Error("Failed to compose commentary prompt", zap.Error(err))
		return poll
	}

	text, err := r.llm.GenerateText(ctx, prompt, completion.Options{Temperature: r.settings.IdleTemperature})
	if err != nil {
		r.log.Warn("Commentary generation failed", zap.Error(err))
		return poll
	}
	text = strings.TrimSpace(text)
	if text == "" {
		r.log.Debug("Commentary was empty, skipping")
		return poll
	}

	rep := reply{kind: ambientReply, text: text}
	args, err := r.llm.GenerateWithFunction(ctx, prompt, commentFunction, completion.Options{Temperature: r.settings.MetadataTemperature})
	if err != nil {
		r.log.Debug("Commentary metadata unavailable", zap.Error(err))
	} else {
		rep.hasMetadata = true
		rep.emotion = stringArg(args, "emotion")
		rep.gesture = stringArg(args, "gesture")
		rep.visual = stringArg(args, "visual_description")
		rep.audio = stringArg(args, "audio_description")
	}

	event, err := r.emit(ctx, rep)
	if err != nil {
		r.log.Error("Failed to emit commentary", zap.Error(err))
		return poll
	}
	r.lastEpoch = event.Epoch

	return r.speechDuration(text)
}

// speechDuration is roughly how long text takes to say aloud, in whole seconds.
func (r *Runtime) speechDuration(text string) time.Duration {
	rate := r.settings.SpeechTokensPerSecond
	if rate <= 0 {
		return 0
	}
	return time.Duration(int(float64(r.tokens(text))/rate)) * time.Second
}
