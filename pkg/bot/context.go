package bot

import (
	"context"
	"strings"

	"citrine/pkg/agenda"
	"citrine/pkg/memory"

	"go.uber.org/zap"
)

// baseContext fills the parts every prompt shares: time, events, files and tasks.
func (r *Runtime) baseContext(ctx context.Context) promptData {
	now := r.now()
	data := promptData{
		Name: r.settings.Name,
		Time: now.Format("3:04 PM"),
		Date: now.Format("Monday, January 2, 2006"),
	}

	events, err := r.store.GetLatestEvents(ctx, r.settings.EventsLimit)
	if err != nil {
		r.log.Warn("Failed to load events for prompt", zap.Error(err))
	}
	data.Events = formatEvents(events)

	if r.files != nil {
		data.Files = r.files.Formatted()
	}

	if r.tasks != nil {
		if list, err := r.tasks.ListTasks(); err != nil {
			r.log.Warn("Failed to list tasks", zap.Error(err))
		} else {
			data.Tasks = list
		}
		data.CurrentTask = r.currentTask(agenda.FormatOptions{Plan: true, Steps: true})
	}
	return data
}

// currentTask renders the current task, or "" when there is none.
func (r *Runtime) currentTask(opts agenda.FormatOptions) string {
	if r.tasks == nil {
		return ""
	}
	task, err := r.tasks.CurrentTask()
	if err != nil {
		r.log.Warn("Failed to read current task", zap.Error(err))
		return ""
	}
	if task == nil {
		return ""
	}
	return task.Format(opts)
}

// history returns the most recent handled chat records, oldest first.
func (r *Runtime) history(ctx context.Context) []memory.Record {
	handled, err := r.store.QueryRecords(ctx, memory.KindTwitchMessage, map[string]string{"handled": memory.Handled})
	if err != nil {
		r.log.Warn("Failed to load chat history", zap.Error(err))
		return nil
	}
	if limit := r.settings.HistoryLimit; limit > 0 && len(handled) > limit {
		handled = handled[len(handled)-limit:]
	}
	return handled
}

func (r *Runtime) chatPrompt(ctx context.Context, batch []memory.Record) (string, error) {
	data := r.baseContext(ctx)
	data.OldChat = formatRecords(r.history(ctx))
	data.NewChat = formatRecords(batch)
	return render(chatTemplate, data)
}

func (r *Runtime) ambientPrompt(ctx context.Context) (string, error) {
	data := r.baseContext(ctx)
	data.OldChat = formatRecords(r.history(ctx))
	return render(directorTemplates[r.pick(len(directorTemplates))], data)
}

func formatRecords(records []memory.Record) string {
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		lines = append(lines, rec.Metadata["user"]+": "+rec.Document)
	}
	return strings.Join(lines, "\n")
}

// formatEvents renders newest-first events in the order they happened.
func formatEvents(events []memory.Event) string {
	if len(events) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Recent events:")
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		b.WriteString("\n- ")
		if creator := e.Metadata["creator"]; creator != "" {
			b.WriteString(creator)
			b.WriteString(": ")
		}
		b.WriteString(e.Document)
	}
	return b.String()
}
