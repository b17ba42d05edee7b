// Package agenda reads the persona's task list from a YAML file. The file is
// re-read on every call so it can be edited while the bot runs.
package agenda

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"
)

type Step struct {
	Content string `yaml:"content"`
	Done    bool   `yaml:"done"`
}

type Task struct {
	Goal   string `yaml:"goal"`
	Status string `yaml:"status"`
	Plan   string `yaml:"plan"`
	Steps  []Step `yaml:"steps"`
}

type file struct {
	Tasks []Task `yaml:"tasks"`
}

// FormatOptions pick which parts of a task are rendered besides its goal.
type FormatOptions struct {
	Status bool
	Plan   bool
	Steps  bool
}

// Format renders the task for a prompt.
func (t Task) Format(opts FormatOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current Task: %s", t.Goal)
	if opts.Status && t.Status != "" {
		fmt.Fprintf(&b, "\nStatus: %s", t.Status)
	}
	if opts.Plan && t.Plan != "" {
		fmt.Fprintf(&b, "\nPlan: %s", t.Plan)
	}
	if opts.Steps && len(t.Steps) > 0 {
		b.WriteString("\nSteps:")
		for i, s := range t.Steps {
			mark := " "
			if s.Done {
				mark = "x"
			}
			fmt.Fprintf(&b, "\n%d. [%s] %s", i+1, mark, s.Content)
		}
	}
	return b.String()
}

// FileSource serves tasks from a YAML file. A missing file means no tasks.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) load() ([]Task, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return f.Tasks, nil
}

// CurrentTask returns the first in-progress task, else the first pending
// one, else nil.
func (s *FileSource) CurrentTask() (*Task, error) {
	tasks, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, status := range []string{StatusInProgress, StatusPending} {
		for i := range tasks {
			if tasks[i].Status == status {
				return &tasks[i], nil
			}
		}
	}
	return nil, nil
}

// ListTasks renders every task that is not complete, one per line.
func (s *FileSource) ListTasks() (string, error) {
	tasks, err := s.load()
	if err != nil {
		return "", err
	}
	var lines []string
	for _, t := range tasks {
		if t.Status == StatusComplete {
			continue
		}
		status := t.Status
		if status == "" {
			status = StatusPending
		}
		lines = append(lines, fmt.Sprintf("- %s (%s)", t.Goal, status))
	}
	if len(lines) == 0 {
		return "", nil
	}
	return "Tasks:\n" + strings.Join(lines, "\n"), nil
}
