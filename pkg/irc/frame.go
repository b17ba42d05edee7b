// Package irc splits a raw chat byte stream into protocol frames and
// encodes the few commands the bot sends back.
package irc

import (
	"bytes"
	"regexp"
	"strings"
)

// frameRegex matches one CR-LF terminated line of the form
// [:prefix ]command[ params][ :trailing]. Group 1 is the nick of a
// nick!user@host prefix, group 2 the whole prefix.
var frameRegex = regexp.MustCompile(`(?m)^(?::((?:([^ !\r\n]+)![^ \r\n]*)|[^ \r\n]*) )?([^ \r\n]+)(?: ([^:\r\n]*))?(?: :([^\r\n]*))?\r\n`)

// Frame is a single parsed protocol line.
type Frame struct {
	Prefix   string
	Source   string
	Command  string
	Params   []string
	Trailing string
}

// Param returns the i-th param or "" when absent.
func (f Frame) Param(i int) string {
	if i < 0 || i >= len(f.Params) {
		return ""
	}
	return f.Params[i]
}

// Parse extracts every complete frame from buf. rest holds the bytes after
// the last complete frame (or all of buf when nothing matched) and must be
// prepended to the next read. skipped counts the bytes that fell outside every
// match, ahead of the first frame or between two; anything non-zero means data
// was lost and should be reported.
func Parse(buf []byte) (frames []Frame, rest []byte, skipped int) {
	matches := frameRegex.FindAllSubmatchIndex(buf, -1)
	if len(matches) == 0 {
		return nil, bytes.Clone(buf), 0
	}

	frames = make([]Frame, 0, len(matches))
	prevEnd := 0
	for _, m := range matches {
		skipped += m[0] - prevEnd
		prevEnd = m[1]
		frames = append(frames, Frame{
			Prefix:   group(buf, m, 1),
			Source:   group(buf, m, 2),
			Command:  group(buf, m, 3),
			Params:   splitParams(group(buf, m, 4)),
			Trailing: group(buf, m, 5),
		})
	}

	if end := matches[len(matches)-1][1]; end < len(buf) {
		rest = bytes.Clone(buf[end:])
	}
	return frames, rest, skipped
}

func group(buf []byte, m []int, n int) string {
	start, end := m[2*n], m[2*n+1]
	if start < 0 {
		return ""
	}
	return decode(buf[start:end])
}

func decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

func splitParams(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, " ")
}
