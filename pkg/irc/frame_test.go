package irc

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_PrivmsgAndPing(t *testing.T) {
	buf := []byte(":alice!alice@x PRIVMSG #chan :hello\r\nPING :tmi.chat\r\n")

	frames, rest, skipped := Parse(buf)

	require.Len(t, frames, 2)
	assert.Empty(t, rest)
	assert.Zero(t, skipped)

	assert.Equal(t, "alice", frames[0].Source)
	assert.Equal(t, "alice!alice@x", frames[0].Prefix)
	assert.Equal(t, "PRIVMSG", frames[0].Command)
	assert.Equal(t, []string{"#chan"}, frames[0].Params)
	assert.Equal(t, "hello", frames[0].Trailing)

	assert.Equal(t, "PING", frames[1].Command)
	assert.Empty(t, frames[1].Source)
	assert.Nil(t, frames[1].Params)
	assert.Equal(t, "tmi.chat", frames[1].Trailing)
}

func TestParse_ServerPrefixAndParams(t *testing.T) {
	frames, _, _ := Parse([]byte(":tmi.twitch.tv 353 justinfan123 = #chan :a b c\r\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "tmi.twitch.tv", frames[0].Prefix)
	assert.Empty(t, frames[0].Source)
	assert.Equal(t, "353", frames[0].Command)
	assert.Equal(t, []string{"justinfan123", "=", "#chan"}, frames[0].Params)
	assert.Equal(t, "#chan", frames[0].Param(2))
	assert.Equal(t, "", frames[0].Param(7))
	assert.Equal(t, "a b c", frames[0].Trailing)
}

func TestParse_PartialCarryover(t *testing.T) {
	buf := []byte("PING :one\r\n:bob!bob@x PRIVMSG #chan :hal")

	frames, rest, skipped := Parse(buf)

	require.Len(t, frames, 1)
	assert.Equal(t, "PING", frames[0].Command)
	assert.Equal(t, []byte(":bob!bob@x PRIVMSG #chan :hal"), rest)
	assert.Zero(t, skipped)

	frames, rest, _ = Parse(append(rest, []byte("f done\r\n")...))
	require.Len(t, frames, 1)
	assert.Equal(t, "half done", frames[0].Trailing)
	assert.Empty(t, rest)
}

func TestParse_NoMatchKeepsEverything(t *testing.T) {
	buf := []byte(":carol!carol@x PRIVMSG #chan :a very long line that never ends")

	frames, rest, skipped := Parse(buf)

	assert.Empty(t, frames)
	assert.Equal(t, buf, rest)
	assert.Zero(t, skipped)

	// rest must not alias the caller's buffer
	buf[0] = 'X'
	assert.Equal(t, byte(':'), rest[0])
}

func TestParse_LeadingGarbageReported(t *testing.T) {
	buf := []byte("garbage with no newline PING :x\nPING :y\r\n")

	frames, _, skipped := Parse(buf)

	require.Len(t, frames, 1)
	assert.Equal(t, "y", frames[0].Trailing)
	assert.Equal(t, len("garbage with no newline PING :x\n"), skipped)
}

func TestParse_GarbageBetweenFramesReported(t *testing.T) {
	bad := "MODE #c +b nick:foo\r\n"
	buf := []byte("PING :a\r\n" + bad + ":bob!bob@x PRIVMSG #chan :hi\r\n")

	frames, rest, skipped := Parse(buf)

	require.Len(t, frames, 2)
	assert.Equal(t, "PING", frames[0].Command)
	assert.Equal(t, "PRIVMSG", frames[1].Command)
	assert.Empty(t, rest)
	assert.Equal(t, len(bad), skipped)
}

func TestParse_InvalidUTF8IsReplaced(t *testing.T) {
	buf := append([]byte(":d!d@x PRIVMSG #chan :bad "), 0xff, 0xfe)
	buf = append(buf, []byte(" bytes\r\n")...)

	frames, _, _ := Parse(buf)

	require.Len(t, frames, 1)
	assert.Equal(t, "bad � bytes", frames[0].Trailing)
}

func TestParse_SplitAcrossReads(t *testing.T) {
	want := []Frame{
		{Prefix: "tmi.twitch.tv", Command: "001", Params: []string{"justinfan1"}, Trailing: "Welcome, GLHF!"},
		{Prefix: "alice!alice@x", Source: "alice", Command: "PRIVMSG", Params: []string{"#chan"}, Trailing: "hello there"},
		{Command: "PING", Trailing: "tmi.twitch.tv"},
		{Prefix: "bob!bob@x", Source: "bob", Command: "JOIN", Params: []string{"#chan"}},
		{Prefix: "carol!carol@x", Source: "carol", Command: "PRIVMSG", Params: []string{"#chan"}, Trailing: "ünïcödé :) ok"},
	}
	var stream []byte
	for _, f := range want {
		stream = append(stream, render(f)...)
	}

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		var got []Frame
		var partial []byte
		for _, chunk := range randomSplit(rng, stream) {
			frames, rest, skipped := Parse(append(partial, chunk...))
			require.Zero(t, skipped)
			got = append(got, frames...)
			partial = rest
		}
		require.Empty(t, partial)
		require.Equal(t, want, got, "round %d", round)
	}
}

func TestLineEncodesCommands(t *testing.T) {
	join, err := Join("isekai_citrine")
	require.NoError(t, err)
	msg, err := ircmsg.ParseLine(strings.TrimRight(string(join), "\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "JOIN", msg.Command)
	assert.Equal(t, []string{"#isekai_citrine"}, msg.Params)

	login, err := Login("asdf", "justinfan12345")
	require.NoError(t, err)
	frames, rest, _ := Parse(login)
	assert.Empty(t, rest)
	require.Len(t, frames, 2)
	assert.Equal(t, "PASS", frames[0].Command)
	assert.Equal(t, "NICK", frames[1].Command)
	assert.Equal(t, []string{"justinfan12345"}, frames[1].Params)

	pong, err := Pong("tmi.twitch.tv")
	require.NoError(t, err)
	frames, _, _ = Parse(pong)
	require.Len(t, frames, 1)
	assert.Equal(t, "PONG", frames[0].Command)
}

func render(f Frame) []byte {
	var b []byte
	if f.Prefix != "" {
		b = append(b, ':')
		b = append(b, f.Prefix...)
		b = append(b, ' ')
	}
	b = append(b, f.Command...)
	for _, p := range f.Params {
		b = append(b, ' ')
		b = append(b, p...)
	}
	if f.Trailing != "" {
		b = append(b, " :"...)
		b = append(b, f.Trailing...)
	}
	return append(b, "\r\n"...)
}

func randomSplit(rng *rand.Rand, stream []byte) [][]byte {
	var chunks [][]byte
	for len(stream) > 0 {
		n := 1 + rng.Intn(len(stream))
		if n > 17 {
			n = 1 + rng.Intn(17)
		}
		chunks = append(chunks, stream[:n])
		stream = stream[n:]
	}
	return chunks
}
