package twitch

import (
	"context"

	"citrine/pkg/irc"

	"go.uber.org/zap"
)

// ChatMessage is one line said in the joined channel.
type ChatMessage struct {
	Username string
	Text     string
}

// ignoredReplies are greeting, MOTD and NAMES numerics Twitch sends on join.
var ignoredReplies = map[string]bool{
	"002": true,
	"003": true,
	"004": true,
	"353": true,
	"366": true,
	"372": true,
	"375": true,
	"376": true,
}

// ReceiveMessages polls the connection once and returns the chat messages it
// carried. Pings are answered and the channel is joined as a side effect.
// Until the server confirms the login, nothing is surfaced; a login that
// takes longer than LoginTimeout forces an immediate reconnect.
func (c *Conn) ReceiveMessages(ctx context.Context) []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	var msgs []ChatMessage
	for _, frame := range c.receiveLocked(ctx) {
		if m, ok := c.classifyLocked(frame); ok {
			msgs = append(msgs, m)
		}
	}

	if !c.loginOK && c.conn != nil && c.now().Sub(c.loginStarted) > c.opts.LoginTimeout {
		c.log.Warn("No login confirmation from Twitch, reconnecting", zap.Duration("waited", c.now().Sub(c.loginStarted)))
		c.retry(ctx, 0)
		return nil
	}
	if !c.loginOK {
		return nil
	}
	return msgs
}

func (c *Conn) classifyLocked(frame irc.Frame) (ChatMessage, bool) {
	switch cmd := frame.Command; {
	case cmd == "PRIVMSG":
		return ChatMessage{Username: frame.Source, Text: frame.Trailing}, true
	case cmd == "PING":
		if line, err := irc.Pong(c.opts.PongToken); err == nil {
			if err := c.sendLocked(line); err != nil {
				c.log.Warn("Failed to answer ping", zap.Error(err))
			}
		}
	case cmd == "001":
		c.log.Info("Logged in, joining channel", zap.String("channel", c.opts.Channel))
		c.loginOK = true
		if line, err := irc.Join(c.opts.Channel); err == nil {
			if err := c.sendLocked(line); err != nil {
				c.log.Warn("Failed to join channel", zap.Error(err))
			}
		}
	case cmd == "JOIN":
		c.log.Info("Joined channel", zap.String("channel", frame.Param(0)))
	case cmd == "NOTICE":
		c.log.Info("Server notice", zap.Strings("params", frame.Params), zap.String("text", frame.Trailing))
	case ignoredReplies[cmd]:
	default:
		c.log.Debug("Unhandled irc message",
			zap.String("prefix", frame.Prefix),
			zap.String("command", cmd),
			zap.Strings("params", frame.Params),
			zap.String("trailing", frame.Trailing))
	}
	return ChatMessage{}, false
}
