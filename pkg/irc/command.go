package irc

import (
	"fmt"

	"github.com/ergochat/irc-go/ircmsg"
)

// Line renders a client command as a CR-LF terminated line.
func Line(command string, params ...string) ([]byte, error) {
	msg := ircmsg.MakeMessage(nil, "", command, params...)
	line, err := msg.Line()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", command, err)
	}
	return []byte(line), nil
}

// Login returns the PASS/NICK handshake used for anonymous read access.
func Login(pass, nick string) ([]byte, error) {
	p, err := Line("PASS", pass)
	if err != nil {
		return nil, err
	}
	n, err := Line("NICK", nick)
	if err != nil {
		return nil, err
	}
	return append(p, n...), nil
}

func Join(channel string) ([]byte, error) {
	return Line("JOIN", "#"+channel)
}

func Pong(token string) ([]byte, error) {
	return Line("PONG", token)
}
