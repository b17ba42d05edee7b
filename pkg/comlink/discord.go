package comlink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

const discordContentLimit = 2000

type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordMirror copies the persona's chat lines into a Discord channel
// through a webhook. Other message types are ignored.
type DiscordMirror struct {
	session  webhookExecutor
	id       string
	token    string
	username string
}

func NewDiscordMirror(webhookID, token, username string) (*DiscordMirror, error) {
	// Webhooks need no bot token.
	s, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}
	return &DiscordMirror{session: s, id: webhookID, token: token, username: username}, nil
}

func (d *DiscordMirror) Publish(ctx context.Context, msg Message) error {
	if msg.Type != TypeMessage {
		return nil
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decode message payload: %w", err)
	}
	if payload.Message == "" {
		return nil
	}

	content := []rune(payload.Message)
	if len(content) > discordContentLimit {
		content = content[:discordContentLimit]
	}

	_, err := d.session.WebhookExecute(d.id, d.token, false, &discordgo.WebhookParams{
		Content:  string(content),
		Username: d.username,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}
