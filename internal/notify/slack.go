package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// slackPoster is the subset of the Slack client the notifier uses.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack posts engine events to a Slack channel.
type Slack struct {
	client  slackPoster
	channel string
}

// NewSlack creates a Slack notifier from a bot token and target channel.
func NewSlack(botToken, channel string) *Slack {
	return &Slack{
		client:  slack.New(botToken),
		channel: channel,
	}
}

// Name implements Notifier.
func (s *Slack) Name() string { return "slack" }

// Notify implements Notifier.
func (s *Slack) Notify(ctx context.Context, evt Event) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(format(evt), false))
	if err != nil {
		return fmt.Errorf("notify.Slack.Notify: %w", err)
	}
	return nil
}
