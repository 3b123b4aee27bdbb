// Package notify sends operator-facing Slack notifications for the
// approval lifecycle's pending/resolved/expiry events, so a
// require_approval verdict under enforce mode doesn't silently wait for a
// human to notice it in the operator console.
package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	sharederrors "github.com/agentgate/gatekeeper/pkg/shared/errors"
	"github.com/agentgate/gatekeeper/pkg/shared/httpclient"
)

// Client is the subset of slack.Client the notifier depends on, so tests
// can substitute a fake without hitting the network.
type Client interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier posts approval-lifecycle events to a configured Slack channel.
type Notifier struct {
	client  Client
	channel string
}

func New(token, channel string) *Notifier {
	httpClient := httpclient.NewClient(httpclient.SlackClientConfig())
	return &Notifier{client: slack.New(token, slack.OptionHTTPClient(httpClient)), channel: channel}
}

// NewWithClient builds a Notifier over a caller-supplied Client, used by
// tests to inject a fake.
func NewWithClient(client Client, channel string) *Notifier {
	return &Notifier{client: client, channel: channel}
}

// PendingApproval notifies that a decision now requires operator action.
func (n *Notifier) PendingApproval(ctx context.Context, tenantID, decisionID, executionID, explanation string) error {
	text := fmt.Sprintf(":warning: Decision `%s` (tenant `%s`, execution `%s`) requires approval: %s",
		decisionID, tenantID, executionID, explanation)
	return n.post(ctx, text)
}

// Resolved notifies that a pending decision reached a terminal status.
func (n *Notifier) Resolved(ctx context.Context, tenantID, decisionID, status string) error {
	text := fmt.Sprintf(":white_check_mark: Decision `%s` (tenant `%s`) resolved: %s", decisionID, tenantID, status)
	return n.post(ctx, text)
}

// Expired notifies that a pending decision timed out unresolved.
func (n *Notifier) Expired(ctx context.Context, tenantID, decisionID string) error {
	text := fmt.Sprintf(":hourglass: Decision `%s` (tenant `%s`) expired waiting for approval", decisionID, tenantID)
	return n.post(ctx, text)
}

func (n *Notifier) post(ctx context.Context, text string) error {
	if n.client == nil || n.channel == "" {
		return nil
	}
	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return sharederrors.NetworkError("post slack notification", "slack", err)
	}
	return nil
}
