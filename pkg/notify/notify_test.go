package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/slack-go/slack"
)

type fakeClient struct {
	lastChannel string
	callCount   int
	err         error
}

func (f *fakeClient) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.lastChannel = channelID
	f.callCount++
	if f.err != nil {
		return "", "", f.err
	}
	return "C1", "1234.5678", nil
}

func TestPendingApproval_PostsToConfiguredChannel(t *testing.T) {
	client := &fakeClient{}
	n := NewWithClient(client, "C-OPS")

	if err := n.PendingApproval(context.Background(), "t1", "dec-1", "exec-1", "high risk"); err != nil {
		t.Fatalf("PendingApproval() error = %v", err)
	}
	if client.lastChannel != "C-OPS" {
		t.Errorf("lastChannel = %q, want C-OPS", client.lastChannel)
	}
	if client.callCount != 1 {
		t.Errorf("callCount = %d, want 1", client.callCount)
	}
}

func TestResolved_PostsOnce(t *testing.T) {
	client := &fakeClient{}
	n := NewWithClient(client, "C-OPS")

	if err := n.Resolved(context.Background(), "t1", "dec-1", "approved"); err != nil {
		t.Fatalf("Resolved() error = %v", err)
	}
	if client.callCount != 1 {
		t.Errorf("callCount = %d, want 1", client.callCount)
	}
}

func TestExpired_PostsOnce(t *testing.T) {
	client := &fakeClient{}
	n := NewWithClient(client, "C-OPS")

	if err := n.Expired(context.Background(), "t1", "dec-1"); err != nil {
		t.Fatalf("Expired() error = %v", err)
	}
	if client.callCount != 1 {
		t.Errorf("callCount = %d, want 1", client.callCount)
	}
}

func TestPost_NoChannelConfiguredIsNoOp(t *testing.T) {
	client := &fakeClient{}
	n := NewWithClient(client, "")

	if err := n.PendingApproval(context.Background(), "t1", "dec-1", "exec-1", "reason"); err != nil {
		t.Fatalf("PendingApproval() error = %v", err)
	}
	if client.callCount != 0 {
		t.Error("expected no post when no channel is configured")
	}
}

func TestPost_ClientErrorIsWrapped(t *testing.T) {
	client := &fakeClient{err: errors.New("slack unavailable")}
	n := NewWithClient(client, "C-OPS")

	if err := n.PendingApproval(context.Background(), "t1", "dec-1", "exec-1", "reason"); err == nil {
		t.Fatal("expected an error when the Slack client fails")
	}
}
