package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/bazaarline/marketplace-backend/pkg/config"
)

func TestResourceNames(t *testing.T) {
	c := &Client{projectID: "bazaar-prod"}

	if got := c.topicResourceName("bl-order-events"); got != "projects/bazaar-prod/topics/bl-order-events" {
		t.Fatalf("unexpected topic name %q", got)
	}
	full := "projects/other/topics/x"
	if got := c.topicResourceName(full); got != full {
		t.Fatalf("expected full name passthrough, got %q", got)
	}
	if got := c.subscriptionResourceName(" bl-analytics-events-sub "); got != "projects/bazaar-prod/subscriptions/bl-analytics-events-sub" {
		t.Fatalf("unexpected subscription name %q", got)
	}
	if got := c.subscriptionResourceName(""); got != "" {
		t.Fatalf("expected empty name, got %q", got)
	}
}

func TestCompactDropsBlankNames(t *testing.T) {
	got := compact([]string{"a", " ", "", " b "})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected names %v", got)
	}
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{}, nil)
	if !errors.Is(err, errProjectIDRequired) {
		t.Fatalf("expected project id error, got %v", err)
	}
}

func TestNilClientHandles(t *testing.T) {
	var c *Client
	if c.Publisher("x") != nil || c.Subscription("x") != nil {
		t.Fatal("expected nil handles from nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close nil client: %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping on nil client to fail")
	}
}
