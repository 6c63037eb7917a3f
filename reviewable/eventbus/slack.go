package eventbus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/discourse/discourse-sub052/reviewable"
)

// SlackBus posts a short message for each transition to a slack "incoming
// webhook". Other event kinds are dropped.
type SlackBus struct {
	SlackWebhookURL string
	// defaults to http.DefaultClient
	Client *http.Client
}

var _ reviewable.EventBus = (*SlackBus)(nil)

type SlackWebhookBody struct {
	Text string `json:"text"`
}

func (n *SlackBus) Publish(ctx context.Context, evt *reviewable.Event) error {
	if evt.Kind != reviewable.EventTransitioned {
		return nil
	}
	return n.sendSlackMsg(ctx, slackBody(evt))
}

func (n *SlackBus) sendSlackMsg(ctx context.Context, msg string) error {
	body, err := json.Marshal(SlackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.SlackWebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != 200 || buf.String() != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}

func slackBody(evt *reviewable.Event) string {
	msg := fmt.Sprintf("Review queue: `%s` #%d %s → %s\n", evt.Type, evt.ReviewableID, evt.OldStatus, evt.NewStatus)
	msg += fmt.Sprintf("Target: `%s` / Action: `%s` / By: `%s`\n", evt.Target, evt.Action, evt.Actor)
	if evt.Reason != "" {
		msg += fmt.Sprintf("Reason: %s\n", evt.Reason)
	}
	return msg
}
