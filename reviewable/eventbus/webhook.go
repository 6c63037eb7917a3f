package eventbus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/discourse/discourse-sub052/reviewable"
	"github.com/discourse/discourse-sub052/util"

	"golang.org/x/time/rate"
)

type WebhookConfig struct {
	URL        string
	AdminToken string
	// outbound requests per second; zero means unlimited
	RateLimit  float64
	Logger     *slog.Logger
	HTTPClient *http.Client
}

// WebhookBus POSTs each event as JSON. Transient failures are retried by
// the retryablehttp client; what is left after that is returned.
type WebhookBus struct {
	logger     *slog.Logger
	webhookURL string
	adminToken string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ reviewable.EventBus = (*WebhookBus)(nil)

func NewWebhookBus(config WebhookConfig) (*WebhookBus, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("webhook URL required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := config.HTTPClient
	if client == nil {
		client = util.RobustHTTPClient(logger)
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return &WebhookBus{
		logger:     logger.With("component", "webhook"),
		webhookURL: config.URL,
		adminToken: config.AdminToken,
		httpClient: client,
		limiter:    limiter,
	}, nil
}

func (w *WebhookBus) Publish(ctx context.Context, evt *reviewable.Event) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if w.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+w.adminToken)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	w.logger.Debug("delivered event", "id", evt.ReviewableID, "kind", evt.Kind)
	return nil
}
