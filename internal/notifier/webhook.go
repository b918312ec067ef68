package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/churnguard/intervention-engine/internal/domain"
	"github.com/go-resty/resty/v2"
)

const defaultWebhookTimeout = 10 * time.Second

type webhookRequest struct {
	UserID      string `json:"userId"`
	Action      string `json:"action"`
	Source      string `json:"source"`
	RiskPercent *int   `json:"riskPercent,omitempty"`
}

// WebhookNotifier delivers interventions to a webhook endpoint, typically
// the notification service that turns them into user-facing email.
type WebhookNotifier struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookNotifier(endpoint string) (*WebhookNotifier, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookNotifierWithClient(endpoint, client)
}

func NewWebhookNotifierWithClient(endpoint string, client *resty.Client) (*WebhookNotifier, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookNotifier{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (n *WebhookNotifier) Send(ctx context.Context, intervention domain.Intervention) (*Delivery, error) {
	if n == nil || n.client == nil {
		return nil, fmt.Errorf("notifier is not initialized")
	}
	if err := intervention.Validate(); err != nil {
		return nil, fmt.Errorf("invalid intervention: %w", err)
	}

	reqBody := webhookRequest{
		UserID: intervention.UserID,
		Action: intervention.ActionType.String(),
		Source: intervention.Source.String(),
	}
	if intervention.RiskAtIntervention != nil {
		percent := int(*intervention.RiskAtIntervention*100 + 0.5)
		reqBody.RiskPercent = &percent
	}

	response, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(n.endpoint)
	if err != nil {
		return nil, &Error{
			Message:   "notify request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &Error{
			Message:   "notify transport returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Delivery{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  deliveryMessageID(response),
		}, nil
	}

	return nil, &Error{
		StatusCode: statusCode,
		Message:    deliveryErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func deliveryErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("notify transport returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func deliveryMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Request-ID", "X-Request-Id", "X-Correlation-ID", "X-Correlation-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
