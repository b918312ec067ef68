package risk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/churnguard/intervention-engine/internal/domain"
	"github.com/go-resty/resty/v2"
)

const defaultRiskTimeout = 10 * time.Second

// Source provides churn risk snapshots from the scoring service.
type Source interface {
	FetchBatch(ctx context.Context, limit int) ([]domain.UserRiskSnapshot, error)
	FetchUser(ctx context.Context, userID string) (*domain.UserRiskSnapshot, error)
}

type batchResponse struct {
	Users         []domain.UserRiskSnapshot `json:"users"`
	TotalCount    int                       `json:"total_count"`
	HighRiskCount int                       `json:"high_risk_count"`
}

// Client talks to the ML scoring service over HTTP. The service returns
// batches sorted by descending churn probability.
type Client struct {
	client  *resty.Client
	baseURL string
}

func NewClient(baseURL string) (*Client, error) {
	client := resty.New()
	client.SetTimeout(defaultRiskTimeout)
	client.SetRetryCount(0)

	return NewClientWithResty(baseURL, client)
}

func NewClientWithResty(baseURL string, client *resty.Client) (*Client, error) {
	trimmedURL := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedURL == "" {
		return nil, fmt.Errorf("risk service url is required")
	}
	if _, err := url.ParseRequestURI(trimmedURL); err != nil {
		return nil, fmt.Errorf("invalid risk service url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultRiskTimeout)
	}
	client.SetRetryCount(0)

	return &Client{
		client:  client,
		baseURL: trimmedURL,
	}, nil
}

func (c *Client) FetchBatch(ctx context.Context, limit int) ([]domain.UserRiskSnapshot, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("risk client is not initialized")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive (got %d)", domain.ErrValidation, limit)
	}

	var body batchResponse
	response, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&body).
		Get(c.baseURL + "/users/risk")
	if err != nil {
		return nil, &Error{Message: "risk batch request failed", Transient: true, Cause: err}
	}
	if response.StatusCode() != http.StatusOK {
		return nil, &Error{
			StatusCode: response.StatusCode(),
			Message:    fmt.Sprintf("risk service returned status %d", response.StatusCode()),
			Transient:  isTransientHTTPStatus(response.StatusCode()),
		}
	}

	return body.Users, nil
}

func (c *Client) FetchUser(ctx context.Context, userID string) (*domain.UserRiskSnapshot, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("risk client is not initialized")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	var snapshot domain.UserRiskSnapshot
	response, err := c.client.R().
		SetContext(ctx).
		SetResult(&snapshot).
		Get(fmt.Sprintf("%s/users/%s/risk", c.baseURL, url.PathEscape(userID)))
	if err != nil {
		return nil, &Error{Message: "risk fetch request failed", Transient: true, Cause: err}
	}

	switch {
	case response.StatusCode() == http.StatusOK:
		return &snapshot, nil
	case response.StatusCode() == http.StatusNotFound:
		return nil, domain.ErrNotFound
	default:
		return nil, &Error{
			StatusCode: response.StatusCode(),
			Message:    fmt.Sprintf("risk service returned status %d", response.StatusCode()),
			Transient:  isTransientHTTPStatus(response.StatusCode()),
		}
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}
