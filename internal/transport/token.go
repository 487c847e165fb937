package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
)

// TokenSource supplies the bearer token presented during the handshake.
// It is called before every dial so a refreshed token is used on reconnect.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenSource.
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// RESTTokenSource fetches a token from the authentication REST service.
type RESTTokenSource struct {
	client *resty.Client
	url    string
}

type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

// NewRESTTokenSource creates a token source for url. Transient failures
// (connection errors, 5xx, 429) are retried by the underlying transport.
func NewRESTTokenSource(url string, timeout time.Duration) *RESTTokenSource {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil

	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "ContentStudio-Realtime/1.0")

	return &RESTTokenSource{
		client: restyClient,
		url:    url,
	}
}

// Token implements TokenSource.
func (s *RESTTokenSource) Token(ctx context.Context) (string, error) {
	var body tokenResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get(s.url)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("token request: unexpected status %d", resp.StatusCode())
	}

	switch {
	case body.Token != "":
		return body.Token, nil
	case body.AccessToken != "":
		return body.AccessToken, nil
	default:
		return "", errors.New("token response has no token")
	}
}
