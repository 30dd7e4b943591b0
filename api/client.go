// Package api talks to the device backend. Every call is authenticated with the
// device's access token; an expired token is refreshed once and the call resent
// once, without the caller seeing it.
package api

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aatchison/mycroft-core/identity"
)

const (
	DefaultURL     = "https://api.mycroft.ai"
	DefaultVersion = "v1"

	DefaultConnectTimeout = 3050 * time.Millisecond
	DefaultReadTimeout    = 15 * time.Second

	// TokenPath is the refresh endpoint. A 401 from it is final.
	TokenPath = "auth/token"
)

type IdentityStore interface {
	Current() identity.Identity
	Replace(ctx context.Context, next identity.Identity) error
	IsExpired() bool
}

type Config struct {
	URL            string
	Version        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Identity       IdentityStore

	// HTTPClient overrides the timeout-configured default client.
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

type Client struct {
	url        string
	version    string
	identity   IdentityStore
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time

	refreshMu sync.Mutex
}

type response struct {
	statusCode int
	data       any
}

func (r *response) ok() bool {
	return r.statusCode >= 200 && r.statusCode < 300
}

func (r *response) err() error {
	return &RequestError{StatusCode: r.statusCode, Body: r.data}
}

func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Identity == nil {
		return nil, fmt.Errorf("identity store is nil")
	}

	baseURL := strings.TrimRight(cfg.URL, "/")
	if baseURL == "" {
		baseURL = DefaultURL
	}

	version := cfg.Version
	if version == "" {
		version = DefaultVersion
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient(cfg.ConnectTimeout, cfg.ReadTimeout)
	}

	return &Client{
		url:        baseURL,
		version:    version,
		identity:   cfg.Identity,
		httpClient: httpClient,
		logger:     cfg.Logger.With().Str("component", "api").Logger(),
		now:        time.Now,
	}, nil
}

// newHTTPClient keeps the connect budget short and gives the response a longer
// one, since audio uploads can be large.
func newHTTPClient(connectTimeout, readTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}

	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	return &http.Client{
		Timeout: connectTimeout + readTimeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
			TLSHandshakeTimeout:   connectTimeout,
			ResponseHeaderTimeout: readTimeout,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// Request performs an authenticated call and returns the decoded payload.
//
// A locally expired identity is refreshed before sending. A 401 triggers exactly
// one refresh and one resend; the resent response is returned as-is. A 401 from
// the token endpoint itself, or a failed refresh, yields ErrAuthFatal.
func (c *Client) Request(ctx context.Context, req *Request) (any, error) {
	if req == nil {
		return nil, fmt.Errorf("request is nil")
	}

	err := c.checkToken(ctx)
	if err != nil {
		return nil, err
	}

	retried := false

	for {
		accessToken := c.identity.Current().AccessToken

		resp, err := c.send(ctx, req, accessToken)
		if err != nil {
			return nil, err
		}

		if resp.ok() {
			return resp.data, nil
		}

		if resp.statusCode == http.StatusUnauthorized {
			if isTokenPath(req.Path) {
				return nil, fmt.Errorf("%w: %w", ErrAuthFatal, resp.err())
			}

			if !retried {
				c.logger.Debug().Str("path", req.Path).Msg("access token rejected, refreshing")

				err = c.refreshToken(ctx, accessToken)
				if err != nil {
					return nil, err
				}

				retried = true

				continue
			}
		}

		return nil, resp.err()
	}
}

// RequestInto performs Request and decodes the payload into out.
func (c *Client) RequestInto(ctx context.Context, req *Request, out any) error {
	payload, err := c.Request(ctx, req)
	if err != nil {
		return err
	}

	err = decodeInto(payload, out)
	if err != nil {
		return fmt.Errorf("decoding %s response: %w", req.Path, err)
	}

	return nil
}

func (c *Client) checkToken(ctx context.Context) error {
	current := c.identity.Current()

	if current.RefreshToken == "" || !c.identity.IsExpired() {
		return nil
	}

	c.logger.Debug().Msg("identity expired locally, refreshing before send")

	return c.refreshToken(ctx, current.AccessToken)
}

// refreshToken exchanges the refresh token for a new identity. Refreshes are
// serialized; a caller that waited behind another refresh finds staleToken
// already replaced and returns without refreshing again.
func (c *Client) refreshToken(ctx context.Context, staleToken string) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	current := c.identity.Current()

	if current.AccessToken != staleToken && !current.IsExpired(c.now()) {
		return nil
	}

	if current.RefreshToken == "" {
		return fmt.Errorf("%w: no refresh token", ErrAuthFatal)
	}

	resp, err := c.send(ctx, &Request{
		Method: http.MethodGet,
		Path:   TokenPath,
		Headers: map[string]string{
			headerAuthorization: "Bearer " + current.RefreshToken,
		},
	}, "")
	if err != nil {
		return err
	}

	if !resp.ok() {
		return fmt.Errorf("%w: %w", ErrAuthFatal, resp.err())
	}

	var login identity.Login

	err = decodeInto(resp.data, &login)
	if err != nil || login.AccessToken == "" {
		return fmt.Errorf("%w: unusable token response: %v", ErrAuthFatal, resp.data)
	}

	next := login.Identity(c.now())
	if next.UUID == "" {
		next.UUID = current.UUID
	}

	// the server has already rotated the refresh token, so an identity that cannot
	// be saved leaves the device unable to authenticate
	err = c.identity.Replace(ctx, next)
	if err != nil {
		return fmt.Errorf("%w: saving refreshed identity: %w", ErrAuthFatal, err)
	}

	c.logger.Info().Time("expires_at", next.ExpiresAt).Msg("access token refreshed")

	return nil
}

func (c *Client) send(ctx context.Context, req *Request, accessToken string) (*response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	headers := buildHeaders(req, accessToken)

	body, err := buildBody(req, headers)
	if err != nil {
		return nil, fmt.Errorf("encoding %s body: %w", req.Path, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(req), body)
	if err != nil {
		return nil, err
	}

	httpReq.Header = headers

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}

	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}

	return &response{
		statusCode: httpResp.StatusCode,
		data:       decodeBody(raw),
	}, nil
}

func isTokenPath(path string) bool {
	return strings.HasSuffix(strings.TrimRight(path, "/"), TokenPath)
}
