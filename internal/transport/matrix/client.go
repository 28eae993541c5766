// Package matrix carries meeting messages over a Matrix homeserver using the
// client-server API v3. Each meeting message is an m.room.message whose
// msgtype names the message and whose body holds its JSON payload.
package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// maxResponseBytes bounds what we read from the homeserver; sync responses
// for one filtered room stay far below it.
const maxResponseBytes = 8 << 20

type ClientConfig struct {
	// HomeserverURL is the base URL, e.g. "https://matrix.example.org".
	HomeserverURL string
	// HTTPClient defaults to http.DefaultClient. Its timeout must exceed the
	// long-poll timeout.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is an unauthenticated handle on a homeserver. Login and Register
// turn it into a Session.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("matrix: HomeserverURL is required")
	}
	if _, err := url.Parse(config.HomeserverURL); err != nil {
		return nil, fmt.Errorf("matrix: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(config.HomeserverURL, "/"),
		httpClient: httpClient,
		log:        log,
	}, nil
}

type authResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
}

func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	if username == "" {
		return nil, fmt.Errorf("matrix: username is required for login")
	}
	req := map[string]any{
		"type":                        "m.login.password",
		"identifier":                  map[string]string{"type": "m.id.user", "user": username},
		"user":                        username,
		"password":                    password,
		"initial_device_display_name": "meeting-sync",
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/login", "", req, nil)
	if err != nil {
		return nil, fmt.Errorf("matrix: login failed: %w", err)
	}
	var auth authResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, fmt.Errorf("matrix: failed to parse login response: %w", err)
	}
	c.log.Info("logged in to matrix", zap.String("user_id", auth.UserID), zap.String("device_id", auth.DeviceID))
	return c.sessionFromAuth(auth), nil
}

// Register creates an account through the user-interactive flow, completing
// it with the m.login.dummy stage. Homeservers that require a stronger stage
// reject the second request.
func (c *Client) Register(ctx context.Context, username, password string) (*Session, error) {
	if username == "" {
		return nil, fmt.Errorf("matrix: username is required for registration")
	}
	first := map[string]any{"username": username, "password": password}
	body, err := c.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/register", "", first, nil)
	if err == nil {
		var auth authResponse
		if err := json.Unmarshal(body, &auth); err != nil {
			return nil, fmt.Errorf("matrix: failed to parse register response: %w", err)
		}
		return c.sessionFromAuth(auth), nil
	}
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) || matrixErr.StatusCode != http.StatusUnauthorized {
		return nil, fmt.Errorf("matrix: registration failed: %w", err)
	}

	var uiaa struct {
		Session string `json:"session"`
	}
	if err := json.Unmarshal(body, &uiaa); err != nil {
		return nil, fmt.Errorf("matrix: failed to parse UIAA response: %w", err)
	}
	if uiaa.Session == "" {
		return nil, fmt.Errorf("matrix: UIAA response missing session ID")
	}

	complete := map[string]any{
		"username": username,
		"password": password,
		"auth":     map[string]any{"type": "m.login.dummy", "session": uiaa.Session},
	}
	body, err = c.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/register", "", complete, nil)
	if err != nil {
		return nil, fmt.Errorf("matrix: registration failed: %w", err)
	}
	var auth authResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, fmt.Errorf("matrix: failed to parse register response: %w", err)
	}
	c.log.Info("registered matrix account", zap.String("user_id", auth.UserID))
	return c.sessionFromAuth(auth), nil
}

// SessionFromToken wraps an existing access token. It is not validated
// until the first request.
func (c *Client) SessionFromToken(userID, accessToken string) *Session {
	return &Session{client: c, userID: userID, accessToken: accessToken}
}

func (c *Client) sessionFromAuth(auth authResponse) *Session {
	return &Session{client: c, userID: auth.UserID, accessToken: auth.AccessToken, deviceID: auth.DeviceID}
}

// doRequest performs one request and returns the response body. Non-2xx
// responses return a *MatrixError and, for UIAA, the body alongside it.
func (c *Client) doRequest(ctx context.Context, method, path, accessToken string, requestBody any, query url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("matrix: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("matrix: failed to create request: %w", err)
	}
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("matrix: request to %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("matrix: failed to read response body: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return responseBody, nil
	}

	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil {
		return nil, fmt.Errorf("matrix: unexpected %d response from %s %s: %s",
			resp.StatusCode, method, path, string(responseBody))
	}
	matrixErr.StatusCode = resp.StatusCode
	return responseBody, &matrixErr
}
