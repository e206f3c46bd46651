// Package webpubsub binds the relay to a managed Azure Web PubSub service:
// broadcast and group operations become REST calls against the service API,
// and inbound events arrive through the CloudEvents webhook handler.
package webpubsub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"chatrelay/internal/registry"
	"chatrelay/internal/relay"
)

const apiVersion = "2024-01-01"

var clientRoles = []string{"webpubsub.joinLeaveGroup", "webpubsub.sendToGroup"}

// Client satisfies relay.Transport against a remote Web PubSub hub. It also
// tracks connection contexts fed to it by the webhook handler so lifecycle
// events can be correlated.
type Client struct {
	endpoint  string // https://<name>.webpubsub.azure.com
	hub       string
	accessKey []byte
	httpc     *http.Client

	mu      sync.Mutex
	clients map[string]*registry.ClientContext
}

func NewClient(endpoint, hub, accessKey string) (*Client, error) {
	endpoint = strings.TrimRight(endpoint, "/")
	if endpoint == "" {
		return nil, fmt.Errorf("webpubsub endpoint is required")
	}
	if accessKey == "" {
		return nil, fmt.Errorf("webpubsub access key is required")
	}
	return &Client{
		endpoint:  endpoint,
		hub:       hub,
		accessKey: []byte(accessKey),
		httpc:     &http.Client{Timeout: 10 * time.Second},
		clients:   make(map[string]*registry.ClientContext),
	}, nil
}

// ---------------------------------------------------------------------------
//  relay.Transport
// ---------------------------------------------------------------------------

// SendToGroup posts the frame's data payload to the service. Per-recipient
// outcomes are opaque to the caller in service mode; failures are logged
// and swallowed, matching the relay's best-effort delivery semantics.
func (c *Client) SendToGroup(ctx context.Context, group string, frame relay.OutboundFrame, excludeIDs []string) []registry.SendResult {
	body, err := json.Marshal(frame.Data)
	if err != nil {
		zap.L().Error("webpubsub.marshal", zap.Error(err))
		return nil
	}

	u := fmt.Sprintf("%s/api/hubs/%s/groups/%s/:send?api-version=%s",
		c.endpoint, url.PathEscape(c.hub), url.PathEscape(group), apiVersion)
	for _, id := range excludeIDs {
		u += "&excluded=" + url.QueryEscape(id)
	}

	if err := c.do(ctx, http.MethodPost, u, body); err != nil {
		zap.L().Debug("webpubsub.send_to_group_failed",
			zap.String("group", group), zap.Error(err))
	}
	return nil
}

func (c *Client) AddToGroup(ctx context.Context, connectionID, group string) error {
	u := fmt.Sprintf("%s/api/hubs/%s/groups/%s/connections/%s?api-version=%s",
		c.endpoint, url.PathEscape(c.hub), url.PathEscape(group), url.PathEscape(connectionID), apiVersion)
	return c.do(ctx, http.MethodPut, u, nil)
}

func (c *Client) RemoveFromGroup(ctx context.Context, connectionID, group string) error {
	u := fmt.Sprintf("%s/api/hubs/%s/groups/%s/connections/%s?api-version=%s",
		c.endpoint, url.PathEscape(c.hub), url.PathEscape(group), url.PathEscape(connectionID), apiVersion)
	return c.do(ctx, http.MethodDelete, u, nil)
}

// Negotiate returns a signed client access URL for the hub.
func (c *Client) Negotiate(_ context.Context, userID string) (string, error) {
	clientURL := c.clientURL()
	claims := jwt.MapClaims{
		"aud":  clientURL,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(time.Hour).Unix(),
		"role": clientRoles,
	}
	if userID != "" {
		claims["sub"] = userID
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessKey)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return clientURL + "?access_token=" + url.QueryEscape(token), nil
}

func (c *Client) clientURL() string {
	wss := strings.Replace(c.endpoint, "https://", "wss://", 1)
	wss = strings.Replace(wss, "http://", "ws://", 1)
	return fmt.Sprintf("%s/client/hubs/%s", wss, c.hub)
}

func (c *Client) do(ctx context.Context, method, u string, body []byte) error {
	var rd *bytes.Reader
	if body == nil {
		rd = bytes.NewReader(nil)
	} else {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := c.apiToken(u)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webpubsub api %s %s: %s", method, u, resp.Status)
	}
	return nil
}

// apiToken signs a short-lived token whose audience is the request URL
// without its query, per the service's REST auth scheme.
func (c *Client) apiToken(requestURL string) (string, error) {
	aud := requestURL
	if i := strings.IndexByte(aud, '?'); i >= 0 {
		aud = aud[:i]
	}
	claims := jwt.MapClaims{
		"aud": aud,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Minute).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessKey)
}

// ---------------------------------------------------------------------------
//  webhook-side context tracking
// ---------------------------------------------------------------------------

func (c *Client) addClient(ctx *registry.ClientContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[ctx.ConnectionID] = ctx
}

func (c *Client) getClient(connectionID string) (*registry.ClientContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cc, ok := c.clients[connectionID]
	return cc, ok
}

func (c *Client) removeClient(connectionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, connectionID)
}
