package webpubsub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/relay"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("", "chat", testKey)
	assert.Error(t, err)

	_, err = NewClient("https://demo.webpubsub.azure.com", "chat", "")
	assert.Error(t, err)

	c, err := NewClient("https://demo.webpubsub.azure.com/", "chat", testKey)
	require.NoError(t, err)
	assert.Equal(t, "https://demo.webpubsub.azure.com", c.endpoint)
}

func TestNegotiateSignsClientURL(t *testing.T) {
	c, err := NewClient("https://demo.webpubsub.azure.com", "chat", testKey)
	require.NoError(t, err)

	raw, err := c.Negotiate(context.Background(), "alice")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "wss", u.Scheme)
	assert.Equal(t, "/client/hubs/chat", u.Path)

	tokenStr := u.Query().Get("access_token")
	require.NotEmpty(t, tokenStr)

	token, err := jwt.Parse(tokenStr, func(*jwt.Token) (any, error) {
		return []byte(testKey), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)

	claims, ok := token.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "wss://demo.webpubsub.azure.com/client/hubs/chat", claims["aud"])
	assert.Equal(t, "alice", claims["sub"])
	roles, ok := claims["role"].([]any)
	require.True(t, ok)
	assert.Contains(t, roles, "webpubsub.sendToGroup")
}

func TestNegotiateAnonymousOmitsSubject(t *testing.T) {
	c, err := NewClient("https://demo.webpubsub.azure.com", "chat", testKey)
	require.NoError(t, err)

	raw, err := c.Negotiate(context.Background(), "")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	token, err := jwt.Parse(u.Query().Get("access_token"), func(*jwt.Token) (any, error) {
		return []byte(testKey), nil
	})
	require.NoError(t, err)
	claims := token.Claims.(jwt.MapClaims)
	_, hasSub := claims["sub"]
	assert.False(t, hasSub)
}

func TestGroupOperationsHitServiceAPI(t *testing.T) {
	type recorded struct {
		method string
		path   string
		query  url.Values
		auth   string
	}
	var calls []recorded

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.Query(),
			auth:   r.Header.Get("Authorization"),
		})
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "chat", testKey)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.AddToGroup(ctx, "conn-1", "room_public"))
	require.NoError(t, c.RemoveFromGroup(ctx, "conn-1", "room_public"))

	require.Len(t, calls, 2)
	assert.Equal(t, http.MethodPut, calls[0].method)
	assert.Equal(t, "/api/hubs/chat/groups/room_public/connections/conn-1", calls[0].path)
	assert.Equal(t, apiVersion, calls[0].query.Get("api-version"))
	assert.True(t, strings.HasPrefix(calls[0].auth, "Bearer "))
	assert.Equal(t, http.MethodDelete, calls[1].method)

	// The bearer token's audience is the request URL without its query.
	token, err := jwt.Parse(strings.TrimPrefix(calls[0].auth, "Bearer "), func(*jwt.Token) (any, error) {
		return []byte(testKey), nil
	})
	require.NoError(t, err)
	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, srv.URL+"/api/hubs/chat/groups/room_public/connections/conn-1", claims["aud"])
}

func TestSendToGroupSwallowsAPIFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "chat", testKey)
	require.NoError(t, err)

	results := c.SendToGroup(context.Background(), "room_public",
		frameWithMessage("hello"), []string{"conn-9"})
	assert.Nil(t, results)
}

func frameWithMessage(message string) relay.OutboundFrame {
	return relay.OutboundFrame{
		Type:     relay.FrameTypeMessage,
		From:     "group",
		Group:    "room_public",
		DataType: "json",
		Data:     relay.FrameData{Message: message},
	}
}
