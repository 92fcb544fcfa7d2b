package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blackmichael/drops-backend/internal/config"
	"github.com/blackmichael/drops-backend/internal/domain"
	"github.com/blackmichael/drops-backend/internal/metrics"
	"github.com/blackmichael/drops-backend/internal/realtime"
	"github.com/blackmichael/drops-backend/internal/sqlstore"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (n *recordingNotifier) Notify(userID string, notification domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = make(map[string][]string)
	}
	n.sent[userID] = append(n.sent[userID], notification.Category)
}

func (n *recordingNotifier) categories(userID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent[userID]...)
}

type testEnv struct {
	server   *Server
	store    *sqlstore.Store
	hub      *realtime.Hub
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", filepath.Join(t.TempDir(), "drops.db"))
	require.NoError(t, sqlstore.Migrate(sqlstore.DriverSQLite, dsn))
	store, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		Port:                0,
		JWTSecret:           testSecret,
		UnlockRatePerSecond: 100,
		UnlockBurst:         100,
	}
	for _, fn := range mutate {
		fn(cfg)
	}

	m := metrics.New()
	hub := realtime.NewHub(logger, m)
	notifier := &recordingNotifier{}

	drops, err := domain.NewDropService(domain.DropDeps{
		Drops:     store,
		Shares:    store,
		Users:     store,
		Friends:   store,
		Publisher: hub,
		Notifier:  notifier,
		Logger:    logger,
	})
	require.NoError(t, err)
	accounts := domain.NewAccountService(store, store, store, hub, notifier, logger)
	chat := domain.NewChatService(store, store, hub, notifier, logger)

	srv := NewServer(cfg, Services{
		Drops:    drops,
		Accounts: accounts,
		Chat:     chat,
		Realtime: realtime.NewHandler(hub, chat.CanJoin, logger, m),
		DB:       store,
	}, logger, m)

	return &testEnv{server: srv, store: store, hub: hub, notifier: notifier}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := IssueToken(testSecret, userID)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// setupFriends creates alice, bob and carol where only alice and bob are
// friends.
func (e *testEnv) setupFriends(t *testing.T) {
	t.Helper()
	for _, u := range []string{"alice", "bob", "carol"} {
		rec := e.do(t, http.MethodPut, "/me", u, map[string]string{"displayName": strings.ToUpper(u[:1]) + u[1:]})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec := e.do(t, http.MethodPost, "/friends/invite", "alice", map[string]string{"friendId": "bob"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	rec = e.do(t, http.MethodPost, "/friends/accept", "bob", map[string]string{"requesterId": "alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (e *testEnv) createDrop(t *testing.T, owner string, friends ...string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/drops", owner, map[string]any{
		"type":      "text",
		"title":     "Picnic",
		"content":   "meet by the big tree",
		"location":  "37.7749,-122.4194",
		"friendIds": friends,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody(t, rec)["id"].(string)
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestAuthentication(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/drops/mine", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/drops/mine", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	wrong, err := IssueToken("other-secret", "alice")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/drops/mine", nil)
	req.Header.Set("Authorization", "Bearer "+wrong)
	rr = httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rec = e.do(t, http.MethodGet, "/drops/mine", "alice", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateDropFiltersNonFriends(t *testing.T) {
	e := newTestEnv(t)
	e.setupFriends(t)

	rec := e.do(t, http.MethodPost, "/drops", "alice", map[string]any{
		"type":      "text",
		"title":     "Picnic",
		"content":   "meet by the big tree",
		"location":  []any{"37.7749", -122.4194},
		"friendIds": []string{"bob", "carol"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, []any{"bob"}, body["sharedWithUserIds"])
	assert.Equal(t, "meet by the big tree", body["description"])
	assert.Equal(t, false, body["isLocked"])

	assert.Equal(t, []string{domain.CategoryFriendRequest, domain.CategoryDropShared}, e.notifier.categories("bob"))
	assert.Empty(t, e.notifier.categories("carol"))

	rec = e.do(t, http.MethodGet, "/drops/"+body["id"].(string), "carol", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateDropValidation(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name     string
		body     any
		wantKind string
	}{
		{name: "malformed json", body: "{", wantKind: "InvalidRequest"},
		{name: "missing title", body: map[string]any{"type": "text", "content": "x", "location": "1,2"}, wantKind: "InvalidRequest"},
		{name: "missing location", body: map[string]any{"type": "text", "title": "t", "content": "x"}, wantKind: "InvalidRequest"},
		{name: "bad location", body: map[string]any{"type": "text", "title": "t", "content": "x", "location": "north pole"}, wantKind: "InvalidLocation"},
		{name: "out of range", body: map[string]any{"type": "text", "title": "t", "content": "x", "location": map[string]any{"lat": 91, "lng": 0}}, wantKind: "InvalidLocation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/drops", "alice", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantKind, decodeBody(t, rec)["error"])
		})
	}
}

func TestUnlockFlow(t *testing.T) {
	e := newTestEnv(t)
	e.setupFriends(t)
	id := e.createDrop(t, "alice", "bob")

	t.Run("recipient sees locked view", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/drops/"+id, "bob", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["isLocked"])
		assert.Equal(t, "Picnic", body["title"])
		assert.Nil(t, body["description"])
		assert.Nil(t, body["location"])
		assert.NotContains(t, rec.Body.String(), "big tree")
	})

	t.Run("dry check", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/drops/"+id+"/check-unlock", "bob", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "locked", body["status"])
		assert.Equal(t, false, body["unlocked"])
	})

	t.Run("too far", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/drops/"+id+"/unlock", "bob", map[string]any{"lat": 37.7849, "lng": -122.4194})
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "too_far", body["status"])
		assert.InDelta(t, 1112, body["distance"], 2)
		assert.Equal(t, float64(100), body["requiredDistance"])
		assert.Equal(t, true, body["isLocked"])
		assert.Nil(t, body["description"])
	})

	t.Run("missing coordinates", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/drops/"+id+"/unlock", "bob", map[string]any{"lat": 37.7749})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "InvalidLocation", decodeBody(t, rec)["error"])

		rec = e.do(t, http.MethodPost, "/drops/"+id+"/unlock", "bob", map[string]any{"lat": "abc", "lng": "def"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("stranger is forbidden", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/drops/"+id+"/unlock", "carol", map[string]any{"lat": 37.7749, "lng": -122.4194})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing drop", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/drops/nope/unlock", "bob", map[string]any{"lat": 37.7749, "lng": -122.4194})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("nearby unlocks", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/drops/"+id+"/unlock", "bob", map[string]any{"lat": "37.7750", "lng": -122.4195})
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "unlocked", body["status"])
		assert.Equal(t, true, body["unlocked"])
		assert.Equal(t, false, body["isLocked"])
		assert.Equal(t, "meet by the big tree", body["description"])
		assert.InDelta(t, 14, body["distance"], 1)
	})

	t.Run("second attempt is idempotent", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/drops/"+id+"/check-unlock", "bob", map[string]any{"lat": 0, "lng": 0})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "already_unlocked", decodeBody(t, rec)["status"])
		assert.Equal(t, []string{domain.CategoryFriendAccepted, domain.CategoryDropUnlocked}, e.notifier.categories("alice"))
	})

	t.Run("owner short circuit", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/drops/"+id+"/unlock", "alice", map[string]any{"lat": 0, "lng": 0})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "owner", decodeBody(t, rec)["status"])
	})

	t.Run("shared list shows unlocked", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/drops/shared", "bob", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		drops := decodeBody(t, rec)["drops"].([]any)
		require.Len(t, drops, 1)
		assert.Equal(t, false, drops[0].(map[string]any)["isLocked"])
	})
}

func TestUnlockRateLimit(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) {
		c.UnlockRatePerSecond = 0.001
		c.UnlockBurst = 1
	})
	e.setupFriends(t)
	id := e.createDrop(t, "alice", "bob")

	rec := e.do(t, http.MethodPost, "/drops/"+id+"/check-unlock", "bob", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodPost, "/drops/"+id+"/unlock", "bob", map[string]any{"lat": 37.7749, "lng": -122.4194})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Limits are per user.
	rec = e.do(t, http.MethodPost, "/drops/"+id+"/check-unlock", "alice", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestShareAndDelete(t *testing.T) {
	e := newTestEnv(t)
	e.setupFriends(t)
	id := e.createDrop(t, "alice")

	rec := e.do(t, http.MethodPost, "/drops/"+id+"/share", "bob", map[string]any{"friendIds": []string{"alice"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPost, "/drops/"+id+"/share", "alice", map[string]any{"friendIds": []string{"bob", "carol"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []any{"bob"}, decodeBody(t, rec)["sharedWith"])

	rec = e.do(t, http.MethodPost, "/drops/"+id+"/share", "alice", map[string]any{"friendIds": []string{"bob"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decodeBody(t, rec)["sharedWith"])
	assert.Equal(t, []string{domain.CategoryFriendRequest, domain.CategoryDropShared}, e.notifier.categories("bob"))

	rec = e.do(t, http.MethodDelete, "/drops/"+id, "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = e.do(t, http.MethodDelete, "/drops/"+id, "alice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(t, http.MethodGet, "/drops/"+id, "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListNearby(t *testing.T) {
	e := newTestEnv(t)
	e.setupFriends(t)
	e.createDrop(t, "alice", "bob")

	rec := e.do(t, http.MethodGet, "/drops/nearby?lat=37.78&lng=-122.42", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	drops := decodeBody(t, rec)["drops"].([]any)
	require.Len(t, drops, 1)
	assert.Equal(t, true, drops[0].(map[string]any)["isLocked"])

	rec = e.do(t, http.MethodGet, "/drops/nearby?lat=40.7128&lng=-74.0060&radius=10", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["drops"])

	rec = e.do(t, http.MethodGet, "/drops/nearby?lat=abc&lng=1", "bob", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, http.MethodGet, "/drops/nearby?lat=1&lng=1&radius=-1", "bob", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccounts(t *testing.T) {
	e := newTestEnv(t)
	e.setupFriends(t)

	rec := e.do(t, http.MethodGet, "/users/bob", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bob", decodeBody(t, rec)["displayName"])

	rec = e.do(t, http.MethodGet, "/users/zed", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/friends", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	friends := decodeBody(t, rec)["friends"].([]any)
	require.Len(t, friends, 1)
	assert.Equal(t, "bob", friends[0].(map[string]any)["id"])

	rec = e.do(t, http.MethodPost, "/friends/accept", "carol", map[string]string{"requesterId": "alice"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPut, "/me", "alice", map[string]string{"displayName": "A", "avatarUrl": "not a url"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/notifications/token", "bob", map[string]string{"token": "tok", "platform": "web"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, http.MethodPost, "/notifications/token", "bob", map[string]string{"token": "tok", "platform": "ios"})
	assert.Equal(t, http.StatusOK, rec.Code)

	devices, err := e.store.ActiveDevices(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, devices, 1)

	rec = e.do(t, http.MethodPost, "/notifications/unregister-device", "bob", map[string]string{"token": "tok"})
	assert.Equal(t, http.StatusOK, rec.Code)
	devices, err = e.store.ActiveDevices(context.Background(), "bob")
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestFriendRequests(t *testing.T) {
	e := newTestEnv(t)
	for _, u := range []string{"alice", "bob", "carol"} {
		rec := e.do(t, http.MethodPut, "/me", u, map[string]string{"displayName": u})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	for i := 0; i < 2; i++ {
		rec := e.do(t, http.MethodPost, "/friends/invite", "alice", map[string]string{"friendId": "bob"})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		assert.Equal(t, "pending", decodeBody(t, rec)["status"])
	}
	rec := e.do(t, http.MethodPost, "/friends/invite", "carol", map[string]string{"friendId": "bob"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, []string{domain.CategoryFriendRequest, domain.CategoryFriendRequest}, e.notifier.categories("bob"))

	rec = e.do(t, http.MethodGet, "/friends/requests", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	requests := decodeBody(t, rec)["requests"].([]any)
	require.Len(t, requests, 2)
	first := requests[0].(map[string]any)["requester"].(map[string]any)
	assert.Equal(t, "alice", first["id"])

	rec = e.do(t, http.MethodPost, "/friends/requests/delete", "bob", map[string]string{"userId": "carol"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = e.do(t, http.MethodPost, "/friends/requests/delete", "bob", map[string]string{"userId": "carol"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = e.do(t, http.MethodPost, "/friends/requests/delete", "bob", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Bob inviting alice answers her pending request.
	rec = e.do(t, http.MethodPost, "/friends/invite", "bob", map[string]string{"friendId": "alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "accepted", decodeBody(t, rec)["status"])
	assert.Equal(t, []string{domain.CategoryFriendAccepted}, e.notifier.categories("alice"))

	rec = e.do(t, http.MethodGet, "/friends/requests", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["requests"])

	rec = e.do(t, http.MethodPost, "/friends/invite", "alice", map[string]string{"friendId": "bob"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, e.notifier.categories("bob"), 2)
}

func TestUnfriendKeepsExistingShares(t *testing.T) {
	e := newTestEnv(t)
	e.setupFriends(t)
	id := e.createDrop(t, "alice", "bob")

	rec := e.do(t, http.MethodPost, "/friends/unfriend", "alice", map[string]string{"friendId": "bob"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = e.do(t, http.MethodPost, "/friends/unfriend", "alice", map[string]string{"friendId": "bob"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/friends", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["friends"])

	rec = e.do(t, http.MethodPost, "/drops/"+id+"/unlock", "bob", map[string]any{"lat": 37.7749, "lng": -122.4194})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "unlocked", body["status"])
	assert.Equal(t, "meet by the big tree", body["description"])

	// New shares still require a friendship.
	second := e.createDrop(t, "alice")
	rec = e.do(t, http.MethodPost, "/drops/"+second+"/share", "alice", map[string]any{"friendIds": []string{"bob"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decodeBody(t, rec)["sharedWith"])
}

func TestUpdateProfileKeepsCreatedAt(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPut, "/me", "alice", map[string]string{"displayName": "Alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decodeBody(t, rec)["createdAt"]
	time.Sleep(5 * time.Millisecond)

	rec = e.do(t, http.MethodPut, "/me", "alice", map[string]string{"displayName": "Alice B"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "Alice B", body["displayName"])
	assert.Equal(t, created, body["createdAt"])
}

func TestConversationListing(t *testing.T) {
	e := newTestEnv(t)
	e.setupFriends(t)

	rec := e.do(t, http.MethodPost, "/conversations", "alice", map[string]any{"participantIds": []string{"bob", "carol"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	convID := decodeBody(t, rec)["id"].(string)

	rec = e.do(t, http.MethodGet, "/conversations", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	convs := decodeBody(t, rec)["conversations"].([]any)
	require.Len(t, convs, 1)
	assert.Equal(t, convID, convs[0].(map[string]any)["id"])

	rec = e.do(t, http.MethodGet, "/conversations/"+convID, "carol", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["participantIds"], 3)

	rec = e.do(t, http.MethodPost, "/conversations/"+convID+"/leave", "carol", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = e.do(t, http.MethodGet, "/conversations/"+convID, "carol", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = e.do(t, http.MethodPost, "/conversations/"+convID+"/leave", "carol", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = e.do(t, http.MethodGet, "/conversations", "carol", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["conversations"])

	rec = e.do(t, http.MethodGet, "/conversations/"+convID, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []any{"alice", "bob"}, decodeBody(t, rec)["participantIds"])

	rec = e.do(t, http.MethodGet, "/conversations/missing", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversations(t *testing.T) {
	e := newTestEnv(t)
	e.setupFriends(t)

	rec := e.do(t, http.MethodPost, "/conversations", "alice", map[string]any{"participantIds": []string{"bob"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	convID := decodeBody(t, rec)["id"].(string)

	for _, text := range []string{"one", "two", "three"} {
		rec = e.do(t, http.MethodPost, "/conversations/"+convID+"/messages", "alice", map[string]string{"body": text})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		time.Sleep(2 * time.Millisecond)
	}
	assert.Len(t, e.notifier.categories("bob"), 4)

	rec = e.do(t, http.MethodGet, "/conversations/"+convID+"/messages?limit=2", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "three", msgs[0].(map[string]any)["body"])

	rec = e.do(t, http.MethodGet, "/conversations/"+convID+"/messages?before="+body["cursor"].(string), "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs = decodeBody(t, rec)["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "one", msgs[0].(map[string]any)["body"])

	rec = e.do(t, http.MethodGet, "/conversations/"+convID+"/messages", "carol", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = e.do(t, http.MethodPost, "/conversations/missing/messages", "alice", map[string]string{"body": "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = e.do(t, http.MethodGet, "/conversations/"+convID+"/messages?limit=x", "bob", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebSocketReceivesShare(t *testing.T) {
	e := newTestEnv(t)
	e.setupFriends(t)

	srv := httptest.NewServer(e.server.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token(t, "bob")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return e.hub.Subscribers(domain.UserTopic("bob")) == 1 }, time.Second, 10*time.Millisecond)

	id := e.createDrop(t, "alice", "bob")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f realtime.Frame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, domain.EventDropShared, f.Event)
	assert.Equal(t, id, f.Payload.(map[string]any)["dropId"])

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodGet, "/drops/abc", "alice", nil)

	rec := e.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `drops_http_requests_total{method="GET",route="/drops/{id}",status="404"} 1`)
}
