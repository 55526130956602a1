package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasktrack/apiserver/config"
	"github.com/tasktrack/apiserver/internal/mq"
	"github.com/tasktrack/apiserver/internal/store"
	"github.com/tasktrack/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Errors  []string        `json:"errors"`
}

type recordingBroker struct {
	mu   sync.Mutex
	sent map[string][][]byte
}

func (b *recordingBroker) Publish(_ context.Context, channel string, data []byte, _ map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sent == nil {
		b.sent = map[string][][]byte{}
	}
	b.sent[channel] = append(b.sent[channel], data)
	return "id", nil
}

func (b *recordingBroker) Subscribe(context.Context, string, mq.Handler) error { return nil }

func (b *recordingBroker) Close() error { return nil }

func (b *recordingBroker) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent[channel])
}

type memoryBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryBucket) EnsureBucket(context.Context) error { return nil }

func (m *memoryBucket) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = body
	return nil
}

func (m *memoryBucket) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[key]
	if !ok {
		return nil, errors.New("missing")
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (m *memoryBucket) List(_ context.Context, prefix string) ([]types.StoredObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.StoredObject
	for key, body := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, types.StoredObject{Key: key, Size: int64(len(body))})
		}
	}
	return out, nil
}

func (m *memoryBucket) Bucket() string { return "tasktrack" }

type testAPI struct {
	t      *testing.T
	server *httptest.Server
	broker *recordingBroker
	bucket *memoryBucket
}

func newTestAPI(t *testing.T, mutate func(*config.Config)) *testAPI {
	t.Helper()

	cfg := config.Config{
		Session: config.SessionConfig{Secret: "test-secret", TTL: time.Hour},
		Auth:    config.AuthConfig{BcryptCost: bcrypt.MinCost},
		MQ:      config.MQConfig{TaskEventsChannel: "task-events", AuditChannel: "auth-audit"},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	broker := &recordingBroker{}
	bucket := &memoryBucket{}
	srv := NewWithDeps(cfg, Deps{
		Users:    store.NewMemoryUserRepository(),
		Tasks:    store.NewMemoryTaskRepository(),
		Sessions: store.NewMemorySessionRepository(),
		Broker:   broker,
		Objects:  bucket,
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testAPI{t: t, server: ts, broker: broker, bucket: bucket}
}

func (a *testAPI) do(method, path, token string, body any) (int, envelope) {
	a.t.Helper()
	status, raw := a.raw(method, path, token, body)
	var env envelope
	require.NoError(a.t, json.Unmarshal(raw, &env), string(raw))
	return status, env
}

func (a *testAPI) raw(method, path, token string, body any) (int, []byte) {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.server.Client().Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	return resp.StatusCode, raw
}

func (a *testAPI) registerAndLogin(username, email string) (int64, string) {
	a.t.Helper()
	status, env := a.do(http.MethodPost, "/auth/register", "", map[string]string{
		"firstName": "Ada",
		"lastName":  "Lovelace",
		"username":  username,
		"password":  "secret1",
		"email":     email,
	})
	require.Equal(a.t, http.StatusOK, status, env.Message)

	var reg types.RegisterResult
	require.NoError(a.t, json.Unmarshal(env.Data, &reg))

	status, env = a.do(http.MethodPost, "/auth/login", "", map[string]string{"username": username, "password": "secret1"})
	require.Equal(a.t, http.StatusOK, status, env.Message)
	var login types.LoginResult
	require.NoError(a.t, json.Unmarshal(env.Data, &login))
	require.NotEmpty(a.t, login.Token)
	return reg.UserID, login.Token
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, nil)
	status, env := api.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
}

func TestAuthFlow(t *testing.T) {
	api := newTestAPI(t, nil)
	userID, token := api.registerAndLogin("alice", "a@x.com")
	assert.Positive(t, userID)

	status, env := api.do(http.MethodPost, "/auth/register", "", map[string]string{
		"firstName": "A", "lastName": "B", "username": "alice", "password": "secret1", "email": "other@x.com",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Username already exists", env.Message)

	status, env = api.do(http.MethodPost, "/auth/register", "", map[string]string{
		"firstName": "A", "lastName": "B", "username": "bob", "password": "secret1", "email": "a@x.com",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Email already exists", env.Message)

	status, env = api.do(http.MethodPost, "/auth/register", "", map[string]string{"username": "bob"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid input", env.Message)
	assert.NotEmpty(t, env.Errors)

	status, env = api.do(http.MethodGet, "/auth/current-user", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, types.CurrentUser{UserID: userID, Username: "alice"}, decode[types.CurrentUser](t, env))

	status, env = api.do(http.MethodPost, "/auth/logout", token, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Logged out successfully", env.Message)

	status, env = api.do(http.MethodGet, "/auth/current-user", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "No active session", env.Message)
}

func TestLoginFailuresLookTheSame(t *testing.T) {
	api := newTestAPI(t, nil)
	api.registerAndLogin("alice", "a@x.com")

	wrongPassword, envA := api.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "nope-nope"})
	unknownUser, envB := api.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "mallory", "password": "secret1"})

	assert.Equal(t, http.StatusUnauthorized, wrongPassword)
	assert.Equal(t, wrongPassword, unknownUser)
	assert.Equal(t, envA, envB)
	assert.Equal(t, "Invalid username or password", envA.Message)
	assert.Equal(t, 2, api.broker.count("auth-audit"))

	status, env := api.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "", "password": ""})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid request", env.Message)

	status, _ = api.do(http.MethodPost, "/auth/login", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	api := newTestAPI(t, nil)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/tasks"},
		{http.MethodPost, "/tasks"},
		{http.MethodGet, "/tasks/1"},
		{http.MethodPatch, "/tasks/1/status"},
		{http.MethodGet, "/users"},
		{http.MethodDelete, "/users/1"},
	} {
		status, env := api.do(route.method, route.path, "bogus", nil)
		assert.Equal(t, http.StatusUnauthorized, status, route.path)
		assert.False(t, env.Success)
		assert.Equal(t, "Authentication required. Please login.", env.Message)
	}
	assert.Equal(t, 6, api.broker.count("auth-audit"))
}

func TestTaskLifecycle(t *testing.T) {
	api := newTestAPI(t, nil)
	userID, token := api.registerAndLogin("alice", "a@x.com")

	past := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	status, env := api.do(http.MethodPost, "/tasks", token, map[string]any{
		"taskName":        "Write report",
		"taskDescription": "quarterly",
		"assignedUserIDs": []int64{userID},
		"deadline":        past,
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	assert.Equal(t, "Task created successfully", env.Message)
	created := decode[types.Task](t, env)
	assert.Equal(t, types.TaskStatusToDo, created.Status)
	assert.False(t, created.IsDelayed)
	assert.Equal(t, "alice", created.CreatedBy)

	taskPath := "/tasks/" + itoa(created.ID)

	status, env = api.do(http.MethodPut, taskPath, token, map[string]any{
		"taskName":        "Write report",
		"assignedUserIDs": []int64{userID},
		"status":          "InProgress",
		"deadline":        past,
	})
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.True(t, decode[types.Task](t, env).IsDelayed)

	status, env = api.do(http.MethodGet, "/tasks?isDelayed=true&status=InProgress", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Retrieved 1 tasks", env.Message)

	status, env = api.do(http.MethodPatch, taskPath+"/status", token, map[string]any{"status": "Completed"})
	require.Equal(t, http.StatusOK, status, env.Message)
	done := decode[types.Task](t, env)
	assert.Equal(t, types.TaskStatusCompleted, done.Status)
	assert.False(t, done.IsDelayed)

	status, env = api.do(http.MethodPatch, taskPath+"/status", token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, []string{"Status is required"}, env.Errors)

	status, env = api.do(http.MethodGet, "/tasks/user/"+itoa(userID), token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]types.Task](t, env), 1)

	status, env = api.do(http.MethodGet, "/tasks/user/0", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]types.Task](t, env), 1)

	status, env = api.do(http.MethodDelete, taskPath, token, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Task deleted successfully", env.Message)

	status, env = api.do(http.MethodDelete, taskPath, token, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Task not found", env.Message)

	status, env = api.do(http.MethodGet, "/tasks", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Retrieved 0 tasks", env.Message)

	status, _ = api.do(http.MethodGet, "/tasks/999", token, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = api.do(http.MethodPut, "/tasks/999", token, map[string]any{"taskName": "x"})
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = api.do(http.MethodPatch, "/tasks/999/status", token, map[string]any{"status": "ToDo"})
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = api.do(http.MethodGet, "/tasks/abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = api.do(http.MethodGet, "/tasks?status=Sleeping", token, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	assert.Equal(t, 4, api.broker.count("task-events"))
}

func TestStrictTransitions(t *testing.T) {
	api := newTestAPI(t, func(cfg *config.Config) { cfg.Tasks.StrictTransitions = true })
	_, token := api.registerAndLogin("alice", "a@x.com")

	status, env := api.do(http.MethodPost, "/tasks", token, map[string]any{"taskName": "t"})
	require.Equal(t, http.StatusCreated, status)
	path := "/tasks/" + itoa(decode[types.Task](t, env).ID) + "/status"

	status, _ = api.do(http.MethodPatch, path, token, map[string]any{"status": "Deleted"})
	require.Equal(t, http.StatusOK, status)

	status, env = api.do(http.MethodPatch, path, token, map[string]any{"status": "ToDo"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid status transition", env.Message)
}

func TestTaskExport(t *testing.T) {
	api := newTestAPI(t, nil)
	_, token := api.registerAndLogin("alice", "a@x.com")

	for _, name := range []string{"one", "two"} {
		status, _ := api.do(http.MethodPost, "/tasks", token, map[string]any{"taskName": name})
		require.Equal(t, http.StatusCreated, status)
	}

	status, env := api.do(http.MethodPost, "/tasks/exports?sortBy=name&sortDescending=true", token, nil)
	require.Equal(t, http.StatusCreated, status, env.Message)
	export := decode[types.TaskExport](t, env)
	assert.Equal(t, 2, export.Count)
	assert.Equal(t, "tasktrack", export.Bucket)
	assert.True(t, strings.HasPrefix(export.Key, "exports/tasks/"))

	status, raw := api.raw(http.MethodGet, "/tasks/"+export.Key, token, nil)
	require.Equal(t, http.StatusOK, status)
	var snapshot struct {
		Tasks []types.Task `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(raw, &snapshot))
	require.Len(t, snapshot.Tasks, 2)
	assert.Equal(t, "two", snapshot.Tasks[0].Name)

	status, env = api.do(http.MethodGet, "/tasks/exports", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Retrieved 1 exports", env.Message)
	listed := decode[[]types.StoredObject](t, env)
	require.Len(t, listed, 1)
	assert.Equal(t, export.Key, listed[0].Key)
}

func TestUserRoutes(t *testing.T) {
	api := newTestAPI(t, nil)
	aliceID, token := api.registerAndLogin("alice", "a@x.com")

	status, env := api.do(http.MethodPost, "/users/register", "", map[string]any{
		"firstName": "Bob", "lastName": "Builder", "username": "bob",
		"password": "secret1", "userRole": "admin", "email": "b@x.com",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	bob := decode[types.User](t, env)
	assert.Equal(t, "admin", bob.Role)
	assert.Equal(t, types.SystemActor, bob.CreatedBy)
	assert.NotContains(t, string(env.Data), "password")

	status, env = api.do(http.MethodGet, "/users", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]types.User](t, env), 2)
	assert.NotContains(t, string(env.Data), "$2a$")

	bobPath := "/users/" + itoa(bob.ID)
	status, env = api.do(http.MethodPut, bobPath, token, map[string]any{"displayName": "Bobby"})
	require.Equal(t, http.StatusOK, status, env.Message)
	updated := decode[types.User](t, env)
	require.NotNil(t, updated.DisplayName)
	assert.Equal(t, "Bobby", *updated.DisplayName)
	assert.Equal(t, "Builder", updated.LastName)

	status, env = api.do(http.MethodPut, "/users/999", token, map[string]any{"displayName": "x"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "User not found or update failed", env.Message)

	status, _ = api.do(http.MethodDelete, bobPath, token, nil)
	assert.Equal(t, http.StatusOK, status)
	status, env = api.do(http.MethodGet, bobPath, token, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "User not found", env.Message)
	status, env = api.do(http.MethodDelete, bobPath, token, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "User not found or could not be deleted", env.Message)

	status, _ = api.do(http.MethodGet, "/users/"+itoa(aliceID), token, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = api.do(http.MethodDelete, "/users/"+itoa(aliceID)+"?softDelete=maybe", token, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDeletedUserLosesSession(t *testing.T) {
	api := newTestAPI(t, nil)
	aliceID, aliceToken := api.registerAndLogin("alice", "a@x.com")
	_, bobToken := api.registerAndLogin("bob", "b@x.com")

	status, env := api.do(http.MethodDelete, "/users/"+itoa(aliceID), bobToken, nil)
	require.Equal(t, http.StatusOK, status, env.Message)

	status, env = api.do(http.MethodGet, "/auth/current-user", aliceToken, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "No active session", env.Message)
	status, _ = api.do(http.MethodPost, "/tasks", aliceToken, map[string]any{"name": "sneaky"})
	assert.Equal(t, http.StatusUnauthorized, status)

	// The username is free again, but the old token stays dead.
	newID, newToken := api.registerAndLogin("alice", "a@x.com")
	assert.NotEqual(t, aliceID, newID)
	status, _ = api.do(http.MethodGet, "/auth/current-user", aliceToken, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env = api.do(http.MethodGet, "/auth/current-user", newToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, types.CurrentUser{UserID: newID, Username: "alice"}, decode[types.CurrentUser](t, env))

	status, _ = api.do(http.MethodGet, "/auth/current-user", bobToken, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestRenamedUserMustLogInAgain(t *testing.T) {
	api := newTestAPI(t, nil)
	aliceID, token := api.registerAndLogin("alice", "a@x.com")

	status, env := api.do(http.MethodPut, "/users/"+itoa(aliceID), token, map[string]any{"username": "alicia"})
	require.Equal(t, http.StatusOK, status, env.Message)

	status, _ = api.do(http.MethodGet, "/auth/current-user", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env = api.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "alicia", "password": "secret1"})
	require.Equal(t, http.StatusOK, status, env.Message)
	login := decode[types.LoginResult](t, env)

	status, env = api.do(http.MethodGet, "/auth/current-user", login.Token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, types.CurrentUser{UserID: aliceID, Username: "alicia"}, decode[types.CurrentUser](t, env))
}

func TestHTTPServerTimeouts(t *testing.T) {
	srv := NewWithDeps(config.Config{Session: config.SessionConfig{Secret: "test-secret"}}, Deps{
		Users:    store.NewMemoryUserRepository(),
		Tasks:    store.NewMemoryTaskRepository(),
		Sessions: store.NewMemorySessionRepository(),
	})

	assert.Greater(t, srv.httpServer.WriteTimeout, handlerTimeout)
	assert.Equal(t, writeTimeout, srv.httpServer.WriteTimeout)
	assert.NotNil(t, srv.httpServer.ErrorLog)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
