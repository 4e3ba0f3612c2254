package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appfoundry/publisher/pkg/results"
	"github.com/appfoundry/publisher/pkg/task"
	"github.com/appfoundry/publisher/pkg/tasks"
)

type fakeBuilder struct {
	calls atomic.Int32
	cache *results.Cache
	err   error
	built chan struct{}
}

func (b *fakeBuilder) Build(ctx context.Context, req task.Request) (task.Record, task.Result, error) {
	b.calls.Add(1)
	defer func() {
		if b.built != nil {
			b.built <- struct{}{}
		}
	}()

	if b.err != nil {
		return task.Record{}, task.Result{}, b.err
	}

	rec := task.Record{
		Email:     req.Email,
		Task:      req.Task,
		Round:     req.Round,
		Nonce:     req.Nonce,
		RepoURL:   "https://github.com/alice/demo",
		CommitSHA: "sha-" + req.Nonce,
		PagesURL:  "https://alice.github.io/demo/",
	}
	res := task.Result{
		CommitSHA: rec.CommitSHA,
		Message:   "App built and deployed successfully",
		PagesURL:  rec.PagesURL,
		RepoURL:   rec.RepoURL,
		Round:     req.Round,
		Task:      req.Task,
	}
	if b.cache != nil {
		b.cache.Put(ctx, rec, res)
	}
	return rec, res, nil
}

type fakeNotifier struct {
	calls     atomic.Int32
	delivered chan string
}

func (n *fakeNotifier) Deliver(ctx context.Context, callbackURL string, payload any) error {
	n.calls.Add(1)
	if n.delivered != nil {
		n.delivered <- callbackURL
	}
	return nil
}

type fakeTokenChecker struct {
	user string
	err  error
}

func (c *fakeTokenChecker) AuthenticatedUser(ctx context.Context) (string, error) {
	return c.user, c.err
}

type testEnv struct {
	server   *Server
	builder  *fakeBuilder
	notifier *fakeNotifier
	cache    *results.Cache
	sup      *tasks.Supervisor
}

func newTestEnv(secret string) *testEnv {
	cache := results.NewCache(nil)
	b := &fakeBuilder{cache: cache}
	n := &fakeNotifier{delivered: make(chan string, 4)}
	sup := tasks.NewSupervisor()
	srv := NewServer(Config{SharedSecret: secret}, b, n, &fakeTokenChecker{user: "alice"}, cache, nil, sup)
	return &testEnv{server: srv, builder: b, notifier: n, cache: cache, sup: sup}
}

func submit(t *testing.T, env *testEnv, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api-endpoint", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)
	return rr
}

func validBody() map[string]any {
	return map[string]any{
		"email":          "a@x.com",
		"secret":         "s3cret",
		"task":           "demo",
		"round":          1,
		"nonce":          "n1",
		"brief":          "Hello",
		"evaluation_url": "http://cb",
	}
}

func waitFor(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return ""
	}
}

func TestSubmitRejectsInvalidJSON(t *testing.T) {
	env := newTestEnv("")
	req := httptest.NewRequest(http.MethodPost, "/api-endpoint", bytes.NewReader([]byte("{not json")))
	rr := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, int32(0), env.builder.calls.Load())
}

func TestSubmitRejectsMissingFields(t *testing.T) {
	env := newTestEnv("")
	for _, field := range []string{"email", "secret", "task", "round", "nonce", "brief", "evaluation_url"} {
		body := validBody()
		delete(body, field)

		rr := submit(t, env, body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, "field %s", field)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "missing "+field, resp["error"])
	}
	assert.Equal(t, int32(0), env.builder.calls.Load(), "no build may start for invalid requests")
}

func TestSubmitRejectsWrongSecret(t *testing.T) {
	env := newTestEnv("expected")
	body := validBody()
	body["secret"] = "wrong"

	rr := submit(t, env, body)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, int32(0), env.builder.calls.Load())
}

func TestSubmitSynchronous(t *testing.T) {
	env := newTestEnv("")
	body := validBody()
	body["wait_for_result"] = true

	rr := submit(t, env, body)
	require.Equal(t, http.StatusOK, rr.Code)

	var res task.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "sha-n1", res.CommitSHA)
	assert.Equal(t, 1, res.Round)
	assert.Equal(t, "demo", res.Task)
	assert.NotEmpty(t, res.RepoURL)
	assert.NotEmpty(t, res.PagesURL)

	// Notification runs detached and still fires.
	assert.Equal(t, "http://cb", waitFor(t, env.notifier.delivered))

	// The same payload is immediately available to pollers.
	req := httptest.NewRequest(http.MethodGet, "/result?email=a@x.com&task=demo&nonce=n1", nil)
	poll := httptest.NewRecorder()
	env.server.Router().ServeHTTP(poll, req)
	require.Equal(t, http.StatusOK, poll.Code)

	var cached task.Result
	require.NoError(t, json.Unmarshal(poll.Body.Bytes(), &cached))
	assert.Equal(t, res, cached)
}

func TestSubmitSynchronousBuildFailure(t *testing.T) {
	env := newTestEnv("")
	env.builder.err = errors.New("generation exploded")
	body := validBody()
	body["wait_for_result"] = true

	rr := submit(t, env, body)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, int32(0), env.notifier.calls.Load())
}

func TestSubmitAsynchronous(t *testing.T) {
	env := newTestEnv("")

	rr := submit(t, env, validBody())
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])

	assert.Equal(t, "http://cb", waitFor(t, env.notifier.delivered))
	env.sup.Wait()

	assert.Equal(t, int32(1), env.builder.calls.Load())
	res, ok := env.cache.Get(context.Background(), "a@x.com", "demo", "n1")
	require.True(t, ok)
	assert.Equal(t, "sha-n1", res.CommitSHA)
}

func TestSubmitAsynchronousFailureIsCachedAsFailed(t *testing.T) {
	env := newTestEnv("")
	env.builder.err = errors.New("push rejected")
	env.builder.built = make(chan struct{}, 1)

	rr := submit(t, env, validBody())
	require.Equal(t, http.StatusOK, rr.Code)

	<-env.builder.built
	env.sup.Wait()

	res, ok := env.cache.Get(context.Background(), "a@x.com", "demo", "n1")
	require.True(t, ok)
	assert.Equal(t, task.StatusFailed, res.Status)
	assert.Contains(t, res.Message, "push rejected")
	assert.Equal(t, int32(0), env.notifier.calls.Load(), "failed builds are not notified")
}

func TestResultPendingWhenUnknown(t *testing.T) {
	env := newTestEnv("")

	req := httptest.NewRequest(http.MethodGet, "/result?email=b@x.com&task=other&nonce=nX", nil)
	rr := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp["status"])
}

func TestResultRequiresEmailAndTask(t *testing.T) {
	env := newTestEnv("")

	req := httptest.NewRequest(http.MethodGet, "/result?email=a@x.com", nil)
	rr := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestResultLatestWithoutNonce(t *testing.T) {
	env := newTestEnv("")
	ctx := context.Background()

	first := task.Record{Email: "a@x.com", Task: "demo", Round: 1, Nonce: "n1", CommitSHA: "sha1"}
	second := task.Record{Email: "a@x.com", Task: "demo", Round: 2, Nonce: "n2", CommitSHA: "sha2"}
	env.cache.Put(ctx, first, task.Result{CommitSHA: "sha1", Round: 1, Task: "demo"})
	env.cache.Put(ctx, second, task.Result{CommitSHA: "sha2", Round: 2, Task: "demo"})

	req := httptest.NewRequest(http.MethodGet, "/result?email=a@x.com&task=demo", nil)
	rr := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var res task.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "sha2", res.CommitSHA)
}

func TestHealth(t *testing.T) {
	env := newTestEnv("")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, true, resp["github_token_valid"])
	assert.Equal(t, "alice", resp["github_user"])
}

func TestHealthWithInvalidToken(t *testing.T) {
	cache := results.NewCache(nil)
	srv := NewServer(Config{}, &fakeBuilder{}, &fakeNotifier{}, &fakeTokenChecker{err: errors.New("401")}, cache, nil, tasks.NewSupervisor())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, false, resp["github_token_valid"])
}

func TestListBuildsWithoutHistory(t *testing.T) {
	env := newTestEnv("")

	req := httptest.NewRequest(http.MethodGet, "/api/builds", nil)
	rr := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Empty(t, resp["builds"])
}
