package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/longanisha/Mahidol-Forum-sub000/acquisition"
	"github.com/longanisha/Mahidol-Forum-sub000/authstate"
	"github.com/longanisha/Mahidol-Forum-sub000/backend"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/config"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/errors"
	"github.com/longanisha/Mahidol-Forum-sub000/navigation"
	"github.com/longanisha/Mahidol-Forum-sub000/profiles"
	"github.com/longanisha/Mahidol-Forum-sub000/server/authflowrepo"
	"github.com/longanisha/Mahidol-Forum-sub000/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

type fakeFacade struct {
	mu         sync.Mutex
	snap       authstate.Snapshot
	refreshErr error
	saveErr    error
	unloadOut  navigation.Outcome
	unloadErr  error
	signOuts   int
	lastForce  bool
	lastUnload navigation.UnloadEvent
	panics     bool
}

var _ Facade = (*fakeFacade)(nil)

func (f *fakeFacade) Snapshot() authstate.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("snapshot exploded")
	}
	return f.snap
}

func (f *fakeFacade) SignOut(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOuts++
	f.snap = authstate.Snapshot{State: acquisition.StateStable}
}

func (f *fakeFacade) RefreshProfile(_ context.Context, force bool) (*profiles.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastForce = force
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.snap.Profile.Clone(), nil
}

func (f *fakeFacade) PatchProfile(_ context.Context, patch profiles.Patch) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snap.Profile == nil {
		return false
	}
	next := patch.Apply(*f.snap.Profile)
	f.snap.Profile = &next
	return true
}

func (f *fakeFacade) SaveProfile(ctx context.Context, patch profiles.Patch) (*profiles.Profile, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.PatchProfile(ctx, patch)
	return f.Snapshot().Profile.Clone(), nil
}

func (f *fakeFacade) HandleUnload(_ context.Context, ev navigation.UnloadEvent) (navigation.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUnload = ev
	return f.unloadOut, f.unloadErr
}

type fakeSignIn struct {
	mu       sync.Mutex
	verifier string
	nonce    string
	err      error
}

func (f *fakeSignIn) AuthCodeURL(state, verifier, nonce string) string {
	return "https://issuer.test/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeSignIn) SignIn(_ context.Context, code, verifier, nonce string) (*sessions.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifier, f.nonce = verifier, nonce
	if f.err != nil {
		return nil, f.err
	}
	return &sessions.Session{AccessToken: "secret-access", Identity: "u1"}, nil
}

func signedInFacade() *fakeFacade {
	return &fakeFacade{snap: authstate.Snapshot{
		Version:              3,
		State:                acquisition.StateStable,
		Session:              &sessions.Session{AccessToken: "secret-access", Identity: "u1"},
		Identity:             "u1",
		Profile:              &profiles.Profile{ID: "u1", Username: "nok", TotalPoints: 120, Level: 2},
		ProfileAuthoritative: true,
	}}
}

func newTestServer(t *testing.T, f Facade, opts ...Option) *Server {
	t.Helper()
	s, err := New(config.New(), f, opts...)
	require.NoError(t, err)
	return s
}

func do(s http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, &fakeFacade{})
	require.Error(t, err)
	_, err = New(config.New(), nil)
	require.Error(t, err)
}

func TestHealthAndState(t *testing.T) {
	s := newTestServer(t, signedInFacade())

	rec := do(s, http.MethodGet, RouteHealth, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = do(s, http.MethodGet, RouteState, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "secret-access")
	body := decodeBody(t, rec)
	require.Equal(t, "stable", body["state"])
	require.Equal(t, "u1", body["identity"])
	require.Equal(t, false, body["loading"])
	require.Equal(t, "nok", body["profile"].(map[string]interface{})["username"])
}

func TestSignInFlow(t *testing.T) {
	flows := authflowrepo.NewInMemoryRepo()
	signIn := &fakeSignIn{}
	s := newTestServer(t, signedInFacade(), WithSignInFlow(signIn, flows))

	rec := do(s, http.MethodGet, RouteSignIn+"?return_to=/forum", "")
	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	flow, err := flows.Get(state)
	require.NoError(t, err)
	require.Equal(t, "/forum", flow.ReturnURL)

	rec = do(s, http.MethodGet, RouteCallback+"?code=good&state="+state, "")
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/forum", rec.Header().Get("Location"))
	require.Equal(t, flow.CodeVerifier, signIn.verifier)
	require.Equal(t, flow.Nonce, signIn.nonce)

	// State is single use
	rec = do(s, http.MethodGet, RouteCallback+"?code=good&state="+state, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignInRejectsForeignReturnURL(t *testing.T) {
	for _, returnTo := range []string{"https://evil.test/", "//evil.test", `/\evil.test`, ""} {
		require.Equal(t, RouteState, safeReturnURL(returnTo), returnTo)
	}
	require.Equal(t, "/profile/me", safeReturnURL("/profile/me"))
}

func TestCallbackFailures(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	flows := authflowrepo.NewInMemoryRepo()
	signIn := &fakeSignIn{}
	s := newTestServer(t, signedInFacade(),
		WithSignInFlow(signIn, flows),
		WithNowTime(func() time.Time { return now }),
	)

	rec := do(s, http.MethodGet, RouteCallback+"?error=access_denied&error_description=nope", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodGet, RouteCallback+"?code=good", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodGet, RouteCallback+"?code=good&state=unknown", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, flows.Upsert("stale", &authflowrepo.AuthFlowState{CreatedAt: now.Add(-time.Hour)}))
	rec = do(s, http.MethodGet, RouteCallback+"?code=good&state=stale", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	signIn.err = errors.Wrapf(errors.ErrProviderRejected, "exchange")
	require.NoError(t, flows.Upsert("fresh", &authflowrepo.AuthFlowState{CreatedAt: now}))
	rec = do(s, http.MethodGet, RouteCallback+"?code=bad&state=fresh", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignInRoutesNeedAFlow(t *testing.T) {
	s := newTestServer(t, signedInFacade())
	rec := do(s, http.MethodGet, RouteSignIn, "")
	// Only the catch-all preflight pattern matches the path
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSignOut(t *testing.T) {
	f := signedInFacade()
	s := newTestServer(t, f)

	rec := do(s, http.MethodPost, RouteSignOut, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, 1, f.signOuts)
	require.Empty(t, f.Snapshot().Identity)
}

func TestRefreshProfile(t *testing.T) {
	f := signedInFacade()
	s := newTestServer(t, f)

	rec := do(s, http.MethodPost, RouteProfileRefresh+"?force=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, f.lastForce)
	require.Equal(t, "nok", decodeBody(t, rec)["username"])

	rec = do(s, http.MethodPost, RouteProfileRefresh+"?force=maybe", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	f.refreshErr = errors.Join(errors.ErrProfileFetchFailed, errors.ErrNetworkUnreachable)
	rec = do(s, http.MethodPost, RouteProfileRefresh+"?force=1", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "profile_fetch_failed", decodeBody(t, rec)["error"])

	f.refreshErr = errors.ErrNoSession
	rec = do(s, http.MethodPost, RouteProfileRefresh, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, f.lastForce)
}

func TestPatchProfile(t *testing.T) {
	f := signedInFacade()
	s := newTestServer(t, f)

	rec := do(s, http.MethodPatch, RouteProfile, `{"total_points": 420}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.EqualValues(t, 420, body["total_points"])
	require.EqualValues(t, 5, body["level"])

	rec = do(s, http.MethodPatch, RouteProfile, `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodPatch, RouteProfile, `{"karma": 1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	empty := newTestServer(t, &fakeFacade{})
	rec = do(empty, http.MethodPatch, RouteProfile, `{"username": "x"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestSaveProfile(t *testing.T) {
	f := signedInFacade()
	s := newTestServer(t, f)

	rec := do(s, http.MethodPut, RouteProfile, `{"username": "nok2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nok2", decodeBody(t, rec)["username"])

	f.saveErr = &backend.CallError{
		Kind:   backend.KindValidation,
		Status: http.StatusUnprocessableEntity,
		Method: http.MethodPatch,
		Path:   "/profile",
		Fields: []backend.FieldError{{Field: "username", Message: "too long", Type: "string_too_long"}},
	}
	rec = do(s, http.MethodPut, RouteProfile, `{"username": "way-too-long"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "validation", resp.Error)
	require.Equal(t, "username", resp.Fields[0].Field)

	f.saveErr = errors.Wrapf(errors.ErrUnsupported, "no updater")
	rec = do(s, http.MethodPut, RouteProfile, `{"username": "x"}`)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestUnload(t *testing.T) {
	f := signedInFacade()
	f.unloadOut = navigation.OutcomePurged
	s := newTestServer(t, f)

	rec := do(s, http.MethodPost, RouteLifecycleUnload, `{"intent": "close"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, string(navigation.OutcomePurged), decodeBody(t, rec)["outcome"])
	require.Equal(t, navigation.UnloadEvent{Intent: navigation.IntentClose}, f.lastUnload)

	rec = do(s, http.MethodPost, RouteLifecycleUnload, `{"persisted": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, navigation.UnloadEvent{Persisted: true, Intent: navigation.IntentUnknown}, f.lastUnload)

	rec = do(s, http.MethodPost, RouteLifecycleUnload, `{"intent": "shutdown"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCors(t *testing.T) {
	s := newTestServer(t, signedInFacade())

	req := httptest.NewRequest(http.MethodOptions, RouteProfile, nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")

	req = httptest.NewRequest(http.MethodGet, RouteState, nil)
	req.Header.Set("Origin", "http://elsewhere.test")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoverMiddleware(t *testing.T) {
	f := signedInFacade()
	f.panics = true
	s := newTestServer(t, f)

	rec := do(s, http.MethodGet, RouteState, "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t, signedInFacade(), WithMetricsHandler(promhttp.Handler()))
	rec := do(s, http.MethodGet, RouteMetrics, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}
