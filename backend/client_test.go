package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/longanisha/Mahidol-Forum-sub000/internal/errors"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/utils"
	"github.com/longanisha/Mahidol-Forum-sub000/profiles"
	"github.com/longanisha/Mahidol-Forum-sub000/sessions"
	"github.com/stretchr/testify/require"
)

const profileJSON = `{"id":"u1","username":"nok","email":"nok@student.mahidol.edu","avatar_url":null,"total_points":230,"level":3,"role":"user","created_at":"2024-05-01T10:00:00.123456"}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL + "/")
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresAbsoluteURL(t *testing.T) {
	_, err := NewClient("localhost:8000")
	require.Error(t, err)
	_, err = NewClient("/api")
	require.Error(t, err)
}

func TestGetProfile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/points/profile", r.URL.Path)
		require.Equal(t, "Bearer at1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, profileJSON)
	})

	p, err := c.FetchProfile(context.Background(), &sessions.Session{AccessToken: "at1", Identity: "u1"})
	require.NoError(t, err)
	require.Equal(t, "u1", p.ID)
	require.Equal(t, "nok", p.Username)
	require.Equal(t, 230, p.TotalPoints)
	require.Equal(t, 3, p.Level)
	require.Equal(t, 2024, p.CreatedAt.Year())
}

func TestProfilePathUnderMountedPrefix(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, profileJSON)
	}))
	t.Cleanup(srv.Close)
	session := &sessions.Session{AccessToken: "at1", Identity: "u1"}

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	require.Equal(t, DefaultProfilePath, c.ProfilePath())
	_, err = c.FetchProfile(context.Background(), session)
	require.NoError(t, err)
	_, err = c.UpdateProfile(context.Background(), session, profiles.Patch{Username: utils.Ptr("nok")})
	require.NoError(t, err)

	c, err = NewClient(srv.URL+"/api/", WithProfilePath("v2/profile/"))
	require.NoError(t, err)
	_, err = c.FetchProfile(context.Background(), session)
	require.NoError(t, err)

	require.Equal(t, []string{
		"GET /points/profile",
		"PATCH /points/profile",
		"GET /api/v2/profile",
	}, paths)
}

func TestGetProfileRejectsInvalidPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"username":"no id here","created_at":"2024-05-01T10:00:00Z"}`)
	})

	_, err := c.GetProfile(context.Background(), "at")
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrValidation))

	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	require.Equal(t, KindValidation, callErr.Kind)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		want       error
		wantKind   Kind
		wantDetail string
	}{
		{name: "unauthorized", status: 401, body: `{"detail":"Invalid token"}`, want: errors.ErrUnauthorized, wantKind: KindUnauthorized, wantDetail: "Invalid token"},
		{name: "forbidden", status: 403, body: `{"detail":"Not allowed"}`, want: errors.ErrForbidden, wantKind: KindForbidden, wantDetail: "Not allowed"},
		{name: "bad request", status: 400, body: `{"error":"bad payload"}`, want: errors.ErrValidation, wantKind: KindValidation, wantDetail: "bad payload"},
		{name: "unprocessable", status: 422, body: `{"detail":[{"field":"username","message":"too long","type":"string_too_long"}],"message":"Validation failed"}`, want: errors.ErrValidation, wantKind: KindValidation, wantDetail: "Validation failed"},
		{name: "auth timeout", status: 408, body: `{"detail":"Authentication timeout"}`, want: errors.ErrNetworkUnreachable, wantKind: KindNetwork, wantDetail: "Authentication timeout"},
		{name: "gateway", status: 503, body: `upstream down`, want: errors.ErrNetworkUnreachable, wantKind: KindNetwork, wantDetail: "upstream down"},
		{name: "not found", status: 404, body: `{"detail":"Profile not found"}`, want: errors.ErrOther, wantKind: KindOther, wantDetail: "Profile not found"},
		{name: "server error", status: 500, body: `{"detail":"boom"}`, want: errors.ErrOther, wantKind: KindOther, wantDetail: "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := c.GetProfile(context.Background(), "at")
			require.Error(t, err)
			require.True(t, errors.Is(err, tt.want), "got %v", err)

			var callErr *CallError
			require.True(t, errors.As(err, &callErr))
			require.Equal(t, tt.wantKind, callErr.Kind)
			require.Equal(t, tt.status, callErr.Status)
			require.Equal(t, tt.wantDetail, callErr.Detail)
		})
	}
}

func TestValidationFieldsAreParsed(t *testing.T) {
	detail, fields := parseErrorBody([]byte(`{"detail":[{"loc":["body","username"],"msg":"field required","type":"missing"}]}`))
	require.Equal(t, "field required", detail)
	require.Equal(t, []FieldError{{Field: "username", Message: "field required", Type: "missing"}}, fields)
}

func TestNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	srv.Close()

	_, err = c.GetProfile(context.Background(), "at")
	require.True(t, errors.Is(err, errors.ErrNetworkUnreachable))
}

func TestTimeoutIsNetworkFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(srv.URL, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)
	_, err = c.GetProfile(context.Background(), "at")
	require.True(t, errors.Is(err, errors.ErrNetworkUnreachable))
}

func TestUpdateProfileSendsEditableFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, map[string]interface{}{"username": "renamed"}, body)
		_, _ = io.WriteString(w, `{"id":"u1","username":"renamed","avatar_url":"","total_points":0,"level":1,"created_at":"2024-05-01T10:00:00Z"}`)
	})

	patch := profiles.Patch{Username: utils.Ptr("renamed"), TotalPoints: utils.Ptr(999)}
	p, err := c.UpdateProfile(context.Background(), &sessions.Session{AccessToken: "at", Identity: "u1"}, patch)
	require.NoError(t, err)
	require.Equal(t, "renamed", p.Username)
}

func TestCallWithoutSession(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1")
	require.NoError(t, err)
	_, err = c.FetchProfile(context.Background(), nil)
	require.True(t, errors.Is(err, errors.ErrUnauthorized))
}
