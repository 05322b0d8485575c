package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(&config.Config{
		APIBaseURL:        baseURL,
		HTTPTimeout:       2 * time.Second,
		RetryMaxAttempts:  3,
		RetryInitialDelay: time.Millisecond,
	}, zerolog.Nop())
}

func writeEnvelope(w http.ResponseWriter, status int, data interface{}, errBody *response.ErrorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  data,
		"error": errBody,
	})
}

func TestLoginDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/auth/login", r.URL.Path)

		var req model.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "alice", req.Username)

		writeEnvelope(w, http.StatusOK, model.LoginResponse{
			AccessToken: "tok-123",
			User:        model.User{ID: 1, Username: "alice", Role: model.RoleStudent},
		}, nil)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	out, err := c.Login(context.Background(), model.LoginRequest{Username: "alice", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "tok-123", out.AccessToken)
	assert.Equal(t, model.RoleStudent, out.User.Role)
}

func TestBearerTokenAttached(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeEnvelope(w, http.StatusOK, model.User{ID: 1}, nil)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	c.SetTokenFunc(func() string { return "tok-abc" })

	_, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-abc", gotAuth)
}

func TestNetworkFailureRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			// Kill the connection without a response: a pure network
			// failure from the client's perspective.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		writeEnvelope(w, http.StatusOK, model.User{ID: 7, Username: "alice"}, nil)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	out, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, out.ID)
	assert.Equal(t, 3, calls)
}

func TestApplicationErrorNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeEnvelope(w, http.StatusConflict, nil, &response.ErrorBody{
			Code:    response.ErrConflict,
			Message: response.GetMessage(response.ErrConflict),
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Register(context.Background(), model.RegisterRequest{Username: "bob"})
	require.Error(t, err)

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, response.ErrConflict, apiErr.Code)
	assert.Equal(t, 1, calls, "application errors must not be retried")
}

func TestUnauthorizedHookFires(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, nil, &response.ErrorBody{
			Code:    response.ErrTokenExpired,
			Message: response.GetMessage(response.ErrTokenExpired),
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	c.SetTokenFunc(func() string { return "tok-expired" })
	fired := 0
	c.SetOnUnauthorized(func() { fired++ })

	_, err := c.Me(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, 1, fired)
}

func TestUnauthorizedHookSkippedWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, nil, &response.ErrorBody{
			Code:    response.ErrInvalidCredentials,
			Message: response.GetMessage(response.ErrInvalidCredentials),
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	fired := 0
	c.SetOnUnauthorized(func() { fired++ })

	// A failed login carries no bearer token: there is no session to
	// invalidate, so the caller just gets the error.
	_, err := c.Login(context.Background(), model.LoginRequest{Username: "alice", Password: "wrong-1"})
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, 0, fired)
}

func TestGetExamNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusNotFound, nil, &response.ErrorBody{
			Code:    response.ErrNotFound,
			Message: response.GetMessage(response.ErrNotFound),
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.GetExam(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrExamNotFound)
}

func TestSubmitExamEmptyAnswers(t *testing.T) {
	var gotBody model.SubmitExamRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeEnvelope(w, http.StatusOK, model.SubmitResult{SubmissionID: "s1", TotalScore: 0}, nil)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	res, err := c.SubmitExam(context.Background(), "exam-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "s1", res.SubmissionID)
	require.NotNil(t, gotBody.Answers, "empty submission must carry answers: [] not null")
	assert.Empty(t, gotBody.Answers)
}
