package identitytoolkit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"asesor-agent/internal/identity"
)

type fakeGetter struct {
	val   string
	err   error
	calls int
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.val, f.err
}

func keyGetter() *fakeGetter {
	return &fakeGetter{val: `{"token":"firebase-api-key"}`}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "/asesor-agent")
	require.Error(t, err)

	_, err = NewClient(keyGetter(), " ")
	require.Error(t, err)
}

func TestVerify_Success(t *testing.T) {
	var gotPath, gotKey string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"users":[{"localId":"uid-42","email":"maria@example.cl"}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(keyGetter(), "/asesor-agent", WithBaseURL(srv.URL))
	require.NoError(t, err)

	subject, err := c.Verify(context.Background(), "id-token-abc")
	require.NoError(t, err)
	require.Equal(t, "uid-42", subject)

	require.Equal(t, "/accounts:lookup", gotPath)
	require.Equal(t, "firebase-api-key", gotKey)

	var req lookupRequest
	require.NoError(t, json.Unmarshal(gotBody, &req))
	require.Equal(t, "id-token-abc", req.IDToken)
}

func TestVerify_RejectedTokenIsInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"INVALID_ID_TOKEN"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(keyGetter(), "/asesor-agent", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Verify(context.Background(), "expired-token")
	require.ErrorIs(t, err, identity.ErrInvalidToken)
}

func TestVerify_NoMatchingUserIsInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"users":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient(keyGetter(), "/asesor-agent", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Verify(context.Background(), "orphan-token")
	require.ErrorIs(t, err, identity.ErrInvalidToken)
}

func TestVerify_EmptyTokenIsInvalid(t *testing.T) {
	c, err := NewClient(keyGetter(), "/asesor-agent")
	require.NoError(t, err)

	_, err = c.Verify(context.Background(), "   ")
	require.ErrorIs(t, err, identity.ErrInvalidToken)
}

func TestVerify_ServerErrorIsNotInvalidToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(keyGetter(), "/asesor-agent", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Verify(context.Background(), "id-token-abc")
	require.Error(t, err)
	require.False(t, errors.Is(err, identity.ErrInvalidToken),
		"an outage must not be mistaken for a bad token")
}

func TestVerify_KeyFetchedOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"users":[{"localId":"uid-42"}]}`))
	}))
	defer srv.Close()

	g := keyGetter()
	c, err := NewClient(g, "/asesor-agent", WithBaseURL(srv.URL))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = c.Verify(context.Background(), "id-token-abc")
		require.NoError(t, err)
	}
	require.Equal(t, 1, g.calls)
}
