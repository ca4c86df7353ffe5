package websearch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	params map[string]string
	err    error
	calls  []string
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.calls = append(f.calls, name)
	if f.err != nil {
		return "", f.err
	}
	return f.params[name], nil
}

func credGetter() *fakeGetter {
	return &fakeGetter{params: map[string]string{
		"/asesor-agent/search-token":            `{"token":"search-key"}`,
		"/asesor-agent/config/search_engine_id": "cx-123",
	}}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "/asesor-agent")
	require.Error(t, err)

	_, err = NewClient(credGetter(), "")
	require.Error(t, err)
}

func TestSearch_QueryParameters(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient(credGetter(), "/asesor-agent", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "tasa del IVA en Chile")
	require.NoError(t, err)

	require.Equal(t, "search-key", gotQuery.Get("key"))
	require.Equal(t, "cx-123", gotQuery.Get("cx"))
	require.Equal(t, "tasa del IVA en Chile", gotQuery.Get("q"))
	require.Equal(t, "3", gotQuery.Get("num"))
}

func TestSearch_MapsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"items":[
			{"title":"SII - IVA","link":"https://www.sii.cl/iva","snippet":"El IVA es un impuesto\nal valor agregado."},
			{"title":"BCN","link":"https://www.bcn.cl/ley","snippet":"Texto legal."}
		]}`))
	}))
	defer srv.Close()

	c, err := NewClient(credGetter(), "/asesor-agent", WithBaseURL(srv.URL))
	require.NoError(t, err)

	results, err := c.Search(context.Background(), "IVA")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "SII - IVA", results[0].Title)
	require.Equal(t, "https://www.sii.cl/iva", results[0].URL)
	require.Equal(t, "El IVA es un impuesto al valor agregado.", results[0].Snippet, "newlines inside snippets are flattened")
	require.Equal(t, "BCN", results[1].Title)
}

func TestSearch_NoItemsIsEmptyNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := NewClient(credGetter(), "/asesor-agent", WithBaseURL(srv.URL))
	require.NoError(t, err)

	results, err := c.Search(context.Background(), "consulta sin resultados")
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearch_EmptyQuery(t *testing.T) {
	c, err := NewClient(credGetter(), "/asesor-agent")
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "   ")
	require.Error(t, err)
}

func TestSearch_CredentialsFetchedOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	g := credGetter()
	c, err := NewClient(g, "/asesor-agent", WithBaseURL(srv.URL))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = c.Search(context.Background(), "IVA")
		require.NoError(t, err)
	}
	require.Equal(t, []string{
		"/asesor-agent/search-token",
		"/asesor-agent/config/search_engine_id",
	}, g.calls, "SSM must only be consulted on the first search")
}

func TestSearch_Non2xxOmitsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(credGetter(), "/asesor-agent", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "IVA")
	require.Error(t, err)
	require.Contains(t, err.Error(), "403")
	require.NotContains(t, err.Error(), "search-key", "the API key must never appear in errors")
	require.NotContains(t, err.Error(), "cx-123")
}

func TestSearch_CredentialFailureSurfaces(t *testing.T) {
	c, err := NewClient(&fakeGetter{err: errors.New("ssm unavailable")}, "/asesor-agent")
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "IVA")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ssm unavailable")
}
