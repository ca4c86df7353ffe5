package knowledgebase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("   ")
	require.Error(t, err)

	c, err := NewClient("http://localhost:8000/")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8000", c.baseURL, "trailing slash is trimmed")
}

func TestQuery_RequestShape(t *testing.T) {
	var gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"documents":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = c.Query(context.Background(), "regimen pro pyme", 3)
	require.NoError(t, err)

	require.Equal(t, "/query", gotPath)
	var req queryRequest
	require.NoError(t, json.Unmarshal(gotBody, &req))
	require.Equal(t, "regimen pro pyme", req.Query)
	require.Equal(t, 3, req.TopK)
}

func TestQuery_MapsDocuments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"documents":[
			{"text":"El IVA grava las ventas.","source":"ley_iva.pdf"},
			{"text":"La tasa general es 19%.","source":"circular_sii.pdf"}
		]}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	chunks, err := c.Query(context.Background(), "IVA", 3)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Equal(t, "El IVA grava las ventas.", chunks[0].Text)
	require.Equal(t, "ley_iva.pdf", chunks[0].Source)
	require.Equal(t, "circular_sii.pdf", chunks[1].Source)
}

func TestQuery_EmptyCorpusIsNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"documents":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	chunks, err := c.Query(context.Background(), "tema sin cobertura", 3)
	require.NoError(t, err)
	require.Empty(t, chunks)
}

func TestQuery_NonPositiveTopKDefaults(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"documents":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = c.Query(context.Background(), "IVA", 0)
	require.NoError(t, err)

	var req queryRequest
	require.NoError(t, json.Unmarshal(gotBody, &req))
	require.Equal(t, 3, req.TopK)
}

func TestQuery_EmptyText(t *testing.T) {
	c, err := NewClient("http://localhost:8000")
	require.NoError(t, err)

	_, err = c.Query(context.Background(), "  ", 3)
	require.Error(t, err)
}

func TestQuery_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("index rebuilding"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = c.Query(context.Background(), "IVA", 3)
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
	require.Contains(t, err.Error(), "index rebuilding")
}
