package detector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLoadHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/healthz", r.URL.Path)
		fmt.Fprint(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, zerolog.Nop())
	require.NoError(t, d.Load(context.Background()))
}

func TestLoadModelUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, zerolog.Nop())
	require.ErrorIs(t, d.Load(context.Background()), ErrModelUnavailable)
}

func TestLoadUnreachableSidecar(t *testing.T) {
	d := NewHTTPDetector("http://127.0.0.1:1", zerolog.Nop())
	require.ErrorIs(t, d.Load(context.Background()), ErrModelUnavailable)
}

func TestDetectFacesCountsDetections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/detect", r.URL.Path)
		require.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, []byte("jpeg-frame"), body)

		fmt.Fprint(w, `{"faces":[{"x":10,"y":20,"width":100,"height":100},{"x":200,"y":20,"width":90,"height":95}]}`)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, zerolog.Nop())
	count, err := d.DetectFaces(context.Background(), []byte("jpeg-frame"))
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestDetectFacesEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"faces":[]}`)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, zerolog.Nop())
	count, err := d.DetectFaces(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestDetectFacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, zerolog.Nop())
	_, err := d.DetectFaces(context.Background(), []byte("f"))
	require.Error(t, err)
}
