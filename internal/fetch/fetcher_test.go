package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brogergvhs/coverd/internal/metrics"
)

// relayServer mimics a ?target= relay: it decodes the target and answers
// according to the handler for that target.
func relayServer(t *testing.T, handle func(target string, w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle(r.URL.Query().Get("target"), w, r)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestEncodeComponent(t *testing.T) {
	assert.Equal(t, "https%3A%2F%2Fjnovels.com%2F%3Fs%3Da%20b", EncodeComponent("https://jnovels.com/?s=a b"))
}

func TestRelayURL(t *testing.T) {
	f := New(http.DefaultClient, Options{RelayBase: "https://relay.example/?target="})
	assert.Equal(t, "https://relay.example/?target=https%3A%2F%2Fsite%2Fx", f.RelayURL("https://site/x"))

	direct := New(http.DefaultClient, Options{})
	assert.Equal(t, "https://site/x", direct.RelayURL("https://site/x"))
}

func TestFetch_OK(t *testing.T) {
	srv := relayServer(t, func(target string, w http.ResponseWriter, _ *http.Request) {
		assert.Equal(t, "https://jnovels.com/top-light-novels-to-read/", target)
		_, _ = w.Write([]byte("<html>ok</html>"))
	})

	m := metrics.New()
	f := New(srv.Client(), Options{RelayBase: srv.URL + "/?target=", Timeout: time.Second, Metrics: m})

	body, err := f.Fetch(context.Background(), "https://jnovels.com/top-light-novels-to-read/")
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", body)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchTotal.WithLabelValues("ok")))
}

func TestFetch_HTTPStatus(t *testing.T) {
	srv := relayServer(t, func(_ string, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	f := New(srv.Client(), Options{RelayBase: srv.URL + "/?target=", Timeout: time.Second})

	_, err := f.Fetch(context.Background(), "https://site/")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, StatusCode(err))
	assert.False(t, IsTimeout(err))
	assert.Equal(t, "http_status", KindOf(err))
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := relayServer(t, func(_ string, w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	f := New(srv.Client(), Options{RelayBase: srv.URL + "/?target=", Timeout: 50 * time.Millisecond})

	_, err := f.Fetch(context.Background(), "https://site/")
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "got %v", err)
}

func TestFetch_Network(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := New(http.DefaultClient, Options{RelayBase: addr + "/?target=", Timeout: time.Second})

	_, err := f.Fetch(context.Background(), "https://site/")
	var fe *Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, KindNetwork, fe.Kind)
}

func TestFetch_ParentCancelled(t *testing.T) {
	srv := relayServer(t, func(string, http.ResponseWriter, *http.Request) {})
	f := New(srv.Client(), Options{RelayBase: srv.URL + "/?target="})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, "https://site/")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProbe(t *testing.T) {
	srv := relayServer(t, func(target string, w http.ResponseWriter, r *http.Request) {
		switch target {
		case "https://site/alive":
			w.WriteHeader(http.StatusOK)
		case "https://site/gone":
			w.WriteHeader(http.StatusNotFound)
		case "https://site/nohead":
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			assert.Equal(t, "bytes=0-0", r.Header.Get("Range"))
			w.WriteHeader(http.StatusPartialContent)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})

	f := New(srv.Client(), Options{RelayBase: srv.URL + "/?target=", Timeout: time.Second})
	ctx := context.Background()

	ok, err := f.Probe(ctx, "https://site/alive")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Probe(ctx, "https://site/gone")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.Probe(ctx, "https://site/nohead")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.Probe(ctx, "https://site/flaky")
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
}
