package util

import (
	"archive/zip"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHuman(t *testing.T) {
	assert.Equal(t, "512 B", Human(512))
	assert.Equal(t, "1.5 KiB", Human(1536))
	assert.Equal(t, "80.0 MiB", Human(80<<20))
	assert.Equal(t, "2.0 GiB", Human(2<<30))
	assert.Equal(t, "4096.0 GiB", Human(4<<40))
}

func TestHTTPClient_SetsHeaders(t *testing.T) {
	var gotUA, gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotCookie = r.Header.Get("Cookie")
	}))
	defer srv.Close()

	cookieFile := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, os.WriteFile(cookieFile, []byte("\n  b=2  \nc=3\n"), 0644))

	c, err := NewHTTPClient(HTTPClientOptions{
		Timeout:    time.Second,
		UserAgent:  "coverd-test",
		Cookie:     "a=1",
		CookieFile: cookieFile,
	})
	require.NoError(t, err)

	resp, err := c.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "coverd-test", gotUA)
	assert.Equal(t, "a=1; b=2", gotCookie)
}

func TestPickUserAgent(t *testing.T) {
	assert.Equal(t, "x", PickUserAgent("x"))
	assert.Contains(t, PickUserAgent(""), "Mozilla/5.0")
}

func TestWriteFileAtomicAndCleanup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "covers", "0001.jpg")

	require.NoError(t, WriteFileAtomic(path, []byte("img")))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "img", string(b))

	stale := filepath.Join(dir, "covers", "0002.jpg.tmp")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0644))

	CleanupPartialFiles(dir)
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestCreateArchive(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "index.html")
	b := filepath.Join(root, "covers", "0001.jpg")
	require.NoError(t, WriteFileAtomic(a, []byte("<html></html>")))
	require.NoError(t, WriteFileAtomic(b, []byte("jpg")))

	out := filepath.Join(t.TempDir(), "grid.zip")
	require.NoError(t, CreateArchive(root, []string{b, a}, out))

	zr, err := zip.OpenReader(out)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"covers/0001.jpg", "index.html"}, names)
}
