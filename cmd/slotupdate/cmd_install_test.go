package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvo5/slotupdate/config"
)

func TestResolveBundlePathPassesThroughLocalPaths(t *testing.T) {
	path, cleanup, err := resolveBundlePath("/tmp/some-bundle.raucb", 0)
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, "/tmp/some-bundle.raucb", path)
}

func TestResolveBundlePathDownloadsHTTPURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bundle bytes"))
	}))
	defer srv.Close()

	path, cleanup, err := resolveBundlePath(srv.URL, 0)
	require.NoError(t, err)
	defer cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "bundle bytes", string(data))
}

func TestDeviceVariantPrefersVariantName(t *testing.T) {
	sys := &config.System{VariantName: "board-rev2"}
	assert.Equal(t, "board-rev2", deviceVariant(sys))
}

func TestDeviceVariantReturnsEmptyOnFailure(t *testing.T) {
	sys := &config.System{VariantFile: filepath.Join(t.TempDir(), "does-not-exist")}
	assert.Equal(t, "", deviceVariant(sys))
}
