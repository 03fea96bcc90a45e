package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
	apierrors "github.com/tangle-network/blueprint-manager/internal/pkg/errors"
)

func TestFetcher_ContainerSourceReturnsImageRefWithoutDownload(t *testing.T) {
	f := New(t.TempDir())
	d := blueprint.Descriptor{
		BlueprintID: 1,
		Source:      blueprint.Source{Kind: blueprint.SourceContainer, Registry: "ghcr.io", Image: "tangle/foo", Tag: "v1"},
	}

	path, ref, err := f.Fetch(context.Background(), d)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, "ghcr.io/tangle/foo:v1", ref)
}

func TestFetcher_NativeGithubDownloadsAndVerifies(t *testing.T) {
	payload := []byte("fake-binary-contents")
	sum := sha256.Sum256(payload)
	digest := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	cacheDir := t.TempDir()
	f := New(cacheDir, WithGithubBaseURL(srv.URL))
	d := blueprint.Descriptor{
		BlueprintID: 1,
		Source: blueprint.Source{
			Kind: blueprint.SourceNative,
			Fetcher: blueprint.Fetcher{
				Kind: blueprint.FetcherGithub, Owner: "o", Repo: "r", Tag: "v1",
				Binaries: []blueprint.BinaryAsset{{Name: "bin", SHA256: digest}},
			},
		},
	}

	path, _, err := f.Fetch(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cacheDir, digest), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFetcher_IntegrityMismatchFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not what you expected"))
	}))
	defer srv.Close()

	f := New(t.TempDir(), WithGithubBaseURL(srv.URL))
	d := blueprint.Descriptor{
		Source: blueprint.Source{
			Kind: blueprint.SourceNative,
			Fetcher: blueprint.Fetcher{
				Kind: blueprint.FetcherGithub, Owner: "o", Repo: "r", Tag: "v1",
				Binaries: []blueprint.BinaryAsset{{Name: "bin", SHA256: "deadbeef"}},
			},
		},
	}

	_, _, err := f.Fetch(context.Background(), d)
	require.Error(t, err)
	me := apierrors.AsManagerError(err)
	assert.Equal(t, apierrors.IntegrityMismatch, me.Kind)
}

func TestFetcher_IdempotentWhenAlreadyCached(t *testing.T) {
	payload := []byte("cached-contents")
	sum := sha256.Sum256(payload)
	digest := hex.EncodeToString(sum[:])

	cacheDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, digest), payload, 0o644))

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(payload)
	}))
	defer srv.Close()

	f := New(cacheDir, WithGithubBaseURL(srv.URL))
	d := blueprint.Descriptor{
		Source: blueprint.Source{
			Kind: blueprint.SourceNative,
			Fetcher: blueprint.Fetcher{
				Kind: blueprint.FetcherGithub, Owner: "o", Repo: "r", Tag: "v1",
				Binaries: []blueprint.BinaryAsset{{Name: "bin", SHA256: digest}},
			},
		},
	}

	_, _, err := f.Fetch(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, 0, calls, "a cached artifact with a matching digest must not trigger a download")
}
