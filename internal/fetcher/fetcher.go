// Package fetcher implements the Source Fetcher (C2): turning a chain-sourced
// BlueprintDescriptor into a local artifact path (or, for Container sources,
// an opaque image reference) ready for a Spawner to use.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/singleflight"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
	apierrors "github.com/tangle-network/blueprint-manager/internal/pkg/errors"
)

// Fetcher materializes blueprint artifacts into cacheDir, keyed by sha256.
// At most one fetch is ever in flight per digest: concurrent requests for
// the same artifact coalesce onto a single singleflight call.
type Fetcher struct {
	cacheDir       string
	client         *http.Client
	githubBaseURL  string
	ipfsGatewayURL string
	group          singleflight.Group
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithGithubBaseURL overrides the GitHub releases base URL. Used in tests
// to point at an httptest server instead of github.com.
func WithGithubBaseURL(url string) Option {
	return func(f *Fetcher) { f.githubBaseURL = url }
}

// New constructs a Fetcher rooted at cacheDir.
func New(cacheDir string, opts ...Option) *Fetcher {
	f := &Fetcher{
		cacheDir:       cacheDir,
		client:         http.DefaultClient,
		githubBaseURL:  "https://github.com",
		ipfsGatewayURL: "https://ipfs.io/ipfs",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch resolves d's artifact. For Native/Wasm sources it returns a local
// path; for Container sources it returns an opaque image reference and no
// local path, matching the "no download" contract for that source kind.
func (f *Fetcher) Fetch(ctx context.Context, d blueprint.Descriptor) (artifactPath, imageRef string, err error) {
	switch d.Source.Kind {
	case blueprint.SourceContainer:
		return "", fmt.Sprintf("%s/%s:%s", d.Source.Registry, d.Source.Image, d.Source.Tag), nil
	case blueprint.SourceNative, blueprint.SourceWasm:
		return f.fetchFile(ctx, d)
	default:
		return "", "", apierrors.New(apierrors.FetchFailed, fmt.Sprintf("unsupported source kind %q", d.Source.Kind))
	}
}

func (f *Fetcher) fetchFile(ctx context.Context, d blueprint.Descriptor) (string, string, error) {
	asset, digest, err := selectAsset(d.Source.Fetcher)
	if err != nil {
		return "", "", err
	}

	v, err, _ := f.group.Do(digest, func() (any, error) {
		return f.fetchAndVerify(ctx, d.Source.Fetcher, asset, digest)
	})
	if err != nil {
		return "", "", err
	}
	return v.(string), "", nil
}

func selectAsset(fetcher blueprint.Fetcher) (blueprint.BinaryAsset, string, error) {
	if fetcher.Kind == blueprint.FetcherIPFS {
		return blueprint.BinaryAsset{}, fetcher.CID, nil
	}
	for _, a := range fetcher.Binaries {
		if (a.OS == "" || a.OS == runtime.GOOS) && (a.Arch == "" || a.Arch == runtime.GOARCH) {
			return a, a.SHA256, nil
		}
	}
	if len(fetcher.Binaries) > 0 {
		return fetcher.Binaries[0], fetcher.Binaries[0].SHA256, nil
	}
	return blueprint.BinaryAsset{}, "", apierrors.New(apierrors.FetchFailed, "no matching release asset for this arch/os")
}

func (f *Fetcher) fetchAndVerify(ctx context.Context, fet blueprint.Fetcher, asset blueprint.BinaryAsset, digest string) (string, error) {
	dest := filepath.Join(f.cacheDir, digest)

	// Idempotence: an artifact whose output already exists with a matching
	// digest is a no-op.
	if ok, _ := verifyFile(dest, digest); ok {
		return dest, nil
	}

	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return "", apierrors.New(apierrors.FetchFailed, "create cache dir").WithCause(err)
	}

	url, err := f.downloadURL(fet, asset)
	if err != nil {
		return "", err
	}

	tmp := dest + ".partial"
	if err := f.download(ctx, url, tmp); err != nil {
		os.Remove(tmp)
		return "", apierrors.New(apierrors.FetchFailed, "download "+url).WithCause(err)
	}

	ok, sum := verifyFile(tmp, digest)
	if !ok {
		os.Remove(tmp)
		return "", apierrors.New(apierrors.IntegrityMismatch, fmt.Sprintf("sha256 mismatch: want %s got %s", digest, sum))
	}

	if err := os.Rename(tmp, dest); err != nil {
		return "", apierrors.New(apierrors.FetchFailed, "install artifact").WithCause(err)
	}
	return dest, nil
}

func (f *Fetcher) downloadURL(fet blueprint.Fetcher, asset blueprint.BinaryAsset) (string, error) {
	switch fet.Kind {
	case blueprint.FetcherGithub:
		return fmt.Sprintf("%s/%s/%s/releases/download/%s/%s", f.githubBaseURL, fet.Owner, fet.Repo, fet.Tag, asset.Name), nil
	case blueprint.FetcherIPFS:
		return fmt.Sprintf("%s/%s", f.ipfsGatewayURL, fet.CID), nil
	default:
		return "", apierrors.New(apierrors.FetchFailed, "unknown fetcher kind")
	}
}

func (f *Fetcher) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, resp.Body)
	return err
}

func verifyFile(path, wantDigest string) (bool, string) {
	f, err := os.Open(path)
	if err != nil {
		return false, ""
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, ""
	}
	got := hex.EncodeToString(h.Sum(nil))
	return got == wantDigest, got
}
