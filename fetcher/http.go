package fetcher

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"

	tuferrors "github.com/tufcore/tufcore/errors"
	"github.com/tufcore/tufcore/metadata"
)

// HTTPFetcher is the default RemoteFetcher: URL-join plus a
// length-bounded body read, backed by a retrying HTTP client so a
// single dropped connection doesn't fail an entire checkForUpdates
// cycle.
type HTTPFetcher struct {
	client    *retryablehttp.Client
	mirrors   []string
	stageDir  string

	mu     sync.Mutex
	picked string // mirror locked in by the current WithMirror scope
}

// NewHTTPFetcher constructs a fetcher that downloads from the first of
// mirrors and stages downloads under stageDir. Other mirrors are not
// tried when the first one fails.
func NewHTTPFetcher(mirrors []string, stageDir string) *HTTPFetcher {
	client := retryablehttp.NewClient()
	client.Logger = nil // logging happens via logrus at the call site, not inside the transport
	client.RetryMax = 3
	return &HTTPFetcher{client: client, mirrors: mirrors, stageDir: stageDir}
}

// WithMirror picks one mirror for the duration of action, so every
// fetch issued inside it targets the same origin.
func (f *HTTPFetcher) WithMirror(action func() error) error {
	f.mu.Lock()
	if len(f.mirrors) == 0 {
		f.mu.Unlock()
		return fmt.Errorf("fetcher: no mirrors configured")
	}
	f.picked = f.mirrors[0]
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.picked = ""
		f.mu.Unlock()
	}()
	return action()
}

// SetMirrors replaces the mirror set a future WithMirror call will
// pick from. It is how a freshly-verified Mirrors role document
// actually changes where this fetcher downloads from: the update
// driver calls it once the document has passed signature and version
// checks, so the new origins take effect starting with the next
// checkForUpdates or downloadPackage call. An empty urlBases is
// ignored, since losing every configured origin would strand every
// subsequent fetch.
func (f *HTTPFetcher) SetMirrors(urlBases []string) {
	if len(urlBases) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mirrors = urlBases
	log.Infof("mirror set updated from Mirrors role document: %v", urlBases)
}

// GetRemote downloads remoteFile.Name from the locked-in mirror,
// preferring a ".gz" suffix for names that might have a compressed
// encoding available server-side (the package index), falling back to
// the plain form.
func (f *HTTPFetcher) GetRemote(attemptNr int, remoteFile RemoteFile) (Format, string, StagedHandle, error) {
	f.mu.Lock()
	mirror := f.picked
	f.mu.Unlock()
	if mirror == "" {
		return FormatPlain, "", nil, fmt.Errorf("fetcher: GetRemote called outside WithMirror")
	}

	if strings.HasSuffix(remoteFile.Name, ".tar") {
		if handle, path, err := f.download(mirror, remoteFile.Name+".gz", remoteFile.MaxLength); err == nil {
			return FormatGzip, path, handle, nil
		}
	}
	handle, path, err := f.download(mirror, remoteFile.Name, remoteFile.MaxLength)
	if err != nil {
		return FormatPlain, "", nil, err
	}
	return FormatPlain, path, handle, nil
}

func (f *HTTPFetcher) download(mirror, name string, maxLength int64) (StagedHandle, string, error) {
	url := strings.TrimRight(mirror, "/") + "/" + name
	req, err := retryablehttp.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, url, tuferrors.SomeRemoteError{Cause: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, url, tuferrors.SomeRemoteError{Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, url, tuferrors.ErrDownloadHTTP{StatusCode: resp.StatusCode, URL: url}
	}

	var reader io.Reader = resp.Body
	if maxLength > 0 {
		reader = io.LimitReader(resp.Body, maxLength+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, url, tuferrors.SomeRemoteError{Cause: err}
	}
	if maxLength > 0 && int64(len(data)) > maxLength {
		return nil, url, fmt.Errorf("fetcher: response for %s exceeded max length %d", url, maxLength)
	}

	stagePath := filepath.Join(f.stageDir, "stage-"+uuid.NewString())
	if err := os.WriteFile(stagePath, data, 0600); err != nil {
		return nil, url, fmt.Errorf("fetcher: staging %s: %w", url, err)
	}
	log.Debugf("staged %s (%d bytes) at %s", url, len(data), stagePath)
	return &fileHandle{path: stagePath, data: data}, url, nil
}

// fileHandle is the default StagedHandle implementation: the staged
// bytes, held both on disk at path (removed by Discard) and in memory
// (which Verify, Read and CopyTo use, without re-reading the file).
type fileHandle struct {
	path string
	data []byte
}

func (h *fileHandle) Verify(expected metadata.FileInfo) bool {
	return expected.VerifyLengthHashes(h.data) == nil
}

func (h *fileHandle) Read() ([]byte, error) { return h.data, nil }

func (h *fileHandle) CopyTo(dest string) error {
	if err := os.WriteFile(dest, h.data, 0644); err != nil {
		return fmt.Errorf("fetcher: copying staged file to %s: %w", dest, err)
	}
	return nil
}

func (h *fileHandle) Discard() error {
	err := os.Remove(h.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
