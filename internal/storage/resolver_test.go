package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider counts calls and returns canned results or errors.
type fakeProvider struct {
	kind       ProviderKind
	storeErr   error
	dirErr     error
	storeCalls int
	dirCalls   int
}

func (f *fakeProvider) Kind() ProviderKind { return f.kind }

func (f *fakeProvider) Store(ctx context.Context, upload *UploadRequest) (*UploadResult, error) {
	f.storeCalls++
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	return &UploadResult{
		CID:      "bafytest",
		URL:      gatewayFileURL("bafytest", "ipfs.w3s.link", upload.Filename),
		Size:     int64(len(upload.Data)),
		Name:     upload.Filename,
		Type:     upload.ContentType,
		Provider: f.kind,
	}, nil
}

func (f *fakeProvider) StoreDirectory(ctx context.Context, uploads []*UploadRequest) (*DirectoryResult, error) {
	f.dirCalls++
	if f.dirErr != nil {
		return nil, f.dirErr
	}
	files := make([]string, len(uploads))
	for i, upload := range uploads {
		files[i] = upload.Filename
	}
	return &DirectoryResult{CID: "bafydir", URL: gatewayDirURL("bafydir", "ipfs.w3s.link"),
		Files: files, Provider: f.kind}, nil
}

// fakeSession adds the lifecycle surface on top of fakeProvider.
type fakeSession struct {
	fakeProvider
	ready       bool
	initErr     error
	ensureCalls int
}

func (f *fakeSession) EnsureReady(ctx context.Context) error {
	f.ensureCalls++
	if f.initErr != nil {
		return &InitError{Cause: f.initErr}
	}
	f.ready = true
	return nil
}

func (f *fakeSession) IsReady() bool { return f.ready }

func testUpload() *UploadRequest {
	return &UploadRequest{Data: []byte("0123456789"), Filename: "a.png", ContentType: "image/png"}
}

func TestResolve_PrimaryShortCircuits(t *testing.T) {
	primary := &fakeSession{fakeProvider: fakeProvider{kind: ProviderWeb3}}
	secondary := &fakeProvider{kind: ProviderIPFS}
	local := &fakeProvider{kind: ProviderLocal}

	resolver := NewResolver(primary, secondary, local, Options{})

	result, err := resolver.Resolve(context.Background(), testUpload())
	require.NoError(t, err)

	assert.Equal(t, ProviderWeb3, result.Provider)
	assert.Equal(t, int64(10), result.Size)
	assert.Equal(t, 1, primary.storeCalls)
	assert.Equal(t, 0, secondary.storeCalls)
	assert.Equal(t, 0, local.storeCalls)
}

func TestResolve_InitFailureFallsThroughToSecondary(t *testing.T) {
	primary := &fakeSession{
		fakeProvider: fakeProvider{kind: ProviderWeb3},
		initErr:      fmt.Errorf("space selection failed"),
	}
	secondary := &fakeProvider{kind: ProviderIPFS}

	resolver := NewResolver(primary, secondary, nil, Options{})

	result, err := resolver.Resolve(context.Background(), testUpload())
	require.NoError(t, err)

	assert.Equal(t, ProviderIPFS, result.Provider)
	assert.Equal(t, 1, primary.ensureCalls)
	// Store must never run against an uninitialized session.
	assert.Equal(t, 0, primary.storeCalls)
	assert.Equal(t, 1, secondary.storeCalls)
}

func TestResolve_StoreFailureFallsThrough(t *testing.T) {
	primary := &fakeSession{fakeProvider: fakeProvider{
		kind:     ProviderWeb3,
		storeErr: &ProviderError{Provider: ProviderWeb3, Op: "store", Cause: fmt.Errorf("network blip")},
	}}
	secondary := &fakeProvider{kind: ProviderIPFS}

	resolver := NewResolver(primary, secondary, nil, Options{})

	result, err := resolver.Resolve(context.Background(), testUpload())
	require.NoError(t, err)

	assert.Equal(t, ProviderIPFS, result.Provider)
	// One attempt per provider, no retry on the primary.
	assert.Equal(t, 1, primary.storeCalls)
}

func TestResolve_UnconfiguredPrimaryUsesSecondary(t *testing.T) {
	secondary := &fakeProvider{kind: ProviderIPFS}

	resolver := NewResolver(nil, secondary, nil, Options{})

	result, err := resolver.Resolve(context.Background(), testUpload())
	require.NoError(t, err)
	assert.Equal(t, ProviderIPFS, result.Provider)
}

func TestResolve_DevelopmentFallsBackToLocalDisk(t *testing.T) {
	dir := t.TempDir()
	primary := &fakeSession{
		fakeProvider: fakeProvider{kind: ProviderWeb3},
		initErr:      fmt.Errorf("unreachable"),
	}
	secondary := &fakeProvider{
		kind:     ProviderIPFS,
		storeErr: &ProviderError{Provider: ProviderIPFS, Op: "store", Cause: fmt.Errorf("503")},
	}

	resolver := NewResolver(primary, secondary, NewLocalProvider(dir), Options{Production: false})

	result, err := resolver.Resolve(context.Background(), testUpload())
	require.NoError(t, err)

	assert.Equal(t, ProviderLocal, result.Provider)
	assert.Equal(t, int64(10), result.Size)
	assert.True(t, strings.HasPrefix(result.CID, "local-"), "cid %q", result.CID)
	assert.True(t, strings.HasPrefix(result.URL, "/uploads/"), "url %q", result.URL)
	assert.True(t, strings.HasSuffix(result.URL, "-a.png"), "url %q", result.URL)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestResolve_ProductionNeverWritesLocalDisk(t *testing.T) {
	dir := t.TempDir()
	primary := &fakeSession{
		fakeProvider: fakeProvider{kind: ProviderWeb3},
		initErr:      fmt.Errorf("unreachable"),
	}
	secondary := &fakeProvider{
		kind:     ProviderIPFS,
		storeErr: &ProviderError{Provider: ProviderIPFS, Op: "store", Cause: fmt.Errorf("503")},
	}

	resolver := NewResolver(primary, secondary, NewLocalProvider(dir), Options{Production: true})

	_, err := resolver.Resolve(context.Background(), testUpload())

	var terminal *AllProvidersFailedError
	require.ErrorAs(t, err, &terminal)
	assert.Len(t, terminal.Causes, 2)

	entries, err := os.ReadDir(dir)
	if err == nil {
		assert.Empty(t, entries)
	} else {
		// The directory must not even have been created.
		assert.True(t, os.IsNotExist(err))
	}
}

func TestResolve_NoProvidersConfigured(t *testing.T) {
	resolver := NewResolver(nil, nil, nil, Options{})

	_, err := resolver.Resolve(context.Background(), testUpload())

	var terminal *AllProvidersFailedError
	require.ErrorAs(t, err, &terminal)
	assert.Empty(t, terminal.Causes)
}

func TestResolve_EnsureReadyIsIdempotent(t *testing.T) {
	primary := &fakeSession{fakeProvider: fakeProvider{kind: ProviderWeb3}}
	resolver := NewResolver(primary, nil, nil, Options{})

	for i := 0; i < 3; i++ {
		_, err := resolver.Resolve(context.Background(), testUpload())
		require.NoError(t, err)
	}

	// Setup ran once; later resolutions observed the memoized session.
	assert.Equal(t, 1, primary.ensureCalls)
	assert.Equal(t, 3, primary.storeCalls)
}

func TestResolve_FailedInitRetriesNextCall(t *testing.T) {
	primary := &fakeSession{
		fakeProvider: fakeProvider{kind: ProviderWeb3},
		initErr:      fmt.Errorf("transient"),
	}
	resolver := NewResolver(primary, nil, nil, Options{})

	_, err := resolver.Resolve(context.Background(), testUpload())
	var terminal *AllProvidersFailedError
	require.ErrorAs(t, err, &terminal)

	// Recovery: the next resolution retries initialization from scratch.
	primary.initErr = nil
	result, err := resolver.Resolve(context.Background(), testUpload())
	require.NoError(t, err)
	assert.Equal(t, ProviderWeb3, result.Provider)
	assert.Equal(t, 2, primary.ensureCalls)
}

func TestResolve_TerminalErrorCarriesCauses(t *testing.T) {
	storeCause := &ProviderError{Provider: ProviderIPFS, Op: "store", Cause: fmt.Errorf("rejected")}
	secondary := &fakeProvider{kind: ProviderIPFS, storeErr: storeCause}

	resolver := NewResolver(nil, secondary, nil, Options{Production: true})

	_, err := resolver.Resolve(context.Background(), testUpload())

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, ProviderIPFS, providerErr.Provider)
}

func TestResolveDirectory_SkipsLocalFallback(t *testing.T) {
	primary := &fakeSession{
		fakeProvider: fakeProvider{kind: ProviderWeb3},
		initErr:      fmt.Errorf("down"),
	}
	secondary := &fakeProvider{
		kind:   ProviderIPFS,
		dirErr: &ProviderError{Provider: ProviderIPFS, Op: "storeDirectory", Cause: fmt.Errorf("down")},
	}
	local := &fakeProvider{kind: ProviderLocal}

	resolver := NewResolver(primary, secondary, local, Options{Production: false})

	_, err := resolver.ResolveDirectory(context.Background(), []*UploadRequest{testUpload()})

	var terminal *AllProvidersFailedError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, 0, local.dirCalls)
}

func TestResolveDirectory_PrimarySuccess(t *testing.T) {
	primary := &fakeSession{fakeProvider: fakeProvider{kind: ProviderWeb3}}
	secondary := &fakeProvider{kind: ProviderIPFS}

	resolver := NewResolver(primary, secondary, nil, Options{})

	uploads := []*UploadRequest{
		{Data: []byte("a"), Filename: "a.txt", ContentType: "text/plain"},
		{Data: []byte("b"), Filename: "b.txt", ContentType: "text/plain"},
	}
	result, err := resolver.ResolveDirectory(context.Background(), uploads)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "b.txt"}, result.Files)
	assert.Equal(t, 1, primary.dirCalls)
	assert.Equal(t, 0, secondary.dirCalls)
}

func TestResolve_ErrorsMatchWithErrorsAs(t *testing.T) {
	initCause := errors.New("no proofs")
	primary := &fakeSession{
		fakeProvider: fakeProvider{kind: ProviderWeb3},
		initErr:      initCause,
	}
	resolver := NewResolver(primary, nil, nil, Options{Production: true})

	_, err := resolver.Resolve(context.Background(), testUpload())

	var terminal *AllProvidersFailedError
	require.ErrorAs(t, err, &terminal)

	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.ErrorIs(t, initErr, initCause)
}
