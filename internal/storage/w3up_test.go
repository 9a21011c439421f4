package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSpaceDID = "did:key:z6MkSpaceXYZ"
	testRootCID  = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
)

// bridgeServer is a fake w3up bridge API.
type bridgeServer struct {
	mu              sync.Mutex
	agentCalls      int
	delegationCalls int
	uploadCalls     int
	spaceUseBodies  []map[string]interface{}

	directSpaces []string
	failAgent    bool
	failUpload   bool
}

func (b *bridgeServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/agent", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.agentCalls++
		if b.failAgent {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"did": "did:key:z6MkAgentABC"})
	})

	mux.HandleFunc("/space", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		spaces := make([]map[string]string, 0, len(b.directSpaces))
		for _, did := range b.directSpaces {
			spaces = append(spaces, map[string]string{"did": did, "name": "space"})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"spaces": spaces})
	})

	mux.HandleFunc("/space/use", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		b.spaceUseBodies = append(b.spaceUseBodies, body)
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/delegation", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.delegationCalls++
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.uploadCalls++
		if b.failUpload {
			http.Error(w, "backend rejected", http.StatusBadGateway)
			return
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"cid": testRootCID})
	})

	return mux
}

func newBridgeProvider(t *testing.T, bridge *bridgeServer) *W3Provider {
	t.Helper()
	server := httptest.NewServer(bridge.handler())
	t.Cleanup(server.Close)

	return NewW3Provider(W3Config{
		Endpoint:    server.URL,
		SpaceDID:    testSpaceDID,
		AgentKey:    "test-agent-key",
		GatewayHost: "ipfs.w3s.link",
		HTTPClient:  server.Client(),
	})
}

func TestW3Provider_EnsureReadyDirectAccess(t *testing.T) {
	bridge := &bridgeServer{directSpaces: []string{testSpaceDID}}
	provider := newBridgeProvider(t, bridge)

	assert.False(t, provider.IsReady())

	err := provider.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.True(t, provider.IsReady())

	// Direct access: no delegation requested, plain space selection.
	assert.Equal(t, 0, bridge.delegationCalls)
	require.Len(t, bridge.spaceUseBodies, 1)
	_, forced := bridge.spaceUseBodies[0]["force"]
	assert.False(t, forced)
}

func TestW3Provider_EnsureReadyDelegationFallback(t *testing.T) {
	bridge := &bridgeServer{directSpaces: []string{"did:key:z6MkOtherSpace"}}
	provider := newBridgeProvider(t, bridge)

	err := provider.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.True(t, provider.IsReady())

	assert.Equal(t, 1, bridge.delegationCalls)
	require.Len(t, bridge.spaceUseBodies, 1)
	assert.Equal(t, true, bridge.spaceUseBodies[0]["force"])
	assert.Equal(t, testSpaceDID, bridge.spaceUseBodies[0]["space"])
}

func TestW3Provider_EnsureReadyIdempotent(t *testing.T) {
	bridge := &bridgeServer{directSpaces: []string{testSpaceDID}}
	provider := newBridgeProvider(t, bridge)

	require.NoError(t, provider.EnsureReady(context.Background()))
	require.NoError(t, provider.EnsureReady(context.Background()))

	// No second session-creation call after a successful initialization.
	assert.Equal(t, 1, bridge.agentCalls)
}

func TestW3Provider_EnsureReadyFailureThenRetry(t *testing.T) {
	bridge := &bridgeServer{directSpaces: []string{testSpaceDID}, failAgent: true}
	provider := newBridgeProvider(t, bridge)

	err := provider.EnsureReady(context.Background())
	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.False(t, provider.IsReady())

	// A failed attempt caches nothing: the next call reruns setup.
	bridge.mu.Lock()
	bridge.failAgent = false
	bridge.mu.Unlock()

	require.NoError(t, provider.EnsureReady(context.Background()))
	assert.True(t, provider.IsReady())
	assert.Equal(t, 2, bridge.agentCalls)
}

func TestW3Provider_ConcurrentEnsureReady(t *testing.T) {
	bridge := &bridgeServer{directSpaces: []string{testSpaceDID}}
	provider := newBridgeProvider(t, bridge)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, provider.EnsureReady(context.Background()))
		}()
	}
	wg.Wait()

	// Races to initialize collapse into a single consistent session.
	assert.True(t, provider.IsReady())
	assert.Equal(t, 1, bridge.agentCalls)
}

func TestW3Provider_Store(t *testing.T) {
	bridge := &bridgeServer{directSpaces: []string{testSpaceDID}}
	provider := newBridgeProvider(t, bridge)
	require.NoError(t, provider.EnsureReady(context.Background()))

	result, err := provider.Store(context.Background(), &UploadRequest{
		Data:        []byte("hello"),
		Filename:    "my video.mp4",
		ContentType: "video/mp4",
	})
	require.NoError(t, err)

	assert.Equal(t, testRootCID, result.CID)
	assert.Equal(t, int64(5), result.Size)
	assert.Equal(t, ProviderWeb3, result.Provider)
	assert.Equal(t,
		fmt.Sprintf("https://%s.ipfs.w3s.link/my%%20video.mp4", testRootCID),
		result.URL)
}

func TestW3Provider_StoreRequiresSession(t *testing.T) {
	bridge := &bridgeServer{directSpaces: []string{testSpaceDID}}
	provider := newBridgeProvider(t, bridge)

	_, err := provider.Store(context.Background(), &UploadRequest{Data: []byte("x"), Filename: "f"})

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, ProviderWeb3, providerErr.Provider)
	assert.Equal(t, 0, bridge.uploadCalls)
}

func TestW3Provider_StoreBackendRejection(t *testing.T) {
	bridge := &bridgeServer{directSpaces: []string{testSpaceDID}, failUpload: true}
	provider := newBridgeProvider(t, bridge)
	require.NoError(t, provider.EnsureReady(context.Background()))

	_, err := provider.Store(context.Background(), &UploadRequest{Data: []byte("x"), Filename: "f"})

	// Backend failures never leak raw: they arrive as a ProviderError.
	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Contains(t, providerErr.Error(), "backend rejected")
}

func TestW3Provider_StoreDirectory(t *testing.T) {
	bridge := &bridgeServer{directSpaces: []string{testSpaceDID}}
	provider := newBridgeProvider(t, bridge)
	require.NoError(t, provider.EnsureReady(context.Background()))

	result, err := provider.StoreDirectory(context.Background(), []*UploadRequest{
		{Data: []byte("a"), Filename: "a.txt", ContentType: "text/plain"},
		{Data: []byte("b"), Filename: "b.txt", ContentType: "text/plain"},
	})
	require.NoError(t, err)

	assert.Equal(t, testRootCID, result.CID)
	assert.Equal(t, []string{"a.txt", "b.txt"}, result.Files)
	assert.Equal(t, fmt.Sprintf("https://%s.ipfs.w3s.link/", testRootCID), result.URL)
}
