package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/rs/zerolog/log"
)

// W3Config configures the primary w3up provider.
type W3Config struct {
	// Endpoint is the base URL of the w3up bridge API.
	Endpoint string
	// SpaceDID is the storage space uploads are targeted at. The provider
	// is considered unconfigured when this is empty.
	SpaceDID string
	// AgentKey authenticates the agent session.
	AgentKey string
	// GatewayHost is the public gateway serving stored content.
	GatewayHost string
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// W3Provider stores uploads in a w3up space. The session (agent identity plus
// selected space) is established lazily on first use and memoized for the
// life of the process; a failed initialization leaves no partial state and is
// retried from scratch on the next call.
type W3Provider struct {
	cfg   W3Config
	httpc *http.Client

	mu           sync.Mutex
	initialized  bool
	agentDID     string
	currentSpace string
}

// NewW3Provider creates the provider without touching the network; the
// session is established on the first EnsureReady call.
func NewW3Provider(cfg W3Config) *W3Provider {
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{}
	}
	return &W3Provider{cfg: cfg, httpc: httpc}
}

// Kind implements Provider.
func (p *W3Provider) Kind() ProviderKind { return ProviderWeb3 }

// IsReady reports whether the session is initialized with a current space
// set. It never triggers initialization.
func (p *W3Provider) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized && p.currentSpace != ""
}

// EnsureReady establishes the agent session and selects the configured
// space. It is a no-op once initialized. When the agent has no direct access
// to the space, a delegation is requested and the space is force-selected
// through it. Any failure is surfaced as an *InitError and leaves the
// provider uninitialized so the next call retries the whole sequence.
func (p *W3Provider) EnsureReady(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	var agent struct {
		DID string `json:"did"`
	}
	if err := p.doJSON(ctx, http.MethodPost, "/agent",
		map[string]string{"key": p.cfg.AgentKey}, &agent); err != nil {
		return &InitError{Cause: fmt.Errorf("agent session: %w", err)}
	}

	var spaces struct {
		Spaces []struct {
			DID  string `json:"did"`
			Name string `json:"name"`
		} `json:"spaces"`
	}
	if err := p.doJSON(ctx, http.MethodGet, "/space", nil, &spaces); err != nil {
		return &InitError{Cause: fmt.Errorf("listing spaces: %w", err)}
	}

	direct := false
	for _, space := range spaces.Spaces {
		if space.DID == p.cfg.SpaceDID {
			direct = true
			break
		}
	}

	if direct {
		if err := p.doJSON(ctx, http.MethodPost, "/space/use",
			map[string]interface{}{"space": p.cfg.SpaceDID}, nil); err != nil {
			return &InitError{Cause: fmt.Errorf("selecting space: %w", err)}
		}
	} else {
		log.Warn().
			Str("space", p.cfg.SpaceDID).
			Str("agent", agent.DID).
			Msg("space not directly accessible, requesting delegation")

		if err := p.doJSON(ctx, http.MethodPost, "/delegation",
			map[string]interface{}{"audience": agent.DID, "space": p.cfg.SpaceDID}, nil); err != nil {
			return &InitError{Cause: fmt.Errorf("requesting delegation: %w", err)}
		}
		if err := p.doJSON(ctx, http.MethodPost, "/space/use",
			map[string]interface{}{"space": p.cfg.SpaceDID, "force": true}, nil); err != nil {
			return &InitError{Cause: fmt.Errorf("selecting delegated space: %w", err)}
		}
	}

	p.agentDID = agent.DID
	p.currentSpace = p.cfg.SpaceDID
	p.initialized = true

	log.Info().
		Str("agent", p.agentDID).
		Str("space", p.currentSpace).
		Bool("delegated", !direct).
		Msg("w3up session ready")

	return nil
}

// Store uploads a single file into the current space.
func (p *W3Provider) Store(ctx context.Context, upload *UploadRequest) (*UploadResult, error) {
	if !p.IsReady() {
		return nil, &ProviderError{Provider: ProviderWeb3, Op: "store",
			Cause: fmt.Errorf("session not initialized")}
	}

	root, err := p.submit(ctx, []*UploadRequest{upload})
	if err != nil {
		return nil, &ProviderError{Provider: ProviderWeb3, Op: "store", Cause: err}
	}

	return &UploadResult{
		CID:      root,
		URL:      gatewayFileURL(root, p.cfg.GatewayHost, upload.Filename),
		Size:     int64(len(upload.Data)),
		Name:     upload.Filename,
		Type:     upload.ContentType,
		Provider: ProviderWeb3,
	}, nil
}

// StoreDirectory uploads a set of files as one directory.
func (p *W3Provider) StoreDirectory(ctx context.Context, uploads []*UploadRequest) (*DirectoryResult, error) {
	if !p.IsReady() {
		return nil, &ProviderError{Provider: ProviderWeb3, Op: "storeDirectory",
			Cause: fmt.Errorf("session not initialized")}
	}

	root, err := p.submit(ctx, uploads)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderWeb3, Op: "storeDirectory", Cause: err}
	}

	files := make([]string, len(uploads))
	for i, upload := range uploads {
		files[i] = upload.Filename
	}

	return &DirectoryResult{
		CID:      root,
		URL:      gatewayDirURL(root, p.cfg.GatewayHost),
		Files:    files,
		Provider: ProviderWeb3,
	}, nil
}

// submit sends the payload(s) as one multipart upload and returns the
// validated root CID.
func (p *W3Provider) submit(ctx context.Context, uploads []*UploadRequest) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("space", p.cfg.SpaceDID); err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	for _, upload := range uploads {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="file"; filename=%q`, upload.Filename))
		if upload.ContentType != "" {
			header.Set("Content-Type", upload.ContentType)
		}
		part, err := writer.CreatePart(header)
		if err != nil {
			return "", fmt.Errorf("building request: %w", err)
		}
		if _, err := part.Write(upload.Data); err != nil {
			return "", fmt.Errorf("building request: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint+"/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.cfg.AgentKey)

	resp, err := p.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("upload rejected: %s: %s", resp.Status, bytes.TrimSpace(snippet))
	}

	var result struct {
		CID string `json:"cid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}

	root, err := cid.Parse(result.CID)
	if err != nil {
		return "", fmt.Errorf("invalid root cid %q: %w", result.CID, err)
	}
	return root.String(), nil
}

// doJSON issues one JSON request against the bridge API. A nil out discards
// the response body.
func (p *W3Provider) doJSON(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.Endpoint+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.AgentKey)

	resp, err := p.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(snippet))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
