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

	"github.com/ipfs/go-cid"
	"github.com/ipfs/kubo/client/rpc"
	"github.com/rs/zerolog/log"
)

// IPFSConfig configures the secondary provider, a remote IPFS (kubo) node
// reached over its HTTP API.
type IPFSConfig struct {
	APIURL      string
	Token       string
	GatewayHost string
	HTTPClient  *http.Client
}

// IPFSProvider pins uploads on a remote IPFS node. It keeps no session
// state: every call is independent.
type IPFSProvider struct {
	api         *rpc.HttpApi
	gatewayHost string
}

// NewIPFSProvider connects the kubo HTTP API client. No network traffic
// happens until the first store call.
func NewIPFSProvider(cfg IPFSConfig) (*IPFSProvider, error) {
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{}
	}
	api, err := rpc.NewURLApiWithClient(cfg.APIURL, httpc)
	if err != nil {
		return nil, fmt.Errorf("creating ipfs api client: %w", err)
	}
	if cfg.Token != "" {
		api.Headers.Set("Authorization", "Bearer "+cfg.Token)
	}
	return &IPFSProvider{api: api, gatewayHost: cfg.GatewayHost}, nil
}

// Kind implements Provider.
func (p *IPFSProvider) Kind() ProviderKind { return ProviderIPFS }

// addEntry is one line of the node's streamed add response.
type addEntry struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Store adds and pins a single file without wrapping it in a directory.
func (p *IPFSProvider) Store(ctx context.Context, upload *UploadRequest) (*UploadResult, error) {
	entries, err := p.add(ctx, []*UploadRequest{upload}, false)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderIPFS, Op: "store", Cause: err}
	}
	if len(entries) == 0 {
		return nil, &ProviderError{Provider: ProviderIPFS, Op: "store",
			Cause: fmt.Errorf("node returned no add result")}
	}

	root, err := cid.Parse(entries[len(entries)-1].Hash)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderIPFS, Op: "store",
			Cause: fmt.Errorf("invalid cid %q: %w", entries[len(entries)-1].Hash, err)}
	}

	return &UploadResult{
		CID:      root.String(),
		URL:      gatewayFileURL(root.String(), p.gatewayHost, upload.Filename),
		Size:     int64(len(upload.Data)),
		Name:     upload.Filename,
		Type:     upload.ContentType,
		Provider: ProviderIPFS,
	}, nil
}

// StoreDirectory adds all files wrapped in a directory; the wrapping entry
// (the one without a name) carries the directory root CID.
func (p *IPFSProvider) StoreDirectory(ctx context.Context, uploads []*UploadRequest) (*DirectoryResult, error) {
	entries, err := p.add(ctx, uploads, true)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderIPFS, Op: "storeDirectory", Cause: err}
	}

	var rootHash string
	files := make([]string, 0, len(uploads))
	for _, entry := range entries {
		if entry.Name == "" {
			rootHash = entry.Hash
			continue
		}
		files = append(files, entry.Name)
	}
	if rootHash == "" && len(entries) > 0 {
		// Some node versions name the wrapping entry after the last path
		// segment; fall back to the final entry.
		rootHash = entries[len(entries)-1].Hash
	}

	root, err := cid.Parse(rootHash)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderIPFS, Op: "storeDirectory",
			Cause: fmt.Errorf("invalid directory cid %q: %w", rootHash, err)}
	}

	return &DirectoryResult{
		CID:      root.String(),
		URL:      gatewayDirURL(root.String(), p.gatewayHost),
		Files:    files,
		Provider: ProviderIPFS,
	}, nil
}

// add issues the node's add command with a multipart body of all payloads.
func (p *IPFSProvider) add(ctx context.Context, uploads []*UploadRequest, wrap bool) ([]addEntry, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, upload := range uploads {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="file"; filename=%q`, upload.Filename))
		header.Set("Content-Type", "application/octet-stream")
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("building add request: %w", err)
		}
		if _, err := part.Write(upload.Data); err != nil {
			return nil, fmt.Errorf("building add request: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("building add request: %w", err)
	}

	req := p.api.Request("add").
		Option("pin", true).
		Option("wrap-with-directory", wrap).
		Option("cid-version", 1).
		Header("Content-Type", writer.FormDataContentType()).
		Body(&body)

	resp, err := req.Send(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := resp.Close(); cerr != nil {
			log.Debug().Err(cerr).Msg("closing ipfs add response")
		}
	}()
	if resp.Error != nil {
		return nil, resp.Error
	}

	var entries []addEntry
	decoder := json.NewDecoder(resp.Output)
	for {
		var entry addEntry
		if err := decoder.Decode(&entry); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("decoding add response: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
