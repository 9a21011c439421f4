// Package storage implements the content-addressed upload pipeline: a fixed
// chain of storage providers (w3up, remote IPFS node, local disk) behind a
// uniform contract, orchestrated by a Resolver that tries them strictly in
// order and returns the first successful result.
package storage

import (
	"context"
	"fmt"
	"net/url"
)

// ProviderKind identifies one storage backend in the fallback chain.
type ProviderKind string

const (
	ProviderWeb3  ProviderKind = "web3"
	ProviderIPFS  ProviderKind = "ipfs"
	ProviderLocal ProviderKind = "local"
)

// UploadRequest is one in-memory file payload to be stored. It is not
// retained by any provider after the call returns.
type UploadRequest struct {
	Data        []byte
	Filename    string
	ContentType string
}

// UploadResult describes a durably stored, publicly fetchable artifact.
type UploadResult struct {
	CID      string       `json:"cid"`
	URL      string       `json:"url"`
	Size     int64        `json:"size"`
	Name     string       `json:"name"`
	Type     string       `json:"type"`
	Provider ProviderKind `json:"provider"`
}

// DirectoryResult describes a stored directory of files addressed by a
// single root CID.
type DirectoryResult struct {
	CID      string       `json:"cid"`
	URL      string       `json:"url"`
	Files    []string     `json:"files"`
	Provider ProviderKind `json:"provider"`
}

// Provider performs one upload against one backend and normalizes its
// response. Implementations must not leak backend-specific error types:
// every failure is wrapped in a *ProviderError.
type Provider interface {
	Kind() ProviderKind

	// Store uploads a single file and returns its content-addressed result.
	Store(ctx context.Context, upload *UploadRequest) (*UploadResult, error)

	// StoreDirectory uploads a set of files as one directory and returns the
	// directory root. Not supported by the local fallback.
	StoreDirectory(ctx context.Context, uploads []*UploadRequest) (*DirectoryResult, error)
}

// SessionProvider is a Provider with an explicit initialization lifecycle.
// EnsureReady is idempotent after a success and retries from scratch after a
// failure; IsReady never triggers initialization.
type SessionProvider interface {
	Provider

	EnsureReady(ctx context.Context) error
	IsReady() bool
}

// gatewayFileURL builds the public gateway URL for a single file,
// https://<cid>.<gateway-host>/<escaped filename>.
func gatewayFileURL(cid, gatewayHost, filename string) string {
	return fmt.Sprintf("https://%s.%s/%s", cid, gatewayHost, url.PathEscape(filename))
}

// gatewayDirURL builds the public gateway URL for a directory root.
func gatewayDirURL(cid, gatewayHost string) string {
	return fmt.Sprintf("https://%s.%s/", cid, gatewayHost)
}
