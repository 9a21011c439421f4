package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skillport/skillport/pkg/utils"
)

// LocalProvider writes uploads to a local directory. It is the development
// fallback at the end of the chain: files are not content-addressed (the CID
// is a synthetic placeholder) and URLs are relative paths served by the HTTP
// layer.
type LocalProvider struct {
	dir string
}

// NewLocalProvider creates the provider. The directory is created lazily on
// first store so that production deployments never touch the disk.
func NewLocalProvider(dir string) *LocalProvider {
	return &LocalProvider{dir: dir}
}

// Kind implements Provider.
func (p *LocalProvider) Kind() ProviderKind { return ProviderLocal }

// Store writes the payload under a timestamp-prefixed name. The write is
// atomic (temp file plus rename) so a failed write leaves nothing behind.
func (p *LocalProvider) Store(ctx context.Context, upload *UploadRequest) (*UploadResult, error) {
	select {
	case <-ctx.Done():
		return nil, &ProviderError{Provider: ProviderLocal, Op: "store", Cause: ctx.Err()}
	default:
	}

	// MkdirAll is race-safe: concurrent resolutions may both attempt it.
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return nil, &ProviderError{Provider: ProviderLocal, Op: "store",
			Cause: fmt.Errorf("creating uploads directory: %w", err)}
	}

	millis := time.Now().UnixMilli()
	name := fmt.Sprintf("%d-%s", millis, utils.SanitizeFilename(upload.Filename))
	fullPath := filepath.Join(p.dir, name)

	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, upload.Data, 0644); err != nil {
		os.Remove(tempPath)
		return nil, &ProviderError{Provider: ProviderLocal, Op: "store",
			Cause: fmt.Errorf("writing file: %w", err)}
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		return nil, &ProviderError{Provider: ProviderLocal, Op: "store",
			Cause: fmt.Errorf("finalizing file: %w", err)}
	}

	log.Info().
		Str("file", name).
		Int("size", len(upload.Data)).
		Str("content_type", upload.ContentType).
		Msg("upload stored on local disk")

	return &UploadResult{
		CID:      fmt.Sprintf("local-%d", millis),
		URL:      "/uploads/" + name,
		Size:     int64(len(upload.Data)),
		Name:     upload.Filename,
		Type:     upload.ContentType,
		Provider: ProviderLocal,
	}, nil
}

// StoreDirectory is not supported on local disk.
func (p *LocalProvider) StoreDirectory(ctx context.Context, uploads []*UploadRequest) (*DirectoryResult, error) {
	return nil, &ProviderError{Provider: ProviderLocal, Op: "storeDirectory",
		Cause: ErrDirectoryUnsupported}
}
