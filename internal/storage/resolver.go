package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skillport/skillport/pkg/config"
)

// Options tune resolver behavior.
type Options struct {
	// Production removes the local-disk fallback from the chain.
	Production bool
	// AttemptTimeout bounds each provider attempt; zero disables the bound.
	AttemptTimeout time.Duration
}

// Resolver is the single entry point for uploads. It walks the fixed
// provider chain (w3up, then remote IPFS, then local disk outside
// production), returns the first successful result, and aggregates the
// failures when the whole chain is exhausted. Each provider gets exactly one
// attempt per resolution; the only retry point is the primary provider's
// session setup, which re-runs from scratch on the next resolution after a
// failure.
type Resolver struct {
	primary   SessionProvider
	secondary Provider
	local     Provider
	opts      Options
}

// NewResolver wires an explicit provider chain. Any provider may be nil,
// meaning that slot is unconfigured.
func NewResolver(primary SessionProvider, secondary, local Provider, opts Options) *Resolver {
	return &Resolver{primary: primary, secondary: secondary, local: local, opts: opts}
}

// FromConfig builds the production chain from configuration: the primary
// slot is filled when a space DID is present, the secondary when a token is
// present, and the local fallback always (it is gated at resolve time by the
// production flag).
func FromConfig(cfg *config.StorageConfig, production bool) (*Resolver, error) {
	var primary SessionProvider
	if cfg.W3SpaceDID != "" {
		primary = NewW3Provider(W3Config{
			Endpoint:    cfg.W3Endpoint,
			SpaceDID:    cfg.W3SpaceDID,
			AgentKey:    cfg.W3AgentKey,
			GatewayHost: cfg.GatewayHost,
		})
	}

	var secondary Provider
	if cfg.IPFSToken != "" {
		provider, err := NewIPFSProvider(IPFSConfig{
			APIURL:      cfg.IPFSAPIURL,
			Token:       cfg.IPFSToken,
			GatewayHost: cfg.GatewayHost,
		})
		if err != nil {
			return nil, fmt.Errorf("configuring ipfs provider: %w", err)
		}
		secondary = provider
	}

	return NewResolver(primary, secondary, NewLocalProvider(cfg.LocalPath), Options{
		Production:     production,
		AttemptTimeout: cfg.AttemptTimeout,
	}), nil
}

// Resolve stores a single file via the first provider in the chain that
// succeeds. A terminal *AllProvidersFailedError is returned when every
// eligible provider fails or none are eligible.
func (r *Resolver) Resolve(ctx context.Context, upload *UploadRequest) (*UploadResult, error) {
	var causes []error

	if r.primary != nil {
		if err := r.readyPrimary(ctx); err != nil {
			causes = append(causes, err)
		}
		if r.primary.IsReady() {
			result, err := r.attempt(ctx, r.primary, upload)
			if err == nil {
				return result, nil
			}
			log.Error().Err(err).Str("provider", string(r.primary.Kind())).
				Str("file", upload.Filename).Msg("upload attempt failed, falling back")
			causes = append(causes, err)
		}
	}

	if r.secondary != nil {
		result, err := r.attempt(ctx, r.secondary, upload)
		if err == nil {
			return result, nil
		}
		log.Error().Err(err).Str("provider", string(r.secondary.Kind())).
			Str("file", upload.Filename).Msg("upload attempt failed, falling back")
		causes = append(causes, err)
	}

	if r.local != nil && !r.opts.Production {
		result, err := r.attempt(ctx, r.local, upload)
		if err == nil {
			return result, nil
		}
		log.Error().Err(err).Str("provider", string(r.local.Kind())).
			Str("file", upload.Filename).Msg("upload attempt failed")
		causes = append(causes, err)
	}

	return nil, &AllProvidersFailedError{Causes: causes}
}

// ResolveDirectory stores a set of files as one directory. The local
// fallback does not participate: directory semantics require a
// content-addressed backend.
func (r *Resolver) ResolveDirectory(ctx context.Context, uploads []*UploadRequest) (*DirectoryResult, error) {
	var causes []error

	if r.primary != nil {
		if err := r.readyPrimary(ctx); err != nil {
			causes = append(causes, err)
		}
		if r.primary.IsReady() {
			result, err := r.attemptDirectory(ctx, r.primary, uploads)
			if err == nil {
				return result, nil
			}
			log.Error().Err(err).Str("provider", string(r.primary.Kind())).
				Int("files", len(uploads)).Msg("directory upload failed, falling back")
			causes = append(causes, err)
		}
	}

	if r.secondary != nil {
		result, err := r.attemptDirectory(ctx, r.secondary, uploads)
		if err == nil {
			return result, nil
		}
		log.Error().Err(err).Str("provider", string(r.secondary.Kind())).
			Int("files", len(uploads)).Msg("directory upload failed")
		causes = append(causes, err)
	}

	return nil, &AllProvidersFailedError{Causes: causes}
}

// readyPrimary initializes the primary session when needed. An init failure
// is logged and reported to the caller as a cause, never as a terminal
// error: the chain advances regardless.
func (r *Resolver) readyPrimary(ctx context.Context) error {
	if r.primary.IsReady() {
		return nil
	}
	attemptCtx, cancel := r.attemptContext(ctx)
	defer cancel()
	if err := r.primary.EnsureReady(attemptCtx); err != nil {
		log.Error().Err(err).Msg("primary provider initialization failed, falling back")
		return err
	}
	return nil
}

func (r *Resolver) attempt(ctx context.Context, provider Provider, upload *UploadRequest) (*UploadResult, error) {
	attemptCtx, cancel := r.attemptContext(ctx)
	defer cancel()
	return provider.Store(attemptCtx, upload)
}

func (r *Resolver) attemptDirectory(ctx context.Context, provider Provider, uploads []*UploadRequest) (*DirectoryResult, error) {
	attemptCtx, cancel := r.attemptContext(ctx)
	defer cancel()
	return provider.StoreDirectory(attemptCtx, uploads)
}

func (r *Resolver) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.AttemptTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.opts.AttemptTimeout)
}
