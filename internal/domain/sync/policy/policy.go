package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vadim/kidsight/internal/domain/sync/entity"
	"github.com/vadim/kidsight/internal/domain/sync/service"
)

// IdentityVerifier checks a bearer token against the identity service and
// returns the authenticated principal's id. Implementations return
// entity.ErrUnauthorized for tokens the identity service rejects.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// OwnershipStore answers whether a principal is the registered parent of a
// child.
type OwnershipStore interface {
	Owns(ctx context.Context, childID, principalID string) (bool, error)
}

// CredentialStore resolves the provider credential pair for a child
type CredentialStore interface {
	GetAuthorized(ctx context.Context, childID string) (*entity.Credential, error)
}

// Synchronizer runs one import pass for an already-authorized child
type Synchronizer interface {
	Sync(ctx context.Context, in service.SyncInput) (*entity.RunSummary, error)
	ListConversations(ctx context.Context, childID string, limit, offset int) (*service.ConversationsPage, error)
	ListMessages(ctx context.Context, conversationID, childID string, limit, offset int) (*service.MessagesPage, error)
}

// FallbackCredential is a deployment-wide provider credential pair used when
// a child has no per-child credential row. Empty values disable the fallback.
type FallbackCredential struct {
	InstanceID string
	Token      string
}

// Policy gates every operation behind identity verification and parent-child
// ownership before any provider traffic or storage read happens.
type Policy struct {
	identity    IdentityVerifier
	ownership   OwnershipStore
	credentials CredentialStore
	sync        Synchronizer
	fallback    FallbackCredential
	logger      *slog.Logger
}

// New creates the authorization policy wrapping the synchronizer
func New(
	identity IdentityVerifier,
	ownership OwnershipStore,
	credentials CredentialStore,
	sync Synchronizer,
	fallback FallbackCredential,
	logger *slog.Logger,
) *Policy {
	return &Policy{
		identity:    identity,
		ownership:   ownership,
		credentials: credentials,
		sync:        sync,
		fallback:    fallback,
		logger:      logger,
	}
}

// authorize verifies the caller's token and their ownership of the child.
// The ordering matters: an invalid token must never learn whether a child id
// exists.
func (p *Policy) authorize(ctx context.Context, token, childID string) error {
	principalID, err := p.identity.Verify(ctx, token)
	if err != nil {
		return err
	}

	owns, err := p.ownership.Owns(ctx, childID, principalID)
	if err != nil {
		return fmt.Errorf("checking ownership: %w", err)
	}
	if !owns {
		return entity.ErrForbidden
	}

	return nil
}

// resolveCredential finds the provider credential pair for a child: the
// newest authorized per-child row, or the deployment fallback when none
// exists.
func (p *Policy) resolveCredential(ctx context.Context, childID string) (instanceID, token string, err error) {
	cred, err := p.credentials.GetAuthorized(ctx, childID)
	if err != nil {
		return "", "", fmt.Errorf("resolving credential: %w", err)
	}
	if cred != nil {
		return cred.InstanceID, cred.Token, nil
	}

	if p.fallback.InstanceID != "" && p.fallback.Token != "" {
		p.logger.Debug("using fallback provider credential", "child_id", childID)
		return p.fallback.InstanceID, p.fallback.Token, nil
	}

	return "", "", entity.ErrNoCredentials
}

// Sync authorizes the caller, resolves the child's provider credential, and
// runs one import pass.
func (p *Policy) Sync(ctx context.Context, token, childID string) (*entity.RunSummary, error) {
	if err := p.authorize(ctx, token, childID); err != nil {
		return nil, err
	}

	instanceID, provToken, err := p.resolveCredential(ctx, childID)
	if err != nil {
		return nil, err
	}

	return p.sync.Sync(ctx, service.SyncInput{
		ChildID:    childID,
		InstanceID: instanceID,
		Token:      provToken,
	})
}

// SyncChild runs one import pass without an identity gate. The scheduler
// calls this; it holds no bearer token and acts for the deployment itself.
func (p *Policy) SyncChild(ctx context.Context, childID string) (*entity.RunSummary, error) {
	instanceID, provToken, err := p.resolveCredential(ctx, childID)
	if err != nil {
		return nil, err
	}

	return p.sync.Sync(ctx, service.SyncInput{
		ChildID:    childID,
		InstanceID: instanceID,
		Token:      provToken,
	})
}

// ListConversations returns a page of the child's stored conversations after
// authorization.
func (p *Policy) ListConversations(ctx context.Context, token, childID string, limit, offset int) (*service.ConversationsPage, error) {
	if err := p.authorize(ctx, token, childID); err != nil {
		return nil, err
	}
	return p.sync.ListConversations(ctx, childID, limit, offset)
}

// ListMessages returns a page of a conversation's stored messages after
// authorization.
func (p *Policy) ListMessages(ctx context.Context, token, childID, conversationID string, limit, offset int) (*service.MessagesPage, error) {
	if err := p.authorize(ctx, token, childID); err != nil {
		return nil, err
	}
	return p.sync.ListMessages(ctx, conversationID, childID, limit, offset)
}
