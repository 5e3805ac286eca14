package policy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/vadim/kidsight/internal/domain/sync/entity"
	"github.com/vadim/kidsight/internal/domain/sync/service"
)

type fakeIdentity struct {
	principals map[string]string // token -> principal id
	calls      int
}

func (f *fakeIdentity) Verify(_ context.Context, token string) (string, error) {
	f.calls++
	if id, ok := f.principals[token]; ok {
		return id, nil
	}
	return "", entity.ErrUnauthorized
}

type fakeOwnership struct {
	owners map[string]string // childID -> principal id
}

func (f *fakeOwnership) Owns(_ context.Context, childID, principalID string) (bool, error) {
	return f.owners[childID] == principalID, nil
}

type fakeCredentials struct {
	creds map[string]*entity.Credential
}

func (f *fakeCredentials) GetAuthorized(_ context.Context, childID string) (*entity.Credential, error) {
	return f.creds[childID], nil
}

type fakeSync struct {
	calls   int
	lastIn  service.SyncInput
	summary *entity.RunSummary
	err     error
}

func (f *fakeSync) Sync(_ context.Context, in service.SyncInput) (*entity.RunSummary, error) {
	f.calls++
	f.lastIn = in
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}

func (f *fakeSync) ListConversations(_ context.Context, childID string, limit, offset int) (*service.ConversationsPage, error) {
	return &service.ConversationsPage{}, nil
}

func (f *fakeSync) ListMessages(_ context.Context, conversationID, childID string, limit, offset int) (*service.MessagesPage, error) {
	return &service.MessagesPage{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPolicy(fb FallbackCredential) (*Policy, *fakeIdentity, *fakeSync) {
	identity := &fakeIdentity{principals: map[string]string{"good-token": "parent-1"}}
	ownership := &fakeOwnership{owners: map[string]string{"child-1": "parent-1"}}
	creds := &fakeCredentials{creds: map[string]*entity.Credential{
		"child-1": {ID: "cred-1", ChildID: "child-1", InstanceID: "inst-1", Token: "prov-tok", Status: entity.CredentialStatusAuthorized},
	}}
	sync := &fakeSync{summary: &entity.RunSummary{ConversationsProcessed: 1}}
	return New(identity, ownership, creds, sync, fb, testLogger()), identity, sync
}

func TestSyncAuthorizedParent(t *testing.T) {
	p, _, sync := newTestPolicy(FallbackCredential{})

	summary, err := p.Sync(context.Background(), "good-token", "child-1")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if summary.ConversationsProcessed != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if sync.lastIn.InstanceID != "inst-1" || sync.lastIn.Token != "prov-tok" {
		t.Errorf("credential not passed through: %+v", sync.lastIn)
	}
}

func TestSyncRejectsInvalidToken(t *testing.T) {
	p, _, sync := newTestPolicy(FallbackCredential{})

	_, err := p.Sync(context.Background(), "bad-token", "child-1")
	if !errors.Is(err, entity.ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	if sync.calls != 0 {
		t.Error("synchronizer ran for an unauthenticated caller")
	}
}

func TestSyncRejectsNonOwner(t *testing.T) {
	p, identity, sync := newTestPolicy(FallbackCredential{})
	identity.principals["other-token"] = "parent-2"

	_, err := p.Sync(context.Background(), "other-token", "child-1")
	if !errors.Is(err, entity.ErrForbidden) {
		t.Fatalf("error = %v, want ErrForbidden", err)
	}
	if sync.calls != 0 {
		t.Error("synchronizer ran for a non-owner")
	}
}

func TestSyncUsesFallbackCredential(t *testing.T) {
	p, _, sync := newTestPolicy(FallbackCredential{InstanceID: "shared-inst", Token: "shared-tok"})
	// Child without a per-child credential row, owned by the caller.
	p.ownership.(*fakeOwnership).owners["child-2"] = "parent-1"

	_, err := p.Sync(context.Background(), "good-token", "child-2")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if sync.lastIn.InstanceID != "shared-inst" || sync.lastIn.Token != "shared-tok" {
		t.Errorf("fallback not used: %+v", sync.lastIn)
	}
}

func TestSyncFailsWithoutAnyCredential(t *testing.T) {
	p, _, sync := newTestPolicy(FallbackCredential{})
	p.ownership.(*fakeOwnership).owners["child-2"] = "parent-1"

	_, err := p.Sync(context.Background(), "good-token", "child-2")
	if !errors.Is(err, entity.ErrNoCredentials) {
		t.Fatalf("error = %v, want ErrNoCredentials", err)
	}
	if sync.calls != 0 {
		t.Error("synchronizer ran without a credential")
	}
}

func TestSyncChildSkipsIdentityGate(t *testing.T) {
	p, identity, sync := newTestPolicy(FallbackCredential{})

	_, err := p.SyncChild(context.Background(), "child-1")
	if err != nil {
		t.Fatalf("SyncChild() error = %v", err)
	}
	if identity.calls != 0 {
		t.Error("scheduler path verified a token")
	}
	if sync.calls != 1 {
		t.Error("synchronizer did not run")
	}
}

func TestListConversationsRequiresAuthorization(t *testing.T) {
	p, _, _ := newTestPolicy(FallbackCredential{})

	if _, err := p.ListConversations(context.Background(), "bad-token", "child-1", 10, 0); !errors.Is(err, entity.ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
	if _, err := p.ListConversations(context.Background(), "good-token", "child-1", 10, 0); err != nil {
		t.Errorf("authorized list failed: %v", err)
	}
}
