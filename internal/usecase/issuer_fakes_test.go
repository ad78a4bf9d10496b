package usecase

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arklim/inventory-auth/internal/core/domain"
	"github.com/arklim/inventory-auth/internal/infra/security"
	"github.com/arklim/inventory-auth/internal/repository"
)

var (
	issuerKeyOnce sync.Once
	issuerKey     *rsa.PrivateKey
	issuerKeyErr  error
)

func newIssuerTokenManager(t *testing.T) *security.TokenManager {
	t.Helper()
	issuerKeyOnce.Do(func() {
		issuerKey, issuerKeyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if issuerKeyErr != nil {
		t.Fatalf("generate rsa key: %v", issuerKeyErr)
	}
	return security.NewTokenManager(security.NewStaticKeyProvider("test-key", issuerKey), "inventory-auth", "inventory-admin")
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{now: start}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// plainHasher stores secrets with a fixed prefix so tests avoid argon2 cost.
type plainHasher struct {
	verifications atomic.Int32
}

func (h *plainHasher) Hash(secret string) (string, error) {
	return "plain:" + secret, nil
}

func (h *plainHasher) Verify(secret, encoded string) (bool, error) {
	h.verifications.Add(1)
	return encoded == "plain:"+secret, nil
}

type memoryPrincipals struct {
	mu         sync.Mutex
	principals map[string]domain.Principal
	touched    map[string]time.Time
}

func newMemoryPrincipals(principals ...domain.Principal) *memoryPrincipals {
	store := &memoryPrincipals{
		principals: make(map[string]domain.Principal),
		touched:    make(map[string]time.Time),
	}
	for _, p := range principals {
		store.principals[p.ID] = p
	}
	return store
}

func (m *memoryPrincipals) GetByID(_ context.Context, id string) (*domain.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (m *memoryPrincipals) GetByIdentifier(_ context.Context, identifier string) (*domain.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.principals {
		if p.Username == identifier || strings.EqualFold(p.Email, identifier) {
			found := p
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryPrincipals) TouchLastAuthenticated(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.principals[id]; !ok {
		return repository.ErrNotFound
	}
	m.touched[id] = at
	return nil
}

func (m *memoryPrincipals) Upsert(_ context.Context, principal domain.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.principals[principal.ID] = principal
	return nil
}

func (m *memoryPrincipals) setStatus(id string, status domain.PrincipalStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.principals[id]
	p.Status = status
	m.principals[id] = p
}

// memoryCredentials mirrors the row-lock semantics of the postgres repository under a single mutex.
type memoryCredentials struct {
	mu          sync.Mutex
	credentials map[string]*domain.RefreshCredential
	byHash      map[string]string

	// duplicateFailures makes the next N inserts fail with ErrDuplicateSecret.
	duplicateFailures int
}

func newMemoryCredentials() *memoryCredentials {
	return &memoryCredentials{
		credentials: make(map[string]*domain.RefreshCredential),
		byHash:      make(map[string]string),
	}
}

func (m *memoryCredentials) insertLocked(credential domain.RefreshCredential) error {
	if m.duplicateFailures > 0 {
		m.duplicateFailures--
		return repository.ErrDuplicateSecret
	}
	if _, exists := m.byHash[credential.SecretHash]; exists {
		return repository.ErrDuplicateSecret
	}
	stored := credential
	m.credentials[credential.ID] = &stored
	m.byHash[credential.SecretHash] = credential.ID
	return nil
}

func (m *memoryCredentials) Create(_ context.Context, credential domain.RefreshCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(credential)
}

func (m *memoryCredentials) FindBySecret(_ context.Context, secretHash string) (*domain.RefreshCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byHash[secretHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneCredential(m.credentials[id]), nil
}

func (m *memoryCredentials) Revoke(_ context.Context, id string, at time.Time, address string, replacedBy *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	credential, ok := m.credentials[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	successor := ""
	if replacedBy != nil {
		successor = *replacedBy
	}
	return credential.Revoke(at, address, successor), nil
}

func (m *memoryCredentials) Rotate(_ context.Context, oldID string, successor domain.RefreshCredential, at time.Time, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.credentials[oldID]
	if !ok {
		return repository.ErrNotFound
	}
	if current.IsRevoked() {
		return repository.ErrAlreadyRevoked
	}
	if err := m.insertLocked(successor); err != nil {
		return err
	}
	current.Revoke(at, address, successor.ID)
	return nil
}

func (m *memoryCredentials) RevokeAllForOwner(_ context.Context, ownerID string, at time.Time, address string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, credential := range m.credentials {
		if credential.OwnerID == ownerID && credential.Revoke(at, address, "") {
			count++
		}
	}
	return count, nil
}

func (m *memoryCredentials) ListActiveByOwner(_ context.Context, ownerID string, at time.Time) ([]domain.RefreshCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active []domain.RefreshCredential
	for _, credential := range m.credentials {
		if credential.OwnerID == ownerID && credential.IsActive(at) {
			active = append(active, *cloneCredential(credential))
		}
	}
	return active, nil
}

func (m *memoryCredentials) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.credentials)
}

func cloneCredential(credential *domain.RefreshCredential) *domain.RefreshCredential {
	if credential == nil {
		return nil
	}
	clone := *credential
	if credential.Revocation != nil {
		revocation := *credential.Revocation
		clone.Revocation = &revocation
	}
	return &clone
}

type recordingPublisher struct {
	mu       sync.Mutex
	issued   []domain.CredentialIssuedEvent
	rotated  []domain.CredentialRotatedEvent
	revoked  []domain.CredentialRevokedEvent
	reuse    []domain.CredentialReuseDetectedEvent
	failWith error
}

func (p *recordingPublisher) PublishCredentialIssued(_ context.Context, event domain.CredentialIssuedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issued = append(p.issued, event)
	return p.failWith
}

func (p *recordingPublisher) PublishCredentialRotated(_ context.Context, event domain.CredentialRotatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotated = append(p.rotated, event)
	return p.failWith
}

func (p *recordingPublisher) PublishCredentialRevoked(_ context.Context, event domain.CredentialRevokedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked = append(p.revoked, event)
	return p.failWith
}

func (p *recordingPublisher) PublishCredentialReuseDetected(_ context.Context, event domain.CredentialReuseDetectedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reuse = append(p.reuse, event)
	return p.failWith
}
