// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package credentials implements the Credential Store (§4.D): AES-256-GCM
// encryption at rest, scoped resolution ((orgId, workflowId, name) winning
// over (orgId, name, workflowId=null)), soft revocation, and an append-only
// audit trail, layered over pkg/repo.KeyRepo (which already implements the
// scoped resolution order at the storage layer).
package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/repo"
)

const algorithm = "AES-256-GCM"

// Store is the credential store.
type Store struct {
	keys      repo.KeyRepo
	encryptor *aesEncryptor
	now       func() time.Time
}

// New builds a Store using masterKey (32 bytes) for AES-256-GCM. Callers
// typically obtain masterKey via KeyProvider.GetOrCreateMasterKey.
func New(keys repo.KeyRepo, masterKey []byte) (*Store, error) {
	enc, err := newAESEncryptor(masterKey)
	if err != nil {
		return nil, err
	}
	return &Store{keys: keys, encryptor: enc, now: time.Now}, nil
}

// SaveRequest describes a credential to create or rotate.
type SaveRequest struct {
	OrgID       string
	WorkflowID  string
	Name        string
	Provider    string
	KeyType     string
	Value       string
	StorageMode model.StorageMode
	ExpiresAt   *time.Time
	PerformedBy string
	IPAddress   string
	UserAgent   string
}

// Save encrypts value and stores a new Key row, appending a "created" audit
// entry. WorkflowID may be empty for an org-wide credential.
func (s *Store) Save(ctx context.Context, req SaveRequest) (*model.Key, error) {
	ciphertext, iv, err := s.encryptor.encrypt(req.Value)
	if err != nil {
		return nil, fmt.Errorf("encrypt credential: %w", err)
	}

	k := &model.Key{
		ID:             uuid.NewString(),
		OrgID:          req.OrgID,
		WorkflowID:     req.WorkflowID,
		Name:           req.Name,
		Provider:       req.Provider,
		KeyType:        req.KeyType,
		EncryptedValue: ciphertext,
		IV:             iv,
		Algorithm:      algorithm,
		StorageMode:    req.StorageMode,
		ExpiresAt:      req.ExpiresAt,
	}
	if err := s.keys.Save(ctx, k); err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}
	s.audit(ctx, k.ID, model.AuditCreated, req.PerformedBy, req.IPAddress, req.UserAgent, nil)
	return k, nil
}

// Rotate re-encrypts an existing key in place with a new value, appending a
// "rotated" audit entry.
func (s *Store) Rotate(ctx context.Context, keyID, newValue, performedBy, ipAddress, userAgent string) (*model.Key, error) {
	k, err := s.keys.Get(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("rotate credential: %w", err)
	}
	ciphertext, iv, err := s.encryptor.encrypt(newValue)
	if err != nil {
		return nil, fmt.Errorf("encrypt rotated credential: %w", err)
	}
	k.EncryptedValue = ciphertext
	k.IV = iv
	now := s.now()
	k.LastRotatedAt = &now
	if err := s.keys.Save(ctx, k); err != nil {
		return nil, fmt.Errorf("save rotated credential: %w", err)
	}
	s.audit(ctx, k.ID, model.AuditRotated, performedBy, ipAddress, userAgent, nil)
	return k, nil
}

// Resolve looks up and decrypts the credential named name, scoped first to
// (orgID, workflowID) and falling back to the org-wide credential, per
// §4.D. It records an "accessed" audit entry and updates lastUsedAt.
func (s *Store) Resolve(ctx context.Context, orgID, workflowID, name string) (plaintext string, key *model.Key, err error) {
	k, err := s.keys.Resolve(ctx, orgID, workflowID, name)
	if err != nil {
		return "", nil, fmt.Errorf("resolve credential %q: %w", name, err)
	}
	if k.ExpiresAt != nil && k.ExpiresAt.Before(s.now()) {
		return "", nil, fmt.Errorf("credential %q expired at %s", name, k.ExpiresAt)
	}

	plaintext, err = s.encryptor.decrypt(k.EncryptedValue, k.IV)
	if err != nil {
		return "", nil, fmt.Errorf("decrypt credential %q: %w", name, err)
	}

	now := s.now()
	k.LastUsedAt = &now
	_ = s.keys.Save(ctx, k)
	s.audit(ctx, k.ID, model.AuditAccessed, "", "", "", map[string]any{"workflowId": workflowID})

	return plaintext, k, nil
}

// Revoke soft-revokes a credential; revoked credentials never resolve
// again. Appends a "revoked" audit entry.
func (s *Store) Revoke(ctx context.Context, keyID, performedBy, ipAddress, userAgent string) error {
	if err := s.keys.Revoke(ctx, keyID); err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	s.audit(ctx, keyID, model.AuditRevoked, performedBy, ipAddress, userAgent, nil)
	return nil
}

// ListByOrg returns every credential (ciphertext, not decrypted) owned by
// orgID, for management UIs.
func (s *Store) ListByOrg(ctx context.Context, orgID string) ([]*model.Key, error) {
	return s.keys.ListByOrg(ctx, orgID)
}

// AuditTrail returns the append-only audit history for a credential.
func (s *Store) AuditTrail(ctx context.Context, keyID string) ([]*model.KeyAuditEntry, error) {
	return s.keys.ListAudit(ctx, keyID)
}

func (s *Store) audit(ctx context.Context, keyID string, action model.KeyAuditAction, performedBy, ipAddress, userAgent string, metadata map[string]any) {
	_ = s.keys.AppendAudit(ctx, &model.KeyAuditEntry{
		ID:          uuid.NewString(),
		KeyID:       keyID,
		Action:      action,
		PerformedBy: performedBy,
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		Metadata:    metadata,
		CreatedAt:   s.now(),
	})
}
