package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// identityKey is the single key the whole identity record lives under, so
// card id, title and fingerprint are always written together.
const identityKey = "identity"

// Record is the durable state of the one card this installation manages.
// CardID is set only after the first successful creation; Fingerprint is
// updated only after a fully successful refresh.
type Record struct {
	AccessToken   string `json:"accessToken,omitempty"`
	RefreshToken  string `json:"refreshToken,omitempty"`
	CardID        string `json:"cardId,omitempty"`
	PlaylistTitle string `json:"playlistTitle,omitempty"`
	Fingerprint   string `json:"contentFingerprint,omitempty"`
}

// Authenticated reports whether OAuth credentials are present.
func (r *Record) Authenticated() bool {
	return r.AccessToken != "" && r.RefreshToken != ""
}

// Identity wraps a Store with typed access to the identity record.
type Identity struct {
	store Store
}

// NewIdentity creates an Identity backed by the given store.
func NewIdentity(s Store) *Identity {
	return &Identity{store: s}
}

// Load reads the identity record. A missing record is returned as an empty
// (unauthenticated) record, not an error.
func (i *Identity) Load(ctx context.Context) (*Record, error) {
	data, err := i.store.Get(ctx, identityKey)
	if errors.Is(err, ErrNotFound) {
		return &Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading identity: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing identity record: %w", err)
	}
	return &rec, nil
}

// Save writes the whole record in one store write.
func (i *Identity) Save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding identity record: %w", err)
	}
	if err := i.store.Set(ctx, identityKey, data); err != nil {
		return fmt.Errorf("saving identity: %w", err)
	}
	return nil
}

// SaveTokens updates only the OAuth credentials, preserving card state.
func (i *Identity) SaveTokens(ctx context.Context, accessToken, refreshToken string) error {
	rec, err := i.Load(ctx)
	if err != nil {
		return err
	}
	rec.AccessToken = accessToken
	rec.RefreshToken = refreshToken
	return i.Save(ctx, rec)
}

// ClearTokens removes credentials but keeps card id, title and fingerprint,
// so a re-login resumes updating the same card.
func (i *Identity) ClearTokens(ctx context.Context) error {
	rec, err := i.Load(ctx)
	if err != nil {
		return err
	}
	rec.AccessToken = ""
	rec.RefreshToken = ""
	return i.Save(ctx, rec)
}

// Clear deletes the whole record.
func (i *Identity) Clear(ctx context.Context) error {
	if err := i.store.Delete(ctx, identityKey); err != nil {
		return fmt.Errorf("clearing identity: %w", err)
	}
	return nil
}
