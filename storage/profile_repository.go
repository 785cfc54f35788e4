package storage

import (
	"fmt"
	"strings"

	"github.com/NethermindEth/chaoschain-persona/core"
)

const profilePrefix = "persona:profile:"

func profileKey(owner string) string {
	return profilePrefix + owner
}

// ProfileRepository persists one profile per owner. Reads go through an
// optional cache, writes invalidate it.
type ProfileRepository struct {
	db    *DBStorage
	cache *ProfileCache
}

func NewProfileRepository(db *DBStorage, cache *ProfileCache) *ProfileRepository {
	return &ProfileRepository{db: db, cache: cache}
}

// Get returns the stored profile for owner, or nil when none exists.
func (r *ProfileRepository) Get(owner string) (*core.PersonaProfile, error) {
	if p, ok := r.cache.Get(owner); ok {
		return &p, nil
	}

	data, err := r.db.Get(profileKey(owner))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	p, _, err := core.ParseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored profile for %s: %w", owner, err)
	}
	r.cache.Add(owner, p)
	return &p, nil
}

// Put replaces the owner's profile.
func (r *ProfileRepository) Put(owner string, p core.PersonaProfile) error {
	data, err := core.MarshalProfile(p)
	if err != nil {
		return err
	}
	if err := r.db.Put(profileKey(owner), data); err != nil {
		r.cache.Remove(owner)
		return fmt.Errorf("failed to store profile: %w", err)
	}
	r.cache.Add(owner, p)
	return nil
}

// PutIfAbsent stores p only when the owner has no profile yet and reports
// whether it did.
func (r *ProfileRepository) PutIfAbsent(owner string, p core.PersonaProfile) (bool, error) {
	data, err := core.MarshalProfile(p)
	if err != nil {
		return false, err
	}
	stored, err := r.db.PutIfAbsent(profileKey(owner), data)
	if err != nil {
		return false, fmt.Errorf("failed to store profile: %w", err)
	}
	if stored {
		r.cache.Add(owner, p)
	}
	return stored, nil
}

// Delete removes the owner's profile. Deleting a missing profile is not an error.
func (r *ProfileRepository) Delete(owner string) error {
	r.cache.Remove(owner)
	if err := r.db.Delete(profileKey(owner)); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// Owners lists every owner with a stored profile.
func (r *ProfileRepository) Owners() ([]string, error) {
	data, err := r.db.GetByPrefix(profilePrefix)
	if err != nil {
		return nil, err
	}
	owners := make([]string, 0, len(data))
	for k := range data {
		owners = append(owners, strings.TrimPrefix(k, profilePrefix))
	}
	return owners, nil
}
