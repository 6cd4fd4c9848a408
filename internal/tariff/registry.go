package tariff

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"
)

// RateDataSource supplies the known rate versions. Implementations may read
// embedded data, files, a database snapshot or a remote endpoint.
type RateDataSource interface {
	LoadAll(ctx context.Context) ([]RateVersion, error)
}

// Resolver picks the rate version in force on a date.
type Resolver interface {
	Resolve(d time.Time) (RateVersion, error)
}

// Registry holds an immutable, validated set of rate versions ordered by
// EffectiveFrom. Reloads build a new Registry instead of mutating one.
type Registry struct {
	versions    []RateVersion
	fingerprint string
}

// NewRegistry validates versions and rejects overlapping effective ranges or
// duplicate ids. The input slice is copied.
func NewRegistry(versions []RateVersion) (*Registry, error) {
	list := make([]RateVersion, len(versions))
	seen := make(map[string]struct{}, len(versions))
	for i, v := range versions {
		v.EffectiveFrom = DateOf(v.EffectiveFrom)
		v.EffectiveTo = DateOf(v.EffectiveTo)
		if err := v.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[v.VersionID]; dup {
			return nil, fmt.Errorf("%w: duplicate version id %q", ErrInvalidRateVersion, v.VersionID)
		}
		seen[v.VersionID] = struct{}{}
		list[i] = v
	}

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].EffectiveFrom.Before(list[j].EffectiveFrom)
	})
	for i := 1; i < len(list); i++ {
		prev, cur := list[i-1], list[i]
		if !cur.EffectiveFrom.After(prev.EffectiveTo) {
			return nil, fmt.Errorf("%w: %s (%s..%s) and %s (%s..%s)", ErrOverlappingVersions,
				prev.VersionID, FormatDate(prev.EffectiveFrom), FormatDate(prev.EffectiveTo),
				cur.VersionID, FormatDate(cur.EffectiveFrom), FormatDate(cur.EffectiveTo))
		}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRateVersion, err)
	}
	sum := sha256.Sum256(raw)
	return &Registry{versions: list, fingerprint: hex.EncodeToString(sum[:])}, nil
}

// Fingerprint is a SHA-256 over the ordered versions. Registries with the
// same content share a fingerprint across processes and restarts.
func (r *Registry) Fingerprint() string { return r.fingerprint }

// Resolve returns the version whose effective range contains d. Billing
// periods are always resolved by their end date.
func (r *Registry) Resolve(d time.Time) (RateVersion, error) {
	d = DateOf(d)
	for _, v := range r.versions {
		if v.Contains(d) {
			return v, nil
		}
	}
	minEff, maxEff := r.Coverage()
	return RateVersion{}, &NoApplicableVersionError{
		QueriedDate:  d,
		MinEffective: minEff,
		MaxEffective: maxEff,
	}
}

// Coverage returns the earliest EffectiveFrom and the latest EffectiveTo.
// Both are zero for an empty registry.
func (r *Registry) Coverage() (time.Time, time.Time) {
	if len(r.versions) == 0 {
		return time.Time{}, time.Time{}
	}
	minEff := r.versions[0].EffectiveFrom
	maxEff := r.versions[0].EffectiveTo
	for _, v := range r.versions[1:] {
		if v.EffectiveTo.After(maxEff) {
			maxEff = v.EffectiveTo
		}
	}
	return minEff, maxEff
}

// Versions returns a copy of the versions ordered by EffectiveFrom.
func (r *Registry) Versions() []RateVersion {
	out := make([]RateVersion, len(r.versions))
	copy(out, r.versions)
	return out
}

// Len returns the number of versions.
func (r *Registry) Len() int { return len(r.versions) }

// Holder publishes the current Registry. Readers take one snapshot per
// calculation; writers swap in a complete replacement.
type Holder struct {
	current    atomic.Pointer[Registry]
	generation atomic.Uint64
}

// NewHolder returns a Holder seeded with reg, which may be nil.
func NewHolder(reg *Registry) *Holder {
	h := &Holder{}
	if reg != nil {
		h.Swap(reg)
	}
	return h
}

// Load returns the current registry, or nil before the first Swap.
func (h *Holder) Load() *Registry { return h.current.Load() }

// Swap atomically replaces the registry and bumps the generation.
func (h *Holder) Swap(reg *Registry) {
	h.current.Store(reg)
	h.generation.Add(1)
}

// Generation increases on every Swap. It is local to the process.
func (h *Holder) Generation() uint64 { return h.generation.Load() }
