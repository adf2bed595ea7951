// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// Pack is a registered gamepack UI.
type Pack struct {
	Slug string

	// Origin is the origin the pack's UI frame posts from.
	Origin string

	// Namespace scopes the pack's cache keys. Defaults to Slug.
	Namespace string
}

// Registry maps pack slugs and origins to packs. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	bySlug   map[string]Pack
	byOrigin map[string]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		bySlug:   make(map[string]Pack),
		byOrigin: make(map[string]string),
	}
}

// Register adds pack. Slugs and origins must be unique.
func (r *Registry) Register(pack Pack) error {
	if pack.Slug == "" {
		return fmt.Errorf("bridge: registering pack without a slug")
	}
	if pack.Origin == "" {
		return fmt.Errorf("bridge: pack %q has no origin", pack.Slug)
	}
	if pack.Namespace == "" {
		pack.Namespace = pack.Slug
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bySlug[pack.Slug]; exists {
		return fmt.Errorf("bridge: pack %q already registered", pack.Slug)
	}
	if owner, exists := r.byOrigin[pack.Origin]; exists {
		return fmt.Errorf("bridge: origin %q already registered to pack %q", pack.Origin, owner)
	}
	r.bySlug[pack.Slug] = pack
	r.byOrigin[pack.Origin] = pack.Slug
	return nil
}

// Deregister removes the pack with slug and reports whether it existed.
func (r *Registry) Deregister(slug string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	pack, exists := r.bySlug[slug]
	if !exists {
		return false
	}
	delete(r.bySlug, slug)
	delete(r.byOrigin, pack.Origin)
	return true
}

func (r *Registry) Lookup(slug string) (Pack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pack, ok := r.bySlug[slug]
	return pack, ok
}

func (r *Registry) ByOrigin(origin string) (Pack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slug, ok := r.byOrigin[origin]
	if !ok {
		return Pack{}, false
	}
	return r.bySlug[slug], true
}

// Packs returns every registered pack ordered by slug.
func (r *Registry) Packs() []Pack {
	r.mu.RLock()
	packs := make([]Pack, 0, len(r.bySlug))
	for _, pack := range r.bySlug {
		packs = append(packs, pack)
	}
	r.mu.RUnlock()
	slices.SortFunc(packs, func(a, b Pack) int { return cmp.Compare(a.Slug, b.Slug) })
	return packs
}
