// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package identity

import (
	"sync"

	"github.com/matta/cloda/internal/message"
)

// Identity is a resolved identity.  The zero value is the placeholder
// recorded for identities the store does not have.
type Identity struct {
	ID    message.IdentityID
	Name  string
	URL   string
	Image string

	// The contacts the identity is attached to.
	Contacts []string
}

// Empty reports whether i is a placeholder.
func (i *Identity) Empty() bool {
	return i == nil || i.ID.IsZero()
}

func fromDoc(doc *message.IdentityDoc) *Identity {
	return &Identity{
		ID:       doc.ID,
		Name:     doc.Name,
		URL:      doc.URL,
		Image:    doc.Image,
		Contacts: append([]string(nil), doc.Contacts...),
	}
}

// Registry caches identities by the string form of their key.  It
// only grows: once an identity has been looked up it holds either the
// identity or a placeholder for it.
type Registry struct {
	mu sync.RWMutex
	m  map[string]*Identity
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]*Identity)}
}

// Identity returns the cached identity for id, or an empty identity
// when none is cached.  It never returns nil.
func (r *Registry) Identity(id message.IdentityID) *Identity {
	if idty, ok := r.lookup(id.String()); ok {
		return idty
	}
	return &Identity{}
}

// Has reports whether a lookup of id has already been settled.
func (r *Registry) Has(id message.IdentityID) bool {
	_, ok := r.lookup(id.String())
	return ok
}

// Len returns the number of cached entries, placeholders included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}

func (r *Registry) lookup(key string) (*Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idty, ok := r.m[key]
	return idty, ok
}

// put records a fetched identity.  Content is the same for every
// fetch of a key, so the last writer wins.
func (r *Registry) put(key string, idty *Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[key] = idty
}

// settle records a placeholder for key unless an entry exists, and
// reports whether it did.
func (r *Registry) settle(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[key]; ok {
		return false
	}
	r.m[key] = &Identity{}
	return true
}
