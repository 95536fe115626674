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

// Package contact merges stored contacts with the identities attached
// to them.
package contact

import (
	"context"
	"sort"

	"github.com/matta/cloda/internal/identity"
	"github.com/matta/cloda/internal/message"

	"github.com/pkg/errors"
)

// IdentityResolver resolves identity ids to registry entries, in
// order.
type IdentityResolver interface {
	Resolve(ctx context.Context, ids []message.IdentityID) ([]*identity.Identity, error)
}

// Contact is a stored contact together with its identities.  It is
// built in memory and never written back.
type Contact struct {
	ID   string
	Name string

	// Every identity attached to the contact, in resolution order,
	// without duplicates.
	Identities []*identity.Identity

	// One canonical identity per identity type.
	slots map[string]*identity.Identity
}

func newContact(doc *message.ContactDoc) *Contact {
	return &Contact{
		ID:    doc.ID,
		Name:  doc.Name,
		slots: make(map[string]*identity.Identity),
	}
}

// Slot returns the canonical identity of the given type, or nil.
func (c *Contact) Slot(typ string) *identity.Identity {
	return c.slots[typ]
}

// Types returns the identity types with a canonical identity, sorted.
func (c *Contact) Types() []string {
	types := make([]string, 0, len(c.slots))
	for t := range c.slots {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// DisplayName returns the contact name, falling back to the name or
// value of its first identity.
func (c *Contact) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	for _, idty := range c.Identities {
		if idty.Name != "" {
			return idty.Name
		}
		if idty.ID.Value != "" {
			return idty.ID.Value
		}
	}
	return c.ID
}

// attach adds idty to c.  The first identity seen for a type takes the
// type's slot and keeps it; later identities of the same type are
// only listed.  An identity already listed is not listed again.
func (c *Contact) attach(idty *identity.Identity) {
	if _, ok := c.slots[idty.ID.Type]; !ok {
		c.slots[idty.ID.Type] = idty
	}
	for _, have := range c.Identities {
		if have == idty {
			return
		}
	}
	c.Identities = append(c.Identities, idty)
}

// Consolidate builds a Contact for every doc, attaching the identities
// mapping lists for it.  Identities are resolved in one batch, in the
// order the contacts and their mapped ids are given.  Identities the
// store does not know are left off.  The result follows the order of
// docs; the docs themselves are not modified.
func Consolidate(ctx context.Context, docs []*message.ContactDoc, mapping map[string][]message.IdentityID, r IdentityResolver) ([]*Contact, error) {
	var ids []message.IdentityID
	for _, doc := range docs {
		ids = append(ids, mapping[doc.ID]...)
	}
	resolved, err := r.Resolve(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "resolving contact identities")
	}
	if len(resolved) != len(ids) {
		return nil, errors.Errorf("resolver returned %d identities for %d ids", len(resolved), len(ids))
	}

	out := make([]*Contact, len(docs))
	i := 0
	for n, doc := range docs {
		c := newContact(doc)
		for range mapping[doc.ID] {
			if idty := resolved[i]; !idty.Empty() {
				c.attach(idty)
			}
			i++
		}
		out[n] = c
	}
	return out, nil
}
