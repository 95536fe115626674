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

package contact

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/matta/cloda/internal/docstore"
	"github.com/matta/cloda/internal/message"
	"github.com/matta/cloda/internal/metrics"

	"github.com/pkg/errors"
)

// Store is the part of the document store a Directory reads.
type Store interface {
	docstore.DocFetcher
	docstore.KeyFetcher
}

// Directory loads consolidated contacts on demand and keeps them for
// its lifetime.
type Directory struct {
	store    Store
	resolver IdentityResolver

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	mu    sync.Mutex
	cache map[string]*Contact
}

// NewDirectory returns an empty directory reading from store.
func NewDirectory(store Store, r IdentityResolver) *Directory {
	return &Directory{
		store:    store,
		resolver: r,
		Logger:   slog.Default(),
		cache:    make(map[string]*Contact),
	}
}

// Get returns the consolidated contacts for ids, in order.  A contact
// missing from the store yields nil at its position.
func (d *Directory) Get(ctx context.Context, ids []string) ([]*Contact, error) {
	if err := d.load(ctx, d.uncached(ids)); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Contact, len(ids))
	for i, id := range ids {
		out[i] = d.cache[id]
	}
	return out, nil
}

// ByIdentity returns the contacts owning any of the given identities.
// An identity may belong to several contacts, so the result need not
// line up with ids.  Each contact appears once.
func (d *Directory) ByIdentity(ctx context.Context, ids []message.IdentityID) ([]*Contact, error) {
	idtys, err := d.resolver.Resolve(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "resolving identities")
	}
	seen := make(map[string]bool)
	var contactIDs []string
	for _, idty := range idtys {
		for _, cid := range idty.Contacts {
			if !seen[cid] {
				seen[cid] = true
				contactIDs = append(contactIDs, cid)
			}
		}
	}
	contacts, err := d.Get(ctx, contactIDs)
	if err != nil {
		return nil, err
	}
	out := contacts[:0]
	for _, c := range contacts {
		if c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (d *Directory) uncached(ids []string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := make(map[string]bool)
	var missing []string
	for _, id := range ids {
		if _, ok := d.cache[id]; ok || seen[id] || id == "" {
			continue
		}
		seen[id] = true
		missing = append(missing, id)
	}
	return missing
}

// load fetches, consolidates and caches the contacts named by ids.
func (d *Directory) load(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	d.Metrics.StoreCall("FetchDocs")
	rows, err := d.store.FetchDocs(ctx, docstore.Contacts, ids)
	if err != nil {
		return errors.Wrapf(err, "fetching %d contacts", len(ids))
	}
	docs := make([]*message.ContactDoc, 0, len(rows))
	for _, row := range rows {
		if row.Doc == nil {
			continue
		}
		doc := &message.ContactDoc{}
		if err := row.DecodeDoc(doc); err != nil {
			return errors.Wrap(err, "contact row")
		}
		docs = append(docs, doc)
	}
	if len(docs) < len(ids) {
		d.Logger.Debug("contacts missing from store", "requested", len(ids), "found", len(docs))
		for i := len(docs); i < len(ids); i++ {
			d.Metrics.IntegrityGap("contact")
		}
	}
	if len(docs) == 0 {
		return nil
	}

	mapping, err := d.identityMapping(ctx, docs)
	if err != nil {
		return err
	}
	contacts, err := Consolidate(ctx, docs, mapping, d.resolver)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range contacts {
		d.cache[c.ID] = c
	}
	return nil
}

// identityMapping reads the contact to identity mapping for docs.
func (d *Directory) identityMapping(ctx context.Context, docs []*message.ContactDoc) (map[string][]message.IdentityID, error) {
	keys := make([]docstore.Key, len(docs))
	for i, doc := range docs {
		keys[i] = docstore.Key{Text: doc.ID}
	}
	d.Metrics.StoreCall("FetchByKeys")
	rows, err := d.store.FetchByKeys(ctx, docstore.ByContact, keys)
	if err != nil {
		return nil, errors.Wrap(err, "fetching contact identities")
	}
	mapping := make(map[string][]message.IdentityID, len(docs))
	for _, row := range rows {
		var id message.IdentityID
		if err := json.Unmarshal(row.Value, &id); err != nil {
			return nil, errors.Wrapf(err, "identity of contact %q", row.Key.Text)
		}
		mapping[row.Key.Text] = append(mapping[row.Key.Text], id)
	}
	return mapping, nil
}
