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

// Package identity resolves identity references against the document
// store and caches the results for the life of a Registry.
package identity

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/matta/cloda/internal/docstore"
	"github.com/matta/cloda/internal/message"
	"github.com/matta/cloda/internal/metrics"

	"github.com/pkg/errors"
)

// Resolver fetches identities missing from a Registry in batches.
type Resolver struct {
	store    docstore.KeyFetcher
	registry *Registry

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// NewResolver returns a resolver filling reg from store.
func NewResolver(store docstore.KeyFetcher, reg *Registry) *Resolver {
	return &Resolver{store: store, registry: reg, Logger: slog.Default()}
}

// Registry returns the registry the resolver fills.
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// batch collects the identities a single resolve call must fetch.
type batch struct {
	registry *Registry
	seen     map[string]bool
	needed   []message.IdentityID
	hits     int
}

func (b *batch) add(id message.IdentityID) {
	if id.IsZero() {
		return
	}
	key := id.String()
	if b.seen[key] {
		return
	}
	b.seen[key] = true
	if b.registry.Has(id) {
		b.hits++
		return
	}
	b.needed = append(b.needed, id)
}

func (r *Resolver) newBatch() *batch {
	return &batch{registry: r.registry, seen: make(map[string]bool)}
}

// Resolve makes sure every id is settled in the registry and returns
// the registry entries in the order of ids.  Identities the store
// does not have resolve to empty placeholders.
func (r *Resolver) Resolve(ctx context.Context, ids []message.IdentityID) ([]*Identity, error) {
	b := r.newBatch()
	for _, id := range ids {
		b.add(id)
	}
	if err := r.fetch(ctx, b); err != nil {
		return nil, err
	}
	out := make([]*Identity, len(ids))
	for i, id := range ids {
		out[i] = r.registry.Identity(id)
	}
	return out, nil
}

// ResolveDocument scans doc for embedded message body schemas and
// settles every identity they reference.  doc is either a decoded
// JSON value or any value that encodes to JSON.  Nothing is fetched
// when every identity is already settled.
func (r *Resolver) ResolveDocument(ctx context.Context, doc any) error {
	v, err := generic(doc)
	if err != nil {
		return err
	}
	b := r.newBatch()
	findIdentities(v, b)
	return r.fetch(ctx, b)
}

func (r *Resolver) fetch(ctx context.Context, b *batch) error {
	r.Metrics.IdentityLookup("hit", b.hits)
	if len(b.needed) == 0 {
		return nil
	}

	keys := make([]docstore.Key, len(b.needed))
	for i, id := range b.needed {
		keys[i] = docstore.Key{Text: id.String()}
	}
	r.Metrics.StoreCall("FetchByKeys")
	rows, err := r.store.FetchByKeys(ctx, docstore.Megaview, keys)
	if err != nil {
		return errors.Wrapf(err, "fetching %d identities", len(keys))
	}

	fetched := 0
	for _, row := range rows {
		var doc message.IdentityDoc
		if err := row.DecodeDoc(&doc); err != nil {
			return errors.Wrap(err, "identity row")
		}
		r.registry.put(doc.ID.String(), fromDoc(&doc))
		fetched++
	}

	// Settle what did not come back so it is never asked for again.
	missing := 0
	for _, id := range b.needed {
		if r.registry.settle(id.String()) {
			missing++
		}
	}
	r.Metrics.IdentityLookup("fetched", fetched)
	r.Metrics.IdentityLookup("missing", missing)
	r.Logger.Debug("resolved identities", "requested", len(b.needed), "fetched", fetched, "missing", missing)
	return nil
}

// generic converts doc to the decoded JSON form findIdentities walks.
func generic(doc any) (any, error) {
	switch d := doc.(type) {
	case nil, map[string]any, []any:
		return doc, nil
	case json.RawMessage:
		return decode(d)
	case []byte:
		return decode(d)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "encoding document")
	}
	return decode(b)
}

func decode(b []byte) (any, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, errors.Wrap(err, "decoding document")
	}
	return v, nil
}

// findIdentities walks v depth first, adding the identities of every
// message body schema it finds to b.  Object keys are visited in
// sorted order so batches are deterministic.
func findIdentities(v any, b *batch) {
	switch v := v.(type) {
	case []any:
		for _, item := range v {
			findIdentities(item, b)
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == message.EnvelopeSchema {
				addEnvelope(v[k], b)
				continue
			}
			findIdentities(v[k], b)
		}
	}
}

func addEnvelope(v any, b *batch) {
	schema, ok := v.(map[string]any)
	if !ok {
		return
	}
	if id, ok := asIdentityID(schema["from"]); ok {
		b.add(id)
	}
	for _, field := range []string{"to", "cc", "bcc"} {
		list, _ := schema[field].([]any)
		for _, item := range list {
			if id, ok := asIdentityID(item); ok {
				b.add(id)
			}
		}
	}
}

func asIdentityID(v any) (message.IdentityID, bool) {
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return message.IdentityID{}, false
	}
	typ, ok1 := pair[0].(string)
	val, ok2 := pair[1].(string)
	if !ok1 || !ok2 {
		return message.IdentityID{}, false
	}
	return message.IdentityID{Type: typ, Value: val}, true
}
