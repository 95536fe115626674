// Package docstoretest provides an in-memory docstore.Store for tests.
package docstoretest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"

	"github.com/matta/cloda/internal/docstore"
	"github.com/matta/cloda/internal/message"
)

// Store is an in-memory document store.  Views are computed on read
// from the stored documents.  It counts calls per method and can be
// made to fail.
type Store struct {
	mu    sync.Mutex
	docs  map[string]map[string]json.RawMessage
	calls map[string]int

	// Fail, when set, is consulted before every call; a non-nil
	// result is returned as the call's error.
	Fail func(method, target string) error

	// BeforeQueryView, when set, runs before each QueryView.  Tests
	// use it to block or reorder constraint lookups.
	BeforeQueryView func(ctx context.Context, view string, r docstore.Range)
}

var _ docstore.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		docs:  make(map[string]map[string]json.RawMessage),
		calls: make(map[string]int),
	}
}

// Calls returns how many times the named method was invoked.
func (s *Store) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Doc returns the stored JSON of a document, or nil.
func (s *Store) Doc(db, id string) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[db][id]
}

// MustPut stores doc, failing the test on error.
func (s *Store) MustPut(t testing.TB, db, id string, doc any) {
	t.Helper()
	if err := s.put(db, id, doc); err != nil {
		t.Fatalf("put %s/%s: %v", db, id, err)
	}
}

// PutMessages stores messages under their ids.
func (s *Store) PutMessages(t testing.TB, msgs ...*message.Message) {
	t.Helper()
	for _, m := range msgs {
		s.MustPut(t, docstore.Messages, m.ID, m)
	}
}

// PutContacts stores contacts under their ids.
func (s *Store) PutContacts(t testing.TB, contacts ...*message.ContactDoc) {
	t.Helper()
	for _, c := range contacts {
		s.MustPut(t, docstore.Contacts, c.ID, c)
	}
}

// PutIdentities stores identities under their document ids.
func (s *Store) PutIdentities(t testing.TB, idtys ...*message.IdentityDoc) {
	t.Helper()
	for _, idty := range idtys {
		s.MustPut(t, docstore.Identities, docstore.IdentityDocID(idty.ID), idty)
	}
}

func (s *Store) put(db, id string, doc any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs[db] == nil {
		s.docs[db] = make(map[string]json.RawMessage)
	}
	s.docs[db][id] = b
	return nil
}

func (s *Store) enter(method, target string) error {
	s.mu.Lock()
	s.calls[method]++
	fail := s.Fail
	s.mu.Unlock()
	if fail != nil {
		return fail(method, target)
	}
	return nil
}

// rows computes every row of a view, ordered by key then document id.
func (s *Store) rows(view string) ([]docstore.Row, error) {
	db, ok := docstore.ViewDatabase(view)
	if !ok {
		return nil, docstore.ErrUnknownView
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []docstore.Row
	for id, doc := range s.docs[db] {
		emitted, err := docstore.Emit(db, doc)
		if err != nil {
			return nil, err
		}
		for _, e := range emitted {
			if e.View == view {
				rows = append(rows, docstore.Row{ID: id, Key: e.Key, Value: e.Value, Doc: doc})
			}
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Key != rows[j].Key {
			return rows[i].Key.Less(rows[j].Key)
		}
		return rows[i].ID < rows[j].ID
	})
	return rows, nil
}

// FetchByKeys implements docstore.KeyFetcher.
func (s *Store) FetchByKeys(ctx context.Context, view string, keys []docstore.Key) ([]docstore.Row, error) {
	if err := s.enter("FetchByKeys", view); err != nil {
		return nil, err
	}
	all, err := s.rows(view)
	if err != nil {
		return nil, err
	}
	var out []docstore.Row
	for _, k := range keys {
		for _, r := range all {
			if r.Key.Text == k.Text {
				out = append(out, r)
			}
		}
	}
	return out, ctx.Err()
}

// QueryView implements docstore.ViewQuerier.
func (s *Store) QueryView(ctx context.Context, view string, r docstore.Range) ([]docstore.Row, error) {
	if err := s.enter("QueryView", view); err != nil {
		return nil, err
	}
	if s.BeforeQueryView != nil {
		s.BeforeQueryView(ctx, view, r)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := s.rows(view)
	if err != nil {
		return nil, err
	}
	var out []docstore.Row
	for _, row := range all {
		if r.Contains(row.Key) {
			row.Doc = nil
			out = append(out, row)
		}
	}
	return out, nil
}

// FetchDocs implements docstore.DocFetcher.
func (s *Store) FetchDocs(ctx context.Context, db string, ids []string) ([]docstore.Row, error) {
	if err := s.enter("FetchDocs", db); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []docstore.Row
	for _, id := range ids {
		if doc, ok := s.docs[db][id]; ok {
			out = append(out, docstore.Row{ID: id, Key: docstore.Key{Text: id}, Doc: doc})
		}
	}
	return out, ctx.Err()
}

// PutDoc implements docstore.DocPutter.
func (s *Store) PutDoc(ctx context.Context, db, id string, doc any) error {
	if err := s.enter("PutDoc", db); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.put(db, id, doc)
}
