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

// Package conversation answers queries for the conversations matching
// a set of constraints and assembles them for display.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/matta/cloda/internal/contact"
	"github.com/matta/cloda/internal/docstore"
	"github.com/matta/cloda/internal/identity"
	"github.com/matta/cloda/internal/message"
	"github.com/matta/cloda/internal/metrics"
	"github.com/matta/cloda/internal/view"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// MaxTimestamp is the upper timestamp bound of a contact constraint.
const MaxTimestamp = 4000000000

// Constraint selects the conversations whose ids appear as row values
// of a view range.
type Constraint struct {
	View  string
	Range docstore.Range
}

func (c Constraint) String() string {
	return fmt.Sprintf("%s[%v..%v]", c.View, c.Range.Start, c.Range.End)
}

// State is the progress of a Query.
type State int

const (
	Dispatched State = iota
	Intersecting
	FetchingConversations
	FetchingContacts
	Done
	Failed
)

var stateNames = [...]string{
	Dispatched:            "dispatched",
	Intersecting:          "intersecting",
	FetchingConversations: "fetching_conversations",
	FetchingContacts:      "fetching_contacts",
	Done:                  "done",
	Failed:                "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Engine runs conversation queries against a store.  It is safe for
// concurrent use; each query keeps its own state.
type Engine struct {
	store     docstore.Store
	resolver  *identity.Resolver
	directory *contact.Directory

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Timeout bounds a whole query when positive.
	Timeout time.Duration

	// MaxTimestamp is the upper bound used by QueryByInvolvedContacts.
	MaxTimestamp int64
}

// NewEngine returns an engine reading from store.  Identities are
// resolved with r and contacts loaded through dir.
func NewEngine(store docstore.Store, r *identity.Resolver, dir *contact.Directory) *Engine {
	return &Engine{
		store:        store,
		resolver:     r,
		directory:    dir,
		Logger:       slog.Default(),
		MaxTimestamp: MaxTimestamp,
	}
}

// Query is a single run of the engine.
type Query struct {
	e           *Engine
	constraints []Constraint

	mu    sync.Mutex
	state State
}

// NewQuery prepares a query for the conversations satisfying every
// constraint.
func (e *Engine) NewQuery(constraints []Constraint) *Query {
	return &Query{e: e, constraints: append([]Constraint(nil), constraints...)}
}

// State returns the current state of q.
func (q *Query) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func (q *Query) setState(s State) {
	q.mu.Lock()
	q.state = s
	q.mu.Unlock()
	q.e.Logger.Debug("query state", "state", s.String(), "constraints", len(q.constraints))
}

// Query returns the conversations satisfying every constraint, newest
// first.
func (e *Engine) Query(ctx context.Context, constraints []Constraint) ([]*Conversation, error) {
	return e.NewQuery(constraints).Run(ctx)
}

// QueryByInvolvedContacts returns the conversations involving every
// one of the given contacts.
func (e *Engine) QueryByInvolvedContacts(ctx context.Context, contactIDs []string) ([]*Conversation, error) {
	constraints := make([]Constraint, len(contactIDs))
	for i, cid := range contactIDs {
		constraints[i] = Constraint{
			View: docstore.ByInvolves,
			Range: docstore.Range{
				Start: docstore.Key{Text: cid, Time: 0},
				End:   docstore.Key{Text: cid, Time: e.MaxTimestamp},
			},
		}
	}
	return e.Query(ctx, constraints)
}

// Conversations loads the conversations with the given ids, newest
// first.  Ids with no messages are left out.
func (e *Engine) Conversations(ctx context.Context, ids []string) ([]*Conversation, error) {
	q := e.NewQuery(nil)
	return q.finish(ctx, func(ctx context.Context) ([]*Conversation, error) {
		return q.load(ctx, ids)
	})
}

// Run executes q.  It returns either every matching conversation or an
// error, never a partial result.  A query runs once.
func (q *Query) Run(ctx context.Context) ([]*Conversation, error) {
	return q.finish(ctx, func(ctx context.Context) ([]*Conversation, error) {
		if len(q.constraints) == 0 {
			return nil, nil
		}
		ids, err := q.intersect(ctx)
		if err != nil {
			return nil, err
		}
		return q.load(ctx, ids)
	})
}

// finish applies the timeout to run and records its outcome.
func (q *Query) finish(ctx context.Context, run func(context.Context) ([]*Conversation, error)) ([]*Conversation, error) {
	start := time.Now()
	if q.e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.e.Timeout)
		defer cancel()
	}
	q.setState(Dispatched)
	convs, err := run(ctx)
	if err != nil {
		q.setState(Failed)
		q.e.Metrics.QueryDone(Failed.String(), time.Since(start))
		return nil, errors.Wrap(err, "conversation query")
	}
	if convs == nil {
		convs = []*Conversation{}
	}
	q.setState(Done)
	q.e.Metrics.QueryDone(Done.String(), time.Since(start))
	return convs, nil
}

// intersect looks up every constraint concurrently and folds the
// arriving id sets into their intersection.  The fold runs on the
// calling goroutine only.
func (q *Query) intersect(ctx context.Context) ([]string, error) {
	g, gctx := errgroup.WithContext(ctx)
	pages := make(chan []string)
	for _, c := range q.constraints {
		c := c
		g.Go(func() error {
			q.e.Metrics.StoreCall("QueryView")
			rows, err := q.e.store.QueryView(gctx, c.View, c.Range)
			if err != nil {
				return errors.Wrapf(err, "constraint %v", c)
			}
			ids := make([]string, 0, len(rows))
			for _, row := range rows {
				id, err := row.Text()
				if err != nil {
					return errors.Wrapf(err, "constraint %v", c)
				}
				ids = append(ids, id)
			}
			select {
			case pages <- ids:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	q.setState(Intersecting)
	var acc map[string]bool
	for pending := len(q.constraints); pending > 0; pending-- {
		select {
		case page := <-pages:
			acc = meet(acc, page)
		case <-gctx.Done():
			pending = 0
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sortedKeys(acc), nil
}

// meet folds one page of conversation ids into acc.  A nil acc means no
// page has arrived yet and is replaced by the page itself; later pages
// keep only the ids both sides hold.  acc is not modified.
func meet(acc map[string]bool, page []string) map[string]bool {
	next := make(map[string]bool)
	if acc == nil {
		for _, id := range page {
			next[id] = true
		}
		return next
	}
	for _, id := range page {
		if acc[id] {
			next[id] = true
		}
	}
	return next
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// load fetches, consolidates and threads the conversations named by
// ids.  It fetches nothing when ids is empty.
func (q *Query) load(ctx context.Context, ids []string) ([]*Conversation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	e := q.e

	q.setState(FetchingConversations)
	keys := make([]docstore.Key, len(ids))
	for i, id := range ids {
		keys[i] = docstore.Key{Text: id}
	}
	e.Metrics.StoreCall("FetchByKeys")
	rows, err := e.store.FetchByKeys(ctx, docstore.ByConversation, keys)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %d conversations", len(ids))
	}

	builders := make(map[string]*builder, len(ids))
	var order []*builder
	var docs []json.RawMessage
	var contactIDs []string
	seenContact := make(map[string]bool)
	for _, row := range rows {
		m := &message.Message{}
		if err := row.DecodeDoc(m); err != nil {
			return nil, errors.Wrap(err, "conversation row")
		}
		b, ok := builders[m.ConversationID]
		if !ok {
			b = newBuilder(m.ConversationID)
			builders[m.ConversationID] = b
			order = append(order, b)
		}
		b.add(m)
		docs = append(docs, row.Doc)
		for _, cid := range m.InvolvesContactIDs {
			if !seenContact[cid] {
				seenContact[cid] = true
				contactIDs = append(contactIDs, cid)
			}
		}
	}
	if len(order) < len(ids) {
		e.Logger.Debug("conversations without messages", "requested", len(ids), "found", len(order))
	}

	q.setState(FetchingContacts)
	if err := e.resolver.ResolveDocument(ctx, docs); err != nil {
		return nil, errors.Wrap(err, "resolving message identities")
	}
	found, err := e.directory.Get(ctx, contactIDs)
	if err != nil {
		return nil, errors.Wrap(err, "fetching involved contacts")
	}
	contacts := make(map[string]*contact.Contact, len(found))
	for i, c := range found {
		if c != nil {
			contacts[contactIDs[i]] = c
		}
	}
	lookup := func(id string) *contact.Contact { return contacts[id] }
	wrap := func(m *message.Message) *view.Message {
		return view.Wrap(m, e.store, lookup)
	}

	convs := make([]*Conversation, 0, len(order))
	for _, b := range order {
		c := b.build(wrap, lookup)
		for _, gap := range c.Forest.Gaps {
			e.Metrics.IntegrityGap("reference")
			e.Logger.Debug("skipped cyclic reference", "conversation", c.ID, "message", gap.MessageID, "reference", gap.Reference)
		}
		convs = append(convs, c)
	}
	sortNewestFirst(convs)
	return convs, nil
}
