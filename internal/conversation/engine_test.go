package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/matta/cloda/internal/contact"
	"github.com/matta/cloda/internal/docstore"
	"github.com/matta/cloda/internal/docstore/docstoretest"
	"github.com/matta/cloda/internal/identity"
	"github.com/matta/cloda/internal/message"

	"github.com/pkg/errors"
)

var aliceEmail = message.IdentityID{Type: "email", Value: "alice@example.com"}

// recorder notes the conversation ids each conversation fetch asks for.
type recorder struct {
	*docstoretest.Store

	mu      sync.Mutex
	fetched [][]string
}

func (r *recorder) FetchByKeys(ctx context.Context, view string, keys []docstore.Key) ([]docstore.Row, error) {
	if view == docstore.ByConversation {
		var ids []string
		for _, k := range keys {
			ids = append(ids, k.Text)
		}
		r.mu.Lock()
		r.fetched = append(r.fetched, ids)
		r.mu.Unlock()
	}
	return r.Store.FetchByKeys(ctx, view, keys)
}

func newFixture(t *testing.T) *recorder {
	st := docstoretest.New()
	st.PutMessages(t,
		&message.Message{ID: "m1", ConversationID: "c1", Timestamp: 10, HeaderMessageID: "m1@x",
			InvolvesContactIDs: []string{"alice", "carol"}, Subject: "one"},
		&message.Message{ID: "m2", ConversationID: "c2", Timestamp: 20, HeaderMessageID: "m2@x",
			FromContactID: "alice", ToContactIDs: []string{"bob"},
			InvolvesContactIDs: []string{"alice", "bob"}, Subject: "two",
			Envelope: &message.Envelope{From: aliceEmail}},
		&message.Message{ID: "m3", ConversationID: "c2", Timestamp: 25, HeaderMessageID: "m3@x",
			References: []string{"m2@x"}, FromContactID: "bob",
			InvolvesContactIDs: []string{"bob", "ghost"}, Subject: "Re: two"},
		&message.Message{ID: "m4", ConversationID: "c3", Timestamp: 30, HeaderMessageID: "m4@x",
			InvolvesContactIDs: []string{"alice", "bob"}, Subject: "three"},
		&message.Message{ID: "m5", ConversationID: "c4", Timestamp: 40, HeaderMessageID: "m5@x",
			InvolvesContactIDs: []string{"bob"}, Subject: "four"},
		&message.Message{ID: "m6", ConversationID: "c5", Timestamp: 50, HeaderMessageID: "m6@x",
			InvolvesContactIDs: []string{"dave"}, Subject: "five"},
	)
	st.PutContacts(t,
		&message.ContactDoc{ID: "alice", Name: "Alice"},
		&message.ContactDoc{ID: "bob", Name: "Bob"},
		&message.ContactDoc{ID: "carol", Name: "Carol"},
		&message.ContactDoc{ID: "dave", Name: "Dave"},
	)
	st.PutIdentities(t, &message.IdentityDoc{ID: aliceEmail, Name: "Alice A.", Contacts: []string{"alice"}})
	return &recorder{Store: st}
}

func newEngine(st docstore.Store) *Engine {
	r := identity.NewResolver(st, identity.NewRegistry())
	return NewEngine(st, r, contact.NewDirectory(st, r))
}

func convIDs(convs []*Conversation) []string {
	var ids []string
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestMeetIsOrderIndependent(t *testing.T) {
	pages := [][]string{
		{"c1", "c2", "c3", "c5"},
		{"c2", "c3", "c4", "c5", "c2"},
		{"c0", "c3", "c5"},
	}
	orders := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	want := []string{"c3", "c5"}
	for _, order := range orders {
		var acc map[string]bool
		for _, i := range order {
			acc = meet(acc, pages[i])
		}
		if diff := cmp.Diff(want, sortedKeys(acc)); diff != "" {
			t.Errorf("arrival order %v: intersection mismatch (-want +got):\n%s", order, diff)
		}
	}
}

func TestMeetDoesNotModifyAccumulator(t *testing.T) {
	acc := meet(nil, []string{"a", "b"})
	next := meet(acc, []string{"b"})
	if len(acc) != 2 || len(next) != 1 {
		t.Errorf("meet() modified its input: acc = %v, next = %v", acc, next)
	}
	if empty := meet(nil, nil); empty == nil || len(empty) != 0 {
		t.Errorf("meet(nil, nil) = %#v, want empty non-nil set", empty)
	}
}

func TestQueryByInvolvedContacts(t *testing.T) {
	st := newFixture(t)
	e := newEngine(st)

	convs, err := e.QueryByInvolvedContacts(context.Background(), []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("QueryByInvolvedContacts() = %v", err)
	}
	if diff := cmp.Diff([]string{"c3", "c2"}, convIDs(convs)); diff != "" {
		t.Errorf("conversations mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]string{{"c2", "c3"}}, st.fetched); diff != "" {
		t.Errorf("conversation fetches mismatch (-want +got):\n%s", diff)
	}
	if n := st.Calls("QueryView"); n != 2 {
		t.Errorf("QueryView called %d times, want 2", n)
	}
	if n := st.Calls("FetchDocs"); n != 1 {
		t.Errorf("FetchDocs called %d times, want 1", n)
	}

	c2 := convs[1]
	if c2.Oldest != 20 || c2.Newest != 25 {
		t.Errorf("c2 spans [%d, %d], want [20, 25]", c2.Oldest, c2.Newest)
	}
	if c2.Subject() != "two" {
		t.Errorf("c2.Subject() = %q, want %q", c2.Subject(), "two")
	}
	if diff := cmp.Diff([]string{"alice", "bob", "ghost"}, c2.InvolvesContactIDs); diff != "" {
		t.Errorf("c2.InvolvesContactIDs mismatch (-want +got):\n%s", diff)
	}
	var names []string
	for _, ct := range c2.Involves {
		names = append(names, ct.Name)
	}
	if diff := cmp.Diff([]string{"Alice", "Bob"}, names); diff != "" {
		t.Errorf("c2.Involves mismatch (-want +got):\n%s", diff)
	}
	if s := c2.Involves[0].Slot("email"); s == nil || s.Name != "Alice A." {
		t.Errorf("alice Slot(email) = %+v, want Alice A.", s)
	}

	roots := c2.Roots()
	if len(roots) != 1 || roots[0].Item.ID() != "m2" {
		t.Fatalf("c2.Roots() = %v, want [m2]", roots)
	}
	if kids := roots[0].Children; len(kids) != 1 || kids[0].Item.ID() != "m3" {
		t.Errorf("m2 children = %v, want [m3]", kids)
	}
	m2 := c2.Messages[0]
	if m2.From == nil || m2.From.ID != "alice" || len(m2.To) != 1 || m2.To[0].ID != "bob" {
		t.Errorf("m2 From = %v, To = %v, want alice and [bob]", m2.From, m2.To)
	}
	if !e.resolver.Registry().Has(aliceEmail) {
		t.Errorf("registry lacks %v after query", aliceEmail)
	}
}

func TestEmptyIntersectionFetchesNothing(t *testing.T) {
	st := newFixture(t)
	e := newEngine(st)

	q := e.NewQuery([]Constraint{
		{View: docstore.ByInvolves, Range: docstore.Range{Start: docstore.Key{Text: "alice"}, End: docstore.Key{Text: "alice", Time: MaxTimestamp}}},
		{View: docstore.ByInvolves, Range: docstore.Range{Start: docstore.Key{Text: "dave"}, End: docstore.Key{Text: "dave", Time: MaxTimestamp}}},
	})
	convs, err := q.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if convs == nil || len(convs) != 0 {
		t.Errorf("Run() = %#v, want empty list", convs)
	}
	if len(st.fetched) != 0 || st.Calls("FetchDocs") != 0 {
		t.Errorf("empty intersection fetched conversations %v and %d contact batches", st.fetched, st.Calls("FetchDocs"))
	}
	if q.State() != Done {
		t.Errorf("State() = %v, want %v", q.State(), Done)
	}
}

func TestNoConstraints(t *testing.T) {
	st := newFixture(t)
	convs, err := newEngine(st).Query(context.Background(), nil)
	if err != nil || len(convs) != 0 {
		t.Errorf("Query(nil) = %v, %v, want empty list", convs, err)
	}
	if n := st.Calls("QueryView"); n != 0 {
		t.Errorf("QueryView called %d times, want 0", n)
	}
}

func TestQueryReleasedInReverse(t *testing.T) {
	st := newFixture(t)
	e := newEngine(st)

	// Hold the alice lookup until the carol one has been issued.
	carolAsked := make(chan struct{})
	st.BeforeQueryView = func(ctx context.Context, view string, r docstore.Range) {
		switch r.Start.Text {
		case "carol":
			close(carolAsked)
		case "alice":
			select {
			case <-carolAsked:
			case <-ctx.Done():
			}
		}
	}
	convs, err := e.QueryByInvolvedContacts(context.Background(), []string{"alice", "carol"})
	if err != nil {
		t.Fatalf("QueryByInvolvedContacts() = %v", err)
	}
	if diff := cmp.Diff([]string{"c1"}, convIDs(convs)); diff != "" {
		t.Errorf("conversations mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreFailureIsAllOrNothing(t *testing.T) {
	boom := errors.New("boom")
	for _, method := range []string{"QueryView", "FetchByKeys", "FetchDocs"} {
		st := newFixture(t)
		st.Fail = func(m, target string) error {
			if m == method {
				return boom
			}
			return nil
		}
		q := newEngine(st).NewQuery([]Constraint{{
			View:  docstore.ByInvolves,
			Range: docstore.Range{Start: docstore.Key{Text: "bob"}, End: docstore.Key{Text: "bob", Time: MaxTimestamp}},
		}})
		convs, err := q.Run(context.Background())
		if errors.Cause(err) != boom {
			t.Errorf("%s failing: Run() = %v, want cause %v", method, err, boom)
		}
		if convs != nil {
			t.Errorf("%s failing: Run() returned %d conversations with an error", method, len(convs))
		}
		if q.State() != Failed {
			t.Errorf("%s failing: State() = %v, want %v", method, q.State(), Failed)
		}
	}
}

func TestQueryTimeout(t *testing.T) {
	st := newFixture(t)
	st.BeforeQueryView = func(ctx context.Context, view string, r docstore.Range) {
		if r.Start.Text == "bob" {
			<-ctx.Done()
		}
	}
	e := newEngine(st)
	e.Timeout = 20 * time.Millisecond

	_, err := e.QueryByInvolvedContacts(context.Background(), []string{"alice", "bob"})
	if errors.Cause(err) != context.DeadlineExceeded {
		t.Errorf("QueryByInvolvedContacts() = %v, want deadline exceeded", err)
	}
}

func TestConversationsByID(t *testing.T) {
	st := newFixture(t)
	convs, err := newEngine(st).Conversations(context.Background(), []string{"c1", "missing", "c5"})
	if err != nil {
		t.Fatalf("Conversations() = %v", err)
	}
	if diff := cmp.Diff([]string{"c5", "c1"}, convIDs(convs)); diff != "" {
		t.Errorf("Conversations() mismatch (-want +got):\n%s", diff)
	}
	if n := st.Calls("QueryView"); n != 0 {
		t.Errorf("QueryView called %d times, want 0", n)
	}
}

func TestCyclicReferencesDoNotBreakThreading(t *testing.T) {
	st := docstoretest.New()
	st.PutMessages(t,
		&message.Message{ID: "a", ConversationID: "loop", Timestamp: 1, HeaderMessageID: "a@x", References: []string{"b@x"}},
		&message.Message{ID: "b", ConversationID: "loop", Timestamp: 2, HeaderMessageID: "b@x", References: []string{"a@x"}},
	)
	convs, err := newEngine(st).Conversations(context.Background(), []string{"loop"})
	if err != nil {
		t.Fatalf("Conversations() = %v", err)
	}
	c := convs[0]
	if c.Forest.Len() != 2 || len(c.Roots()) != 1 {
		t.Errorf("forest holds %d messages under %d roots, want 2 under 1", c.Forest.Len(), len(c.Roots()))
	}
	if len(c.Forest.Gaps) != 1 {
		t.Errorf("Gaps = %v, want one", c.Forest.Gaps)
	}
}

func TestStateString(t *testing.T) {
	cases := []struct {
		s    State
		want string
	}{
		{Dispatched, "dispatched"},
		{FetchingContacts, "fetching_contacts"},
		{Failed, "failed"},
		{State(42), "State(42)"},
	}
	for _, tc := range cases {
		if got := tc.s.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tc.s), got, tc.want)
		}
	}
}
