package conversation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/matta/cloda/internal/contact"
	"github.com/matta/cloda/internal/message"
	"github.com/matta/cloda/internal/view"
)

func buildConversation(msgs ...*message.Message) *Conversation {
	b := newBuilder("c")
	for _, m := range msgs {
		b.add(m)
	}
	none := func(string) *contact.Contact { return nil }
	return b.build(func(m *message.Message) *view.Message { return view.Wrap(m, nil, none) }, none)
}

func TestSummary(t *testing.T) {
	bob := message.IdentityID{Type: "email", Value: "bob@example.com"}
	carol := message.IdentityID{Type: "twitter", Value: "carol"}
	c := buildConversation(
		&message.Message{ID: "m3", Timestamp: 30, Subject: "", Tags: []string{TagSeen},
			Envelope: &message.Envelope{From: bob, To: []message.IdentityID{aliceEmail}}},
		&message.Message{ID: "m1", Timestamp: 10, Subject: "first",
			Envelope: &message.Envelope{From: aliceEmail, Cc: []message.IdentityID{carol}}},
		&message.Message{ID: "gone", Timestamp: 50, Subject: "deleted one", Tags: []string{TagDeleted},
			Envelope: &message.Envelope{From: message.IdentityID{Type: "email", Value: "spam@example.com"}}},
		&message.Message{ID: "m2", Timestamp: 20, Subject: "second"},
		&message.Message{ID: "m4", Timestamp: 40, Subject: "old news", Tags: []string{TagArchived}},
		&message.Message{ID: "m5", Timestamp: 35, Subject: "latest", Tags: []string{TagSeen}},
	)

	s := c.Summary()
	if s.Subject != "latest" {
		t.Errorf("Subject = %q, want %q", s.Subject, "latest")
	}
	if diff := cmp.Diff([]string{"m5", "m3", "m2", "m1"}, s.MessageIDs); diff != "" {
		t.Errorf("MessageIDs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"m2", "m1"}, s.UnreadIDs); diff != "" {
		t.Errorf("UnreadIDs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]message.IdentityID{aliceEmail, bob, carol}, s.Identities); diff != "" {
		t.Errorf("Identities mismatch (-want +got):\n%s", diff)
	}
	if s.Earliest != 10 || s.Latest != 35 {
		t.Errorf("span = [%d, %d], want [10, 35]", s.Earliest, s.Latest)
	}
	var recent []string
	for _, m := range s.Recent {
		recent = append(recent, m.ID())
	}
	if diff := cmp.Diff([]string{"m5", "m3", "m2"}, recent); diff != "" {
		t.Errorf("Recent mismatch (-want +got):\n%s", diff)
	}
}

func TestSummaryAllHidden(t *testing.T) {
	c := buildConversation(&message.Message{ID: "m1", Timestamp: 10, Subject: "x", Tags: []string{TagDeleted}})
	s := c.Summary()
	if s.Subject != "" || len(s.MessageIDs) != 0 || s.Earliest != 0 {
		t.Errorf("Summary() = %+v, want empty summary", s)
	}
}

func TestBuilderSpan(t *testing.T) {
	c := buildConversation(
		&message.Message{ID: "b", Timestamp: 20},
		&message.Message{ID: "a", Timestamp: 5},
	)
	if c.Oldest != 5 || c.Newest != 20 {
		t.Errorf("span = [%d, %d], want [5, 20]", c.Oldest, c.Newest)
	}
	if c.Messages[0].ID() != "a" {
		t.Errorf("Messages[0] = %s, want a", c.Messages[0].ID())
	}
}
