package conversation

import (
	"sort"

	"github.com/matta/cloda/internal/message"
	"github.com/matta/cloda/internal/view"
)

// Tags that affect summaries.
const (
	TagSeen     = "seen"
	TagDeleted  = "deleted"
	TagArchived = "archived"
)

// Summary describes the live messages of a conversation: those neither
// deleted nor archived.
type Summary struct {
	// The last non-empty subject, in time order.
	Subject string

	// Live message ids, newest first.
	MessageIDs []string

	// Live messages without the seen tag, newest first.
	UnreadIDs []string

	// Identities named as sender or recipient, sorted.
	Identities []message.IdentityID

	Earliest int64
	Latest   int64

	// The three newest live messages.
	Recent []*view.Message
}

// Summary summarizes c.
func (c *Conversation) Summary() *Summary {
	s := &Summary{}
	var live []*view.Message
	idtys := make(map[message.IdentityID]bool)
	for _, m := range c.Messages {
		if m.HasTag(TagDeleted) || m.HasTag(TagArchived) {
			continue
		}
		live = append(live, m)
		if subj := m.Subject(); subj != "" {
			s.Subject = subj
		}
		if len(live) == 1 || m.Timestamp() < s.Earliest {
			s.Earliest = m.Timestamp()
		}
		if len(live) == 1 || m.Timestamp() > s.Latest {
			s.Latest = m.Timestamp()
		}
		if env := m.Raw().Envelope; env != nil {
			for _, id := range env.To {
				idtys[id] = true
			}
			for _, id := range env.Cc {
				idtys[id] = true
			}
			if !env.From.IsZero() {
				idtys[env.From] = true
			}
		}
	}

	// Messages are kept oldest first, so reversing gives newest first
	// with ties in reverse arrival order.
	for i := len(live) - 1; i >= 0; i-- {
		m := live[i]
		s.MessageIDs = append(s.MessageIDs, m.ID())
		if !m.HasTag(TagSeen) {
			s.UnreadIDs = append(s.UnreadIDs, m.ID())
		}
		if len(s.Recent) < 3 {
			s.Recent = append(s.Recent, m)
		}
	}

	for id := range idtys {
		s.Identities = append(s.Identities, id)
	}
	sort.Slice(s.Identities, func(i, j int) bool {
		a, b := s.Identities[i], s.Identities[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Value < b.Value
	})
	return s
}
