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

package conversation

import (
	"sort"

	"github.com/matta/cloda/internal/contact"
	"github.com/matta/cloda/internal/message"
	"github.com/matta/cloda/internal/thread"
	"github.com/matta/cloda/internal/view"
)

// Conversation is the set of messages sharing a conversation id.
type Conversation struct {
	ID string

	// Timestamps of the oldest and newest message.
	Oldest int64
	Newest int64

	// Every contact involved in any message, in first seen order.
	InvolvesContactIDs []string
	Involves           []*contact.Contact

	// Messages in ascending time order.
	Messages []*view.Message

	Forest *thread.Forest[*view.Message]
}

// Roots returns the thread roots, oldest first.
func (c *Conversation) Roots() []*thread.Node[*view.Message] {
	if c.Forest == nil {
		return nil
	}
	return c.Forest.Roots
}

// Subject returns the subject of the first message.
func (c *Conversation) Subject() string {
	if len(c.Messages) == 0 {
		return ""
	}
	return c.Messages[0].Subject()
}

// builder accumulates the stored messages of one conversation.
type builder struct {
	id       string
	msgs     []*message.Message
	involves []string
	seen     map[string]bool
}

func newBuilder(id string) *builder {
	return &builder{id: id, seen: make(map[string]bool)}
}

func (b *builder) add(m *message.Message) {
	b.msgs = append(b.msgs, m)
	for _, cid := range m.InvolvesContactIDs {
		if !b.seen[cid] {
			b.seen[cid] = true
			b.involves = append(b.involves, cid)
		}
	}
}

// build wraps and threads the collected messages.
func (b *builder) build(wrap func(*message.Message) *view.Message, lookup func(string) *contact.Contact) *Conversation {
	c := &Conversation{
		ID:                 b.id,
		InvolvesContactIDs: b.involves,
	}
	for _, cid := range b.involves {
		if ct := lookup(cid); ct != nil {
			c.Involves = append(c.Involves, ct)
		}
	}
	sort.SliceStable(b.msgs, func(i, j int) bool {
		return b.msgs[i].Timestamp < b.msgs[j].Timestamp
	})
	for i, m := range b.msgs {
		if i == 0 || m.Timestamp < c.Oldest {
			c.Oldest = m.Timestamp
		}
		if i == 0 || m.Timestamp > c.Newest {
			c.Newest = m.Timestamp
		}
		c.Messages = append(c.Messages, wrap(m))
	}
	c.Forest = thread.Build(c.Messages)
	return c
}

// sortNewestFirst orders conversations by descending Newest, then id.
func sortNewestFirst(convs []*Conversation) {
	sort.Slice(convs, func(i, j int) bool {
		if convs[i].Newest != convs[j].Newest {
			return convs[i].Newest > convs[j].Newest
		}
		return convs[i].ID < convs[j].ID
	})
}
