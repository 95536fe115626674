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

package docstore

import (
	"encoding/json"

	"github.com/matta/cloda/internal/message"

	"github.com/pkg/errors"
)

// Emitted is a view row produced by a document, before it is stored.
type Emitted struct {
	View  string
	Key   Key
	Value json.RawMessage
}

// Emit computes the view rows for a document of the given database.
// Stores that materialize views call it on every write.
func Emit(db string, doc json.RawMessage) ([]Emitted, error) {
	switch db {
	case Messages:
		var m message.Message
		if err := json.Unmarshal(doc, &m); err != nil {
			return nil, errors.Wrap(err, "decoding message for views")
		}
		return emitMessage(&m)
	case Identities:
		var idty message.IdentityDoc
		if err := json.Unmarshal(doc, &idty); err != nil {
			return nil, errors.Wrap(err, "decoding identity for views")
		}
		return emitIdentity(&idty)
	}
	return nil, nil
}

func emitMessage(m *message.Message) ([]Emitted, error) {
	conv, err := json.Marshal(m.ConversationID)
	if err != nil {
		return nil, err
	}
	rows := []Emitted{{View: ByConversation, Key: Key{Text: m.ConversationID}, Value: json.RawMessage("null")}}
	seen := make(map[string]bool, len(m.InvolvesContactIDs))
	for _, cid := range m.InvolvesContactIDs {
		if seen[cid] {
			continue
		}
		seen[cid] = true
		rows = append(rows, Emitted{View: ByInvolves, Key: Key{Text: cid, Time: m.Timestamp}, Value: conv})
	}
	return rows, nil
}

func emitIdentity(idty *message.IdentityDoc) ([]Emitted, error) {
	id, err := json.Marshal(idty.ID)
	if err != nil {
		return nil, err
	}
	rows := []Emitted{{View: Megaview, Key: Key{Text: idty.ID.String()}, Value: json.RawMessage("null")}}
	for _, cid := range idty.Contacts {
		rows = append(rows, Emitted{View: ByContact, Key: Key{Text: cid}, Value: id})
	}
	return rows, nil
}

// IdentityDocID returns the document id under which an identity is
// stored.
func IdentityDocID(id message.IdentityID) string {
	return "identity:" + id.String()
}
