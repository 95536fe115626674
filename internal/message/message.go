package message

// This file provides the common data objects used by the rest of the
// program.  Every type here mirrors a JSON document kept in the
// document store; none of them carry derived or resolved state.

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// EnvelopeSchema names the embedded schema that carries the identity
// references of a message body.
const EnvelopeSchema = "rd.msg.body"

// IdentityID defines the compound key of an identity: its type (for
// example "email" or "twitter") and the type specific value.
type IdentityID struct {
	Type  string
	Value string
}

// String returns the registry form of the key, matching the way the
// store renders a two element key array as text.
func (id IdentityID) String() string {
	return id.Type + "," + id.Value
}

// IsZero reports whether id names nothing.
func (id IdentityID) IsZero() bool {
	return id.Type == "" && id.Value == ""
}

// ParseIdentityID parses "type:value" or "type,value".
func ParseIdentityID(s string) (IdentityID, error) {
	i := strings.IndexAny(s, ":,")
	if i <= 0 || i == len(s)-1 {
		return IdentityID{}, fmt.Errorf("malformed identity %q, want type:value", s)
	}
	return IdentityID{Type: s[:i], Value: s[i+1:]}, nil
}

// MarshalJSON encodes the id as a two element array.
func (id IdentityID) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{id.Type, id.Value})
}

// UnmarshalJSON decodes a two element array.
func (id *IdentityID) UnmarshalJSON(b []byte) error {
	var pair []string
	if err := json.Unmarshal(b, &pair); err != nil {
		return errors.Wrap(err, "identity id")
	}
	if len(pair) != 2 {
		return errors.Errorf("identity id has %d elements, want 2", len(pair))
	}
	id.Type, id.Value = pair[0], pair[1]
	return nil
}

// BodyPart is one node of a message body tree.  A node either holds
// content (ContentType and Data) or a list of sub parts.
type BodyPart struct {
	ContentType string      `json:"content_type,omitempty"`
	Data        string      `json:"data,omitempty"`
	Parts       []*BodyPart `json:"parts,omitempty"`
}

// Envelope holds the identity references found in a message body.
type Envelope struct {
	From IdentityID   `json:"from"`
	To   []IdentityID `json:"to,omitempty"`
	Cc   []IdentityID `json:"cc,omitempty"`
	Bcc  []IdentityID `json:"bcc,omitempty"`
}

// Message defines a stored message.  Once ingested it is only ever
// changed through tagging.
type Message struct {
	// The permanent and unique ID of the message document.
	ID string `json:"_id"`

	// The ID of the conversation the message belongs to.
	ConversationID string `json:"conversation_id"`

	// Seconds since the epoch.
	Timestamp int64 `json:"timestamp"`

	// The RFC 822 Message-ID header, without angle brackets.
	HeaderMessageID string `json:"header_message_id"`

	// The References header, ordered oldest to newest.
	References []string `json:"references"`

	FromContactID      string   `json:"from_contact_id,omitempty"`
	ToContactIDs       []string `json:"to_contact_ids,omitempty"`
	CcContactIDs       []string `json:"cc_contact_ids,omitempty"`
	InvolvesContactIDs []string `json:"involves_contact_ids,omitempty"`

	Subject  string    `json:"subject,omitempty"`
	BodyPart *BodyPart `json:"body_part,omitempty"`

	// Nil until the first tag is added.
	Tags []string `json:"tags,omitempty"`

	Envelope *Envelope `json:"rd.msg.body,omitempty"`
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	c := *m
	c.References = cloneStrings(m.References)
	c.ToContactIDs = cloneStrings(m.ToContactIDs)
	c.CcContactIDs = cloneStrings(m.CcContactIDs)
	c.InvolvesContactIDs = cloneStrings(m.InvolvesContactIDs)
	c.Tags = cloneStrings(m.Tags)
	c.BodyPart = m.BodyPart.clone()
	if m.Envelope != nil {
		e := *m.Envelope
		e.To = append([]IdentityID(nil), e.To...)
		e.Cc = append([]IdentityID(nil), e.Cc...)
		e.Bcc = append([]IdentityID(nil), e.Bcc...)
		c.Envelope = &e
	}
	return &c
}

// HasTag reports whether the message carries the named tag.
func (m *Message) HasTag(name string) bool {
	for _, t := range m.Tags {
		if t == name {
			return true
		}
	}
	return false
}

func (p *BodyPart) clone() *BodyPart {
	if p == nil {
		return nil
	}
	c := *p
	if p.Parts != nil {
		c.Parts = make([]*BodyPart, len(p.Parts))
		for i, sub := range p.Parts {
			c.Parts[i] = sub.clone()
		}
	}
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

// ContactDoc defines a stored contact.
type ContactDoc struct {
	ID   string `json:"_id"`
	Name string `json:"name,omitempty"`
}

// IdentityDoc defines a stored identity.
type IdentityDoc struct {
	ID IdentityID `json:"identity_id"`

	Name  string `json:"name,omitempty"`
	URL   string `json:"url,omitempty"`
	Image string `json:"image,omitempty"`

	// The contacts this identity is attached to.
	Contacts []string `json:"contacts,omitempty"`
}

// Profile defines per-store information reported after an import.
type Profile struct {
	Messages   int
	Contacts   int
	Identities int
}
