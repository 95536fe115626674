package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/matta/cloda/internal/contact"
	"github.com/matta/cloda/internal/conversation"
	"github.com/matta/cloda/internal/thread"
	"github.com/matta/cloda/internal/view"
)

const timeLayout = "2006-01-02 15:04"

func formatTime(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(timeLayout)
}

// oneLine collapses runs of white space, line breaks included.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func names(cs []*contact.Contact) string {
	var parts []string
	for _, c := range cs {
		parts = append(parts, c.DisplayName())
	}
	return strings.Join(parts, ", ")
}

// printSummary writes one line per conversation followed by its most
// recent live messages.
func printSummary(w io.Writer, c *conversation.Conversation) {
	s := c.Summary()
	fmt.Fprintf(w, "%s  %s  [%d/%d]  %s  (%s)\n",
		formatTime(c.Newest), c.ID, len(s.UnreadIDs), len(s.MessageIDs), s.Subject, names(c.Involves))
	for _, m := range s.Recent {
		fmt.Fprintf(w, "    %s  %s\n", formatTime(m.Timestamp()), oneLine(m.BodySnippet()))
	}
}

// printThread writes the reply trees of c, indenting replies under
// their parents.
func printThread(w io.Writer, c *conversation.Conversation) {
	fmt.Fprintf(w, "%s  %s\n", c.ID, c.Subject())
	for _, root := range c.Roots() {
		root.Walk(func(n *thread.Node[*view.Message], depth int) {
			m := n.Item
			from := "?"
			if m.From != nil {
				from = m.From.DisplayName()
			}
			fmt.Fprintf(w, "%s%s  %s  %s\n", strings.Repeat("  ", depth+1), formatTime(m.Timestamp()), from, oneLine(m.BodySnippet()))
		})
	}
}

func printContact(w io.Writer, c *contact.Contact) {
	fmt.Fprintf(w, "  %s\t%s\n", c.ID, c.DisplayName())
	for _, typ := range c.Types() {
		fmt.Fprintf(w, "    %s\t%s\n", typ, c.Slot(typ).ID.Value)
	}
}
