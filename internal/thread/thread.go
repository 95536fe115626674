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

// Package thread arranges the messages of a conversation into reply
// trees using their References headers.
package thread

import (
	"sort"
)

// Threadable is implemented by anything that can be threaded.
type Threadable interface {
	// MessageID returns the RFC 822 Message-ID.
	MessageID() string

	// ReferenceIDs returns the References header, ordered oldest
	// to newest.
	ReferenceIDs() []string

	// Time returns the message timestamp.
	Time() int64
}

// Node places one message in a reply tree.
type Node[T Threadable] struct {
	Item     T
	Parent   *Node[T]
	Children []*Node[T]
}

// Walk calls fn for n and every descendant, depth first in child
// order, with the depth of each node below n.
func (n *Node[T]) Walk(fn func(node *Node[T], depth int)) {
	n.walk(fn, 0)
}

func (n *Node[T]) walk(fn func(*Node[T], int), depth int) {
	fn(n, depth)
	for _, c := range n.Children {
		c.walk(fn, depth+1)
	}
}

// isAncestor reports whether n is a or an ancestor of a.
func (n *Node[T]) isAncestor(a *Node[T]) bool {
	for p := a; p != nil; p = p.Parent {
		if p == n {
			return true
		}
	}
	return false
}

// Gap records a reference that was ignored because following it
// would have made a message its own ancestor.
type Gap struct {
	MessageID string
	Reference string
}

// Forest is the result of threading a set of messages.
type Forest[T Threadable] struct {
	// Parentless messages, sorted by ascending time.
	Roots []*Node[T]

	// References skipped to keep the forest acyclic.
	Gaps []Gap
}

// Len returns the number of messages in the forest.
func (f *Forest[T]) Len() int {
	n := 0
	for _, r := range f.Roots {
		r.Walk(func(*Node[T], int) { n++ })
	}
	return n
}

// Build threads items.  Each message's parent is the message named by
// its most recent reference that is present in items; a message with
// no such reference is a root.  When two items share a Message-ID the
// later one is the one references resolve to.  Children keep the
// order of items.
func Build[T Threadable](items []T) *Forest[T] {
	nodes := make([]*Node[T], len(items))
	byID := make(map[string]*Node[T], len(items))
	for i, item := range items {
		nodes[i] = &Node[T]{Item: item}
		byID[item.MessageID()] = nodes[i]
	}

	f := &Forest[T]{}
	for _, n := range nodes {
		refs := n.Item.ReferenceIDs()
		for i := len(refs) - 1; i >= 0; i-- {
			parent, ok := byID[refs[i]]
			if !ok {
				continue
			}
			if n.isAncestor(parent) {
				f.Gaps = append(f.Gaps, Gap{MessageID: n.Item.MessageID(), Reference: refs[i]})
				continue
			}
			n.Parent = parent
			parent.Children = append(parent.Children, n)
			break
		}
	}

	for _, n := range nodes {
		if n.Parent == nil {
			f.Roots = append(f.Roots, n)
		}
	}
	sort.SliceStable(f.Roots, func(i, j int) bool {
		return f.Roots[i].Item.Time() < f.Roots[j].Item.Time()
	})
	return f
}
