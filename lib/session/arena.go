// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"slices"
	"strings"
	"time"

	"github.com/bureau-foundation/beacon/lib/beacon"
)

// rootID is the arena id of the session itself. It is also the parent
// action id written for session-level records.
const rootID int32 = 0

type nodeKind uint8

const (
	kindAction nodeKind = iota
	kindTracer
)

// node is an open action or web request tracer. Closed nodes are
// removed from the arena, which is what makes stale handles inert.
type node struct {
	kind   nodeKind
	parent int32
	// children lists open child ids in creation order.
	children []int32

	name          string
	startTime     time.Time
	startSequence int32

	// Action fields. actionID is the wire id ("ca"); for tracers it
	// is the parent's wire id.
	actionID int32

	// Tracer fields.
	tag           string
	bytesSent     int64
	bytesReceived int64
}

// arena holds the open nodes of one session. All access happens under
// the session mutex.
type arena struct {
	nodes map[int32]*node
	// root lists the open top-level node ids.
	root   []int32
	nextID int32
}

func newArena() arena {
	return arena{nodes: make(map[int32]*node)}
}

func (a *arena) add(parent int32, n *node) int32 {
	a.nextID++
	id := a.nextID
	n.parent = parent
	a.nodes[id] = n
	if parent == rootID {
		a.root = append(a.root, id)
	} else if owner := a.nodes[parent]; owner != nil {
		owner.children = append(owner.children, id)
	}
	return id
}

// remove detaches id from its parent and drops it.
func (a *arena) remove(id int32) {
	n := a.nodes[id]
	if n == nil {
		return
	}
	delete(a.nodes, id)
	if n.parent == rootID {
		a.root = slices.DeleteFunc(a.root, func(child int32) bool { return child == id })
	} else if owner := a.nodes[n.parent]; owner != nil {
		owner.children = slices.DeleteFunc(owner.children, func(child int32) bool { return child == id })
	}
}

func (a *arena) openChildren(id int32) int {
	if id == rootID {
		return len(a.root)
	}
	if n := a.nodes[id]; n != nil {
		return len(n.children)
	}
	return 0
}

func (a *arena) childrenOf(id int32) []int32 {
	if id == rootID {
		return slices.Clone(a.root)
	}
	if n := a.nodes[id]; n != nil {
		return slices.Clone(n.children)
	}
	return nil
}

// lookup returns the open node id of kind, or nil.
func (a *arena) lookup(id int32, kind nodeKind) *node {
	if n := a.nodes[id]; n != nil && n.kind == kind {
		return n
	}
	return nil
}

// wireParent returns the "pa" value for a record created under parent.
func (a *arena) wireParent(parent int32) int32 {
	if n := a.lookup(parent, kindAction); n != nil {
		return n.actionID
	}
	return rootID
}

func (s *Session) openActionLocked(parent int32, name string) int32 {
	return s.arena.add(parent, &node{
		kind:          kindAction,
		name:          name,
		startTime:     s.clock.Now(),
		startSequence: s.beacon.CreateSequenceNumber(),
		actionID:      s.beacon.CreateID(),
	})
}

func (s *Session) openTracerLocked(parent int32, url string) int32 {
	parentActionID := s.arena.wireParent(parent)
	sequence := s.beacon.CreateSequenceNumber()
	return s.arena.add(parent, &node{
		kind:          kindTracer,
		name:          stripQuery(url),
		startTime:     s.clock.Now(),
		startSequence: sequence,
		actionID:      parentActionID,
		tag:           s.beacon.CreateTag(parentActionID, sequence),
		bytesSent:     -1,
		bytesReceived: -1,
	})
}

// leaveActionLocked closes the action's children, serializes it and
// removes it. Returns the parent id.
func (s *Session) leaveActionLocked(id int32) int32 {
	n := s.arena.lookup(id, kindAction)
	if n == nil {
		return rootID
	}
	s.closeChildrenLocked(id)
	parentActionID := s.arena.wireParent(n.parent)
	s.beacon.AddAction(beacon.ActionRecord{
		ID:            n.actionID,
		ParentID:      parentActionID,
		Name:          n.name,
		StartTime:     n.startTime,
		EndTime:       s.clock.Now(),
		StartSequence: n.startSequence,
		EndSequence:   s.beacon.CreateSequenceNumber(),
	})
	s.arena.remove(id)
	s.childClosedLocked(n.parent)
	return n.parent
}

// cancelActionLocked discards the action and everything under it
// without serializing any of it.
func (s *Session) cancelActionLocked(id int32) int32 {
	n := s.arena.lookup(id, kindAction)
	if n == nil {
		return rootID
	}
	s.discardLocked(id)
	s.childClosedLocked(n.parent)
	return n.parent
}

func (s *Session) discardLocked(id int32) {
	for _, child := range s.arena.childrenOf(id) {
		s.discardLocked(child)
	}
	s.arena.remove(id)
}

func (s *Session) stopTracerLocked(id int32, responseCode int64) {
	n := s.arena.lookup(id, kindTracer)
	if n == nil {
		return
	}
	s.beacon.AddWebRequest(beacon.WebRequestRecord{
		ParentID:      n.actionID,
		URL:           n.name,
		StartTime:     n.startTime,
		EndTime:       s.clock.Now(),
		StartSequence: n.startSequence,
		EndSequence:   s.beacon.CreateSequenceNumber(),
		BytesSent:     n.bytesSent,
		BytesReceived: n.bytesReceived,
		ResponseCode:  responseCode,
	})
	s.arena.remove(id)
	s.childClosedLocked(n.parent)
}

// closeChildrenLocked closes every open child of id: actions are left,
// tracers are stopped with an unknown response code.
func (s *Session) closeChildrenLocked(id int32) {
	for _, child := range s.arena.childrenOf(id) {
		if n := s.arena.nodes[child]; n != nil && n.kind == kindTracer {
			s.stopTracerLocked(child, -1)
		} else {
			s.leaveActionLocked(child)
		}
	}
}

// childClosedLocked ends a session that TryEnd could not end once its
// last top-level child is gone.
func (s *Session) childClosedLocked(parent int32) {
	if parent == rootID && s.triedForEnding && !s.finished && len(s.arena.root) == 0 {
		s.endLocked(true)
	}
}

func stripQuery(url string) string {
	if index := strings.IndexAny(url, "?#"); index >= 0 {
		return url[:index]
	}
	return url
}
