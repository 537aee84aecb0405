// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

// Package posgraph resolves tracked and anchored entities to local-frame
// transforms, honoring parent-relative composition.
//
// The graph is owned by the render thread: all methods are expected to be
// called from the single goroutine driving per-frame resolution. Nodes are
// held in an arena addressed by stable NodeIDs; parent links are plain ids,
// not pointers, so a destroyed parent can never dangle.
package posgraph

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/oriwave/geopose/internal/geobus"
	"github.com/oriwave/geopose/internal/geomath"
	"github.com/oriwave/geopose/internal/worldmap"
)

// maxDepth bounds the parent-chain walk during resolution. A chain deeper
// than this is treated as a cycle.
const maxDepth = 64

var (
	// ErrCycleDetected marks a parent chain that loops back on itself. This
	// is a configuration bug: the affected resolution is aborted, the
	// render loop keeps running.
	ErrCycleDetected = errors.New("cycle detected in relative position graph")
	// ErrUnknownNode is returned when an operation references a node id
	// that is not (or no longer) in the graph.
	ErrUnknownNode = errors.New("unknown node id")
)

// NodeID addresses a node in the graph arena. The zero value means "none".
type NodeID uint64

// State describes how a node is anchored.
type State int

const (
	// Unbound nodes carry a transform that is already in world-origin
	// space.
	Unbound State = iota
	// AnchoredAbsolute nodes are fixed to a geographic WorldLocation.
	AnchoredAbsolute
	// AnchoredRelative nodes compose their transform on top of a live
	// parent node.
	AnchoredRelative
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case AnchoredAbsolute:
		return "absolute"
	case AnchoredRelative:
		return "relative"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type node struct {
	id     NodeID
	entity uuid.UUID
	state  State
	own    worldmap.Transform
	parent NodeID

	lastResolved worldmap.Transform
	hasResolved  bool
	trackingLost bool
}

// Graph is an arena of relative position nodes. Faults and tracking-loss
// transitions are reported on the supplied bus.
type Graph struct {
	nodes  map[NodeID]*node
	nextID NodeID
	bus    *geobus.Bus
	binder *worldmap.OriginBinder
}

// New returns an empty Graph. The binder supplies the geographic conversion
// basis for absolute anchors and heading resolution; bus may not be nil.
func New(bus *geobus.Bus, binder *worldmap.OriginBinder) *Graph {
	return &Graph{
		nodes:  make(map[NodeID]*node),
		bus:    bus,
		binder: binder,
	}
}

// Len returns the number of live nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// AddUnbound inserts a node whose transform is already expressed in
// world-origin space.
func (g *Graph) AddUnbound(entity uuid.UUID, own worldmap.Transform) NodeID {
	return g.add(entity, Unbound, own, 0)
}

// AddAbsolute inserts a node fixed to a geographic coordinate. The
// coordinate is converted through the origin binder; before a reliable fix
// has been bound this fails with worldmap.ErrNotYetBound and the entity
// simply does not appear yet.
func (g *Graph) AddAbsolute(entity uuid.UUID, coordinate geomath.Coordinate) (NodeID, error) {
	loc, err := g.binder.WorldLocationFor(coordinate)
	if err != nil {
		return 0, err
	}
	return g.add(entity, AnchoredAbsolute, loc.Transform, 0), nil
}

// AddRelative inserts a node whose transform composes on top of a parent.
func (g *Graph) AddRelative(entity uuid.UUID, parent NodeID, own worldmap.Transform) (NodeID, error) {
	if _, ok := g.nodes[parent]; !ok {
		return 0, ErrUnknownNode
	}
	return g.add(entity, AnchoredRelative, own, parent), nil
}

func (g *Graph) add(entity uuid.UUID, state State, own worldmap.Transform, parent NodeID) NodeID {
	g.nextID++
	id := g.nextID
	g.nodes[id] = &node{
		id:     id,
		entity: entity,
		state:  state,
		own:    own,
		parent: parent,
	}
	return id
}

// Remove destroys a node. Children keep their parent id; they fall back to
// world-origin-relative placement the next time they are resolved.
func (g *Graph) Remove(id NodeID) error {
	if _, ok := g.nodes[id]; !ok {
		return ErrUnknownNode
	}
	delete(g.nodes, id)
	return nil
}

// SetTransform updates a node's own (offset) transform, e.g. when the
// tracked real-world object moves.
func (g *Graph) SetTransform(id NodeID, own worldmap.Transform) error {
	n, ok := g.nodes[id]
	if !ok {
		return ErrUnknownNode
	}
	n.own = own
	return nil
}

// SetParent reattaches a node to a new parent, returning it to relative
// tracking if it had previously lost its parent.
func (g *Graph) SetParent(id, parent NodeID) error {
	n, ok := g.nodes[id]
	if !ok {
		return ErrUnknownNode
	}
	if _, ok = g.nodes[parent]; !ok {
		return ErrUnknownNode
	}
	n.parent = parent
	n.state = AnchoredRelative
	n.trackingLost = false
	return nil
}

// State returns a node's anchoring state.
func (g *Graph) State(id NodeID) (State, error) {
	n, ok := g.nodes[id]
	if !ok {
		return Unbound, ErrUnknownNode
	}
	return n.state, nil
}

// Entity returns the identity of the entity a node was created for.
func (g *Graph) Entity(id NodeID) (uuid.UUID, error) {
	n, ok := g.nodes[id]
	if !ok {
		return uuid.Nil, ErrUnknownNode
	}
	return n.entity, nil
}

// Resolve computes a node's transform in the local AR frame by composing the
// parent chain. A node whose parent has been destroyed freezes at its last
// composed transform, switches to Unbound and emits a TrackingLost event
// exactly once. A parent chain deeper than maxDepth fails with
// ErrCycleDetected, reported as a ResolutionFault event; the caller's render
// loop keeps running.
func (g *Graph) Resolve(id NodeID) (worldmap.Transform, error) {
	n, ok := g.nodes[id]
	if !ok {
		return worldmap.Transform{}, ErrUnknownNode
	}

	resolved, err := g.resolve(n, 0)
	if err != nil {
		g.bus.Publish(geobus.Event{
			Kind: geobus.ResolutionFault,
			Node: uint64(id),
			Err:  err,
		})
		return worldmap.Transform{}, err
	}

	n.lastResolved = resolved
	n.hasResolved = true
	return resolved, nil
}

func (g *Graph) resolve(n *node, depth int) (worldmap.Transform, error) {
	if depth >= maxDepth {
		return worldmap.Transform{}, ErrCycleDetected
	}
	if n.parent == 0 {
		return n.own, nil
	}

	parent, ok := g.nodes[n.parent]
	if !ok {
		g.loseTracking(n)
		return n.own, nil
	}

	parentResolved, err := g.resolve(parent, depth+1)
	if err != nil {
		return worldmap.Transform{}, err
	}
	return parentResolved.Compose(n.own), nil
}

// loseTracking freezes a node at its last composed transform and detaches it
// from the destroyed parent. The transition is observable: a TrackingLost
// event fires once, never per frame.
func (g *Graph) loseTracking(n *node) {
	if n.trackingLost {
		return
	}
	n.trackingLost = true
	n.state = Unbound
	n.parent = 0
	if n.hasResolved {
		n.own = n.lastResolved
	}
	g.bus.Publish(geobus.Event{
		Kind: geobus.TrackingLost,
		Node: uint64(n.id),
	})
}
