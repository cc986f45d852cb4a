// Package swarm implements the broadcast transport (C9): a best-effort,
// at-most-once UDP datagram layer carrying VisualImageDescArray and
// LoopEdge messages between agents, plus the discover-mode/lazy-
// broadcast peer-state policy that decides what each broadcast carries.
package swarm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/luacghee/D2SLAM/internal/types"
)

// messageKind tags the payload that follows on the wire, since both
// VisualImageDescArray and LoopEdge share one broadcast socket (§4.6).
type messageKind uint8

const (
	kindDescriptor messageKind = iota + 1
	kindLoopEdge
)

// envelope is the on-wire frame: a one-byte kind tag followed by the
// cbor-encoded payload. cbor (already in the teacher's dependency tree
// as an indirect transitive pull, promoted here to a direct, exercised
// dependency) gives a compact self-describing binary codec without
// hand-rolling one or reaching for protobuf, which would require
// generated code this module does not fabricate.
type envelope struct {
	Kind    messageKind
	Desc    *types.VisualImageDescArray `cbor:"desc,omitempty"`
	Edge    *types.LoopEdge             `cbor:"edge,omitempty"`
}

// EncodeDescriptor serializes a keyframe descriptor for broadcast.
func EncodeDescriptor(desc types.VisualImageDescArray) ([]byte, error) {
	b, err := cbor.Marshal(envelope{Kind: kindDescriptor, Desc: &desc})
	if err != nil {
		return nil, fmt.Errorf("swarm: encode descriptor: %w", err)
	}
	return b, nil
}

// EncodeLoopEdge serializes a loop edge for broadcast.
func EncodeLoopEdge(edge types.LoopEdge) ([]byte, error) {
	b, err := cbor.Marshal(envelope{Kind: kindLoopEdge, Edge: &edge})
	if err != nil {
		return nil, fmt.Errorf("swarm: encode loop edge: %w", err)
	}
	return b, nil
}

// Message is a decoded datagram: exactly one of Desc or Edge is set.
type Message struct {
	Desc *types.VisualImageDescArray
	Edge *types.LoopEdge
}

// Decode parses a datagram produced by EncodeDescriptor or EncodeLoopEdge.
func Decode(b []byte) (Message, error) {
	var env envelope
	if err := cbor.Unmarshal(b, &env); err != nil {
		return Message{}, fmt.Errorf("swarm: decode: %w", err)
	}
	switch env.Kind {
	case kindDescriptor:
		if env.Desc == nil {
			return Message{}, fmt.Errorf("swarm: decode: descriptor envelope missing payload")
		}
		return Message{Desc: env.Desc}, nil
	case kindLoopEdge:
		if env.Edge == nil {
			return Message{}, fmt.Errorf("swarm: decode: loop-edge envelope missing payload")
		}
		return Message{Edge: env.Edge}, nil
	default:
		return Message{}, fmt.Errorf("swarm: decode: unknown message kind %d", env.Kind)
	}
}
