// Package snowflake generates unique, roughly time-ordered 64-bit ids for
// chat and direct messages.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1735689600000 // 2025-01-01 00:00:00 UTC
)

// ErrNodeOutOfRange rejects node ids outside the 10-bit space.
var ErrNodeOutOfRange = errors.New("snowflake: node id must be between 0 and 1023")

// Node issues ids for one process instance. Node ids must be unique per
// instance; in production it comes from configuration.
type Node struct {
	mu   sync.Mutex
	time int64
	node int64
	step int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, ErrNodeOutOfRange
	}
	return &Node{node: node}, nil
}

// Generate returns the next id. Ids from one node are strictly increasing;
// across node restarts they remain unique as long as the clock does not run
// backwards past the last issued millisecond.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < n.time {
		// Clock moved backwards; hold at the last seen millisecond.
		now = n.time
	}

	if n.time == now {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			for now <= n.time {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		n.step = 0
	}
	n.time = now

	return ((now - epoch) << timeShift) | (n.node << nodeShift) | n.step
}
