// Package signalindex implements a lock-free hierarchical bitmap used to
// track which slots in a fixed-size pool are ready to run.
//
// The index is a complete binary tree flattened into a single array of
// atomic words. Leaves are 64-bit bitmaps; internal nodes hold a count of
// set bits in their subtree. Set, Select and Clear are all O(log L) where
// L is the leaf count.
package signalindex

import (
	"fmt"
	"math/bits"
	"sync/atomic"
)

// Index is a lock-free hierarchical signal bitmap.
//
// Capacity is L*64 signals, where L (LeafCount) is a power of two >= 2.
// Internal nodes store subtree counts; leaves store raw 64-bit bitmaps.
// The tree is stored breadth-first in a single slice: node 0 is the root,
// node i's children are at 2*i+1 and 2*i+2. The final LeafCount entries
// of that array are the leaves.
type Index struct {
	leafCount int
	// nodes holds 2*leafCount-1 entries: internal counters followed by
	// leaf bitmaps in breadth-first order. internal nodes occupy
	// [0, leafCount-1); leaves occupy [leafCount-1, 2*leafCount-1).
	nodes []atomic.Uint64
}

// New constructs a SignalIndex with capacity for at least `capacity`
// signals. leafCount is rounded up to the next power of two >= 2, so the
// single-leaf degenerate case (root == leaf) never occurs.
func New(capacity int) *Index {
	if capacity <= 0 {
		capacity = 1
	}
	leaves := (capacity + 63) / 64
	leaves = nextPow2(leaves)
	if leaves < 2 {
		leaves = 2
	}
	return &Index{
		leafCount: leaves,
		nodes:     make([]atomic.Uint64, 2*leaves-1),
	}
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// Capacity returns the total number of addressable signal indices (L*64).
func (x *Index) Capacity() int { return x.leafCount * 64 }

func (x *Index) leafNode(leafIdx int) int { return x.leafCount - 1 + leafIdx }

func (x *Index) checkRange(i int) {
	if i < 0 || i >= x.Capacity() {
		panic(fmt.Sprintf("signalindex: index %d out of range [0, %d)", i, x.Capacity()))
	}
}

// Set marks signal i as ready. Idempotent: setting an already-set bit is a
// no-op with respect to counters.
func (x *Index) Set(i int) {
	x.checkRange(i)
	leafIdx, bit := i/64, uint(i%64)
	mask := uint64(1) << bit
	node := &x.nodes[x.leafNode(leafIdx)]
	for {
		old := node.Load()
		if old&mask != 0 {
			return // already set, no-op
		}
		if node.CompareAndSwap(old, old|mask) {
			break
		}
	}
	x.propagateIncr(x.leafNode(leafIdx))
}

// Clear clears signal i without selecting it. Idempotent.
func (x *Index) Clear(i int) {
	x.checkRange(i)
	leafIdx, bit := i/64, uint(i%64)
	mask := uint64(1) << bit
	node := &x.nodes[x.leafNode(leafIdx)]
	for {
		old := node.Load()
		if old&mask == 0 {
			return // already clear, no-op
		}
		if node.CompareAndSwap(old, old&^mask) {
			break
		}
	}
	x.propagateDecr(x.leafNode(leafIdx))
}

// propagateIncr walks from the given node to the root, incrementing every
// ancestor's counter by one.
func (x *Index) propagateIncr(node int) {
	for node > 0 {
		parent := (node - 1) / 2
		x.nodes[parent].Add(1)
		node = parent
	}
}

// propagateDecr walks from the given node to the root, decrementing every
// ancestor's counter by one. Ancestor counters are advisory for traversal
// (used only for zero/non-zero checks), not a source of truth for
// membership — the leaf bitmap is authoritative.
func (x *Index) propagateDecr(node int) {
	const minusOne = ^uint64(0) // two's complement -1
	for node > 0 {
		parent := (node - 1) / 2
		x.nodes[parent].Add(minusOne)
		node = parent
	}
}

// Select atomically finds a set bit, clears it, and returns its index.
// bias guides traversal: bit k of *bias selects which child to prefer at
// tree level k (LSB = root level). On return, *bias is updated with a
// hint reflecting which subtrees actually had signals, so that rotating
// callers fan out fairly across the tree. ok is false if the index was
// empty when the selection attempt concluded. empty reports whether the
// root counter reached zero after this selection (only meaningful when
// ok is true).
func (x *Index) Select(bias *uint64) (index int, ok bool, empty bool) {
	if x.leafCount == 0 {
		return 0, false, true
	}
	node := 0
	level := 0
	var hint uint64
	for {
		left := 2*node + 1
		right := 2*node + 2
		isLeafLevel := right >= len(x.nodes)
		if isLeafLevel {
			break
		}
		leftCount := x.nodes[left].Load()
		rightCount := x.nodes[right].Load()
		preferRight := (*bias>>uint(level))&1 == 1
		var next int
		var wentRight bool
		switch {
		case preferRight && rightCount > 0:
			next, wentRight = right, true
		case leftCount > 0:
			next, wentRight = left, false
		case rightCount > 0:
			next, wentRight = right, true
		default:
			// Both children report empty. Another selector may be mid-flight;
			// the caller sees this as "nothing found" rather than blocking.
			return 0, false, x.nodes[0].Load() == 0
		}
		if wentRight {
			hint |= 1 << uint(level)
		}
		node = next
		level++
	}

	// node is now a leaf node index; recover its leaf slot and bit offset.
	leafIdx := node - (x.leafCount - 1)
	leaf := &x.nodes[node]
	for {
		word := leaf.Load()
		if word == 0 {
			// Lost the race: another selector cleared the last bit in this
			// leaf between our count check and now. Report empty.
			*bias = rotateHint(*bias, hint, level)
			return 0, false, x.nodes[0].Load() == 0
		}
		bitPos := bits.TrailingZeros64(word)
		newWord := word &^ (uint64(1) << uint(bitPos))
		if leaf.CompareAndSwap(word, newWord) {
			x.propagateDecr(node)
			*bias = rotateHint(*bias, hint, level)
			return leafIdx*64 + bitPos, true, x.nodes[0].Load() == 0
		}
		// contention on the leaf word: retry
	}
}

// rotateHint folds the path hint into the caller's bias word so repeated
// Select calls fan out across subtrees instead of always favoring the
// same side. It XORs in the observed path and rotates one level so the
// next call's root-level decision differs from this one's when possible.
func rotateHint(bias, hint uint64, levels int) uint64 {
	if levels == 0 {
		return bias
	}
	mask := uint64(1)<<uint(levels) - 1
	combined := (bias ^ hint) & mask
	// rotate left by one within the used levels, wrapping the top bit to
	// the bottom, so consecutive selects visit alternating subtrees.
	top := (combined >> uint(levels-1)) & 1
	rotated := ((combined << 1) | top) & mask
	return (bias &^ mask) | rotated
}

// IsEmpty reports whether the root counter is currently zero.
func (x *Index) IsEmpty() bool {
	return x.nodes[0].Load() == 0
}

// Count returns the root counter: the number of currently set bits. This
// is a snapshot; concurrent Set/Select may invalidate it immediately.
func (x *Index) Count() int {
	return int(x.nodes[0].Load())
}
