package sdr

import (
	"errors"
	"fmt"
	"sync"
)

// node represents an internal linked list node for the block buffer.
type node struct {
	block []complex64
	next  *node
}

// BlockBuffer is a thread-safe FIFO of I/Q sample blocks with bounded capacity.
// When full, the oldest flushCount blocks are dropped so a slow reader always
// sees recent samples rather than a backlog captured at an earlier position.
type BlockBuffer struct {
	capacity   int // Maximum number of blocks to store
	flushCount int // Number of blocks to drop when the buffer reaches capacity

	mu      sync.Mutex
	head    *node
	tail    *node
	size    int
	dropped uint64

	ready chan struct{}
}

// NewBlockBuffer creates a buffer holding up to capacity blocks that drops
// flushCount blocks when full.
//
// Parameters:
//   - capacity: maximum number of blocks to store
//   - flushCount: number of oldest blocks to drop when the buffer is full
//
// Returns an error if parameters are invalid.
func NewBlockBuffer(capacity, flushCount int) (*BlockBuffer, error) {
	if capacity <= 0 || flushCount <= 0 || flushCount > capacity {
		return nil, fmt.Errorf("invalid buffer parameters: bufferCap=%d, toFlush=%d", capacity, flushCount)
	}
	return &BlockBuffer{
		capacity:   capacity,
		flushCount: flushCount,
		ready:      make(chan struct{}, 1),
	}, nil
}

// Insert appends a block, dropping the oldest blocks first when the buffer is full.
func (b *BlockBuffer) Insert(block []complex64) error {
	if len(block) == 0 {
		return errors.New("cannot insert empty block")
	}

	b.mu.Lock()
	if b.size >= b.capacity {
		b.dropLocked(b.flushCount)
	}

	n := &node{block: block}
	if b.tail == nil {
		b.head = n
	} else {
		b.tail.next = n
	}
	b.tail = n
	b.size++
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes and returns the oldest block.
func (b *BlockBuffer) Pop() ([]complex64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.head == nil {
		return nil, false
	}

	n := b.head
	b.head = n.next
	if b.head == nil {
		b.tail = nil
	}
	b.size--
	return n.block, true
}

// Ready is signalled after an insert. A receiver should Pop until empty after each signal.
func (b *BlockBuffer) Ready() <-chan struct{} {
	return b.ready
}

// IsFull returns true if the buffer has reached its capacity.
func (b *BlockBuffer) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.size >= b.capacity
}

// Flush removes and returns up to flushCount of the oldest blocks.
func (b *BlockBuffer) Flush() [][]complex64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := min(b.flushCount, b.size)
	results := make([][]complex64, 0, count)
	for i := 0; i < count; i++ {
		results = append(results, b.head.block)
		b.head = b.head.next
	}
	if b.head == nil {
		b.tail = nil
	}
	b.size -= len(results)
	return results
}

// Clear removes all blocks.
func (b *BlockBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.head = nil
	b.tail = nil
	b.size = 0

	select {
	case <-b.ready:
	default:
	}
}

// Size returns the current number of blocks in the buffer.
func (b *BlockBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Dropped returns the number of blocks discarded because the buffer was full.
func (b *BlockBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *BlockBuffer) dropLocked(count int) {
	for i := 0; i < count && b.head != nil; i++ {
		b.head = b.head.next
		b.size--
		b.dropped++
	}
	if b.head == nil {
		b.tail = nil
	}
}
