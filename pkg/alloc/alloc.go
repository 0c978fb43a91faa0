// Package alloc implements the runtime's two-pool memory allocator: a
// static pool for long-lived allocations (program text, string constants,
// control blocks) and a dynamic pool for per-call, per-object allocations
// that come and go during execution. Pool selection is governed by a
// single monotone mode-stack counter, mirroring mstatic()/mdynamic() in
// the original allocator.
package alloc

import "fmt"

// Magic tags distinguish which pool produced a Block, so Free can route
// back to the correct free-list machinery and catch cross-pool frees.
const (
	staticMagic  byte = 0xc5
	dynamicMagic byte = 0xc6
)

// Block is a single allocation. Size and Magic are the allocator's
// bookkeeping header; Data is the usable payload.
type Block struct {
	Size  int
	Magic byte
	Data  []byte

	// dynNode points back at the splayNode a large dynamic-pool block was
	// carved from, so Free can locate its address-order neighbors in O(1)
	// to coalesce with. Nil for small dynamic chunks and for every static
	// block, neither of which coalesce.
	dynNode *splayNode

	// debug leak tracking, only populated when the arena is in debug mode
	file string
	line int
	prev *Block
	next *Block
}

func (b *Block) String() string {
	return fmt.Sprintf("Block{size=%d magic=%#x}", b.Size, b.Magic)
}

// staticFree is a free list node for the static pool's small-chunk table.
type staticFree struct {
	size int
	next *staticFree
}

// largeEntry is one row of the static pool's binary-searched large-chunk
// index (sorted by size).
type largeEntry struct {
	size int
	list *staticFree
}

const (
	smallChunkBuckets = 64 // mirrors SCHUNKS: distinct small static sizes tracked
	smallChunkStep    = 8  // STRUCT_AL-equivalent alignment granularity
	staticSmallLimit  = smallChunkBuckets * smallChunkStep
	initStaticBlock   = 16384 // mirrors INIT_MEM
)

// Arena is the allocator: one static pool, one dynamic pool, and the
// mode-stack counter that routes new allocations between them.
type Arena struct {
	mode int // >0 means "in static mode" (mstatic()/mdynamic() counter)

	// static pool
	current    []byte // current bump-allocation block
	currentOff int
	smallFree  [smallChunkBuckets]*staticFree
	largeFree  []largeEntry // sorted by size, binary search like lchunk()
	staticSize int64

	// dynamic pool
	smallFreeD [smallChunkBuckets]*staticFree
	splay      *splayNode

	// debug mode
	Debug   bool
	liveHead *Block
}

// New creates an empty arena.
func New() *Arena {
	return &Arena{}
}

// EnterStatic pushes static mode, mirroring mstatic(). Calls nest; the
// arena remains in static mode until a matching LeaveStatic.
func (a *Arena) EnterStatic() {
	a.mode++
}

// LeaveStatic pops static mode, mirroring mdynamic().
func (a *Arena) LeaveStatic() {
	if a.mode == 0 {
		panic("alloc: LeaveStatic without matching EnterStatic")
	}
	a.mode--
}

// InStaticMode reports whether the arena currently routes new allocations
// to the static pool.
func (a *Arena) InStaticMode() bool {
	return a.mode > 0
}

// Alloc allocates size bytes from whichever pool the current mode
// selects. file/line are recorded for debug-mode leak reporting; pass ""
// and 0 when not tracking provenance.
func (a *Arena) Alloc(size int, file string, line int) *Block {
	if size <= 0 {
		panic("alloc: size must be positive")
	}
	var b *Block
	if a.InStaticMode() {
		b = a.allocStatic(size)
	} else {
		b = a.allocDynamic(size)
	}
	if a.Debug {
		b.file, b.line = file, line
		a.trackLive(b)
	}
	return b
}

// Free returns a block to its originating pool's free structures. The
// block's Magic tag determines which pool reclaims it; freeing a block
// whose magic does not match either pool is a programming error and
// panics, matching the original allocator's fatal() on header corruption.
func (a *Arena) Free(b *Block) {
	if a.Debug {
		a.untrackLive(b)
	}
	switch b.Magic {
	case staticMagic:
		a.freeStatic(b)
	case dynamicMagic:
		a.freeDynamic(b)
	default:
		panic("alloc: corrupt or foreign block passed to Free")
	}
}

// ---------------------------------------------------------------------------
// static pool
// ---------------------------------------------------------------------------

func smallIndex(size int) int {
	return size/smallChunkStep - 1
}

func (a *Arena) allocStatic(size int) *Block {
	round := ((size + smallChunkStep - 1) / smallChunkStep) * smallChunkStep

	if round < staticSmallLimit {
		idx := smallIndex(round)
		if idx >= 0 && idx < len(a.smallFree) && a.smallFree[idx] != nil {
			c := a.smallFree[idx]
			a.smallFree[idx] = c.next
			return &Block{Size: round, Magic: staticMagic, Data: make([]byte, round)}
		}
	} else if e := a.lchunkFind(round); e != nil && e.list != nil {
		c := e.list
		e.list = c.next
		return &Block{Size: round, Magic: staticMagic, Data: make([]byte, round)}
	}

	if a.current == nil || a.currentOff+round > len(a.current) {
		blockSize := initStaticBlock
		if round > blockSize {
			blockSize = round
		}
		a.current = make([]byte, blockSize)
		a.currentOff = 0
		a.staticSize += int64(blockSize)
	}
	data := a.current[a.currentOff : a.currentOff+round]
	a.currentOff += round
	return &Block{Size: round, Magic: staticMagic, Data: data}
}

// lchunkFind performs a binary search over the sorted large-chunk index,
// inserting a new zero-sized row if absent — mirroring lchunk(size, TRUE).
func (a *Arena) lchunkFind(size int) *largeEntry {
	lo, hi := 0, len(a.largeFree)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case a.largeFree[mid].size == size:
			return &a.largeFree[mid]
		case a.largeFree[mid].size > size:
			hi = mid
		default:
			lo = mid + 1
		}
	}
	a.largeFree = append(a.largeFree, largeEntry{})
	copy(a.largeFree[lo+1:], a.largeFree[lo:])
	a.largeFree[lo] = largeEntry{size: size}
	return &a.largeFree[lo]
}

func (a *Arena) freeStatic(b *Block) {
	if b.Size < staticSmallLimit {
		idx := smallIndex(b.Size)
		a.smallFree[idx] = &staticFree{size: b.Size, next: a.smallFree[idx]}
		return
	}
	e := a.lchunkFind(b.Size)
	e.list = &staticFree{size: b.Size, next: e.list}
}

// StaticBytes reports the total bytes obtained from the OS for the
// static pool across the arena's lifetime.
func (a *Arena) StaticBytes() int64 {
	return a.staticSize
}

// ---------------------------------------------------------------------------
// dynamic pool
// ---------------------------------------------------------------------------

const (
	dynamicSmallLimit = staticSmallLimit

	// dynamicChunkSize is the size of a fresh backing arena bump-allocated
	// for the large-chunk path when the splay tree has no fit, mirroring
	// DCHUNKSZ in the reference allocator.
	dynamicChunkSize = 64 * 1024

	// dynamicSplitMin mirrors DLIMIT: a remainder left over after carving
	// a large chunk out of a free node is only worth splitting off and
	// reinserting into the tree if it is at least this big; otherwise it
	// is handed out along with the requested chunk rather than fragmented
	// into something too small to ever satisfy a future request.
	dynamicSplitMin = 32
)

// allocDynamic services a request from the dynamic pool. Small requests
// use the same per-size free-list scheme as the static pool; large
// requests are served from the address-ordered, size-keyed splay tree of
// free chunks, splitting off any sizeable remainder, or — when nothing in
// the tree fits — by bump-allocating a fresh backing arena and splitting
// that instead. This mirrors dalloc() in the reference allocator.
func (a *Arena) allocDynamic(size int) *Block {
	round := ((size + smallChunkStep - 1) / smallChunkStep) * smallChunkStep

	if round < dynamicSmallLimit {
		idx := smallIndex(round)
		if idx >= 0 && idx < len(a.smallFreeD) && a.smallFreeD[idx] != nil {
			c := a.smallFreeD[idx]
			a.smallFreeD[idx] = c.next
			return &Block{Size: round, Magic: dynamicMagic, Data: make([]byte, round)}
		}
		return &Block{Size: round, Magic: dynamicMagic, Data: make([]byte, round)}
	}

	n := splaySeek(&a.splay, round)
	if n == nil {
		chunkSize := dynamicChunkSize
		if round > chunkSize {
			chunkSize = round
		}
		n = &splayNode{size: chunkSize, data: make([]byte, chunkSize), free: true}
	}
	return a.splitDynamic(n, round)
}

// splitDynamic carves round bytes off the front of the free node n
// (already removed from the splay tree by the caller) and returns them as
// a live Block. If what remains is large enough to be worth keeping
// (>= dynamicSplitMin), it is relinked into n's former place in the
// address-order chain and reinserted into the splay tree as a free node;
// otherwise the whole of n is handed to the caller.
func (a *Arena) splitDynamic(n *splayNode, round int) *Block {
	if n.size-round < dynamicSplitMin {
		n.free = false
		return &Block{Size: n.size, Magic: dynamicMagic, Data: n.data, dynNode: n}
	}

	rest := &splayNode{
		size: n.size - round,
		data: n.data[round:],
		free: true,
		prev: n,
		next: n.next,
	}
	if n.next != nil {
		n.next.prev = rest
	}
	n.next = rest
	splayInsert(&a.splay, rest)

	n.size = round
	n.data = n.data[:round]
	n.free = false
	return &Block{Size: n.size, Magic: dynamicMagic, Data: n.data, dynNode: n}
}

// freeDynamic returns a large dynamic-pool block to the free splay tree,
// first merging it with either address-order neighbor that is itself
// currently free. Coalescing only ever reslices contiguous backing data
// that was originally carved from the same bump-allocated arena, so the
// merge is O(1) and never copies. Mirrors dfree()'s neighbor-merge logic.
func (a *Arena) freeDynamic(b *Block) {
	if b.Size < dynamicSmallLimit {
		idx := smallIndex(b.Size)
		a.smallFreeD[idx] = &staticFree{size: b.Size, next: a.smallFreeD[idx]}
		return
	}

	n := b.dynNode
	n.free = true

	if prev := n.prev; prev != nil && prev.free {
		splayDelete(&a.splay, prev)
		prev.next = n.next
		if n.next != nil {
			n.next.prev = prev
		}
		prev.size += n.size
		prev.data = prev.data[:len(prev.data)+len(n.data)]
		n = prev
	}
	if next := n.next; next != nil && next.free {
		splayDelete(&a.splay, next)
		n.next = next.next
		if next.next != nil {
			next.next.prev = n
		}
		n.size += next.size
		n.data = n.data[:len(n.data)+len(next.data)]
	}

	splayInsert(&a.splay, n)
}

// ---------------------------------------------------------------------------
// debug-mode live-chunk tracking
// ---------------------------------------------------------------------------

func (a *Arena) trackLive(b *Block) {
	b.next = a.liveHead
	if a.liveHead != nil {
		a.liveHead.prev = b
	}
	a.liveHead = b
}

func (a *Arena) untrackLive(b *Block) {
	if b.prev != nil {
		b.prev.next = b.next
	} else if a.liveHead == b {
		a.liveHead = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	}
	b.prev, b.next = nil, nil
}

// LeakReport returns a description of every block still live, in
// most-recently-allocated-first order. Only meaningful when Debug is set.
func (a *Arena) LeakReport() []string {
	var out []string
	for b := a.liveHead; b != nil; b = b.next {
		out = append(out, fmt.Sprintf("%d bytes allocated at %s:%d", b.Size, b.file, b.line))
	}
	return out
}
