// Package reorder implements the Live Reorder Buffer (spec.md §4.4): it
// accepts announced CIDs and their fetched VideoNodes, in any delivery
// order, and yields them strictly in predecessor-chain order to the
// Segment Locator.
//
// Grounded on web-app/src/components/video_player.rs's buffer_video_node /
// check_order, but with the bug spec.md §9 calls out fixed: the original
// extends the chain by looking up the tail CID as a key into the pending
// map, when entries are actually keyed by their own CID and linked by
// `previous`. This implementation matches on `previous` against the
// current tail, as the Open Question resolves it.
package reorder

import (
	"github.com/ipfs/go-cid"

	"github.com/petervdpas/vodlive/internal/model"
)

// entry is one node in the ordered chain.
type entry struct {
	cid  cid.Cid
	node model.VideoNode
}

// Buffer holds the live-stream reassembly state described in spec.md §3's
// LiveStream: the last CID handed to the Segment Locator (previous), the
// predecessor-linked chain ready to be popped (ordered), and nodes that
// arrived out of order (pending).
type Buffer struct {
	previous *cid.Cid
	ordered  []entry
	pending  map[cid.Cid]model.VideoNode
}

// New returns an empty Buffer. previous is the predecessor of whatever the
// first announced node should chain from; nil at stream start.
func New(previous *cid.Cid) *Buffer {
	return &Buffer{previous: previous, pending: map[cid.Cid]model.VideoNode{}}
}

// FetchRequest asks the caller to retrieve the node at CID, because the
// chain needs it to extend backwards.
type FetchRequest struct {
	CID cid.Cid
}

// OnNode feeds one fetched (cid, node) pair into the buffer. It returns a
// FetchRequest when the node was out of order and its predecessor must
// still be fetched to link the chain; the zero FetchRequest
// (needFetch=false) otherwise.
func (b *Buffer) OnNode(id cid.Cid, node model.VideoNode) (req FetchRequest, needFetch bool) {
	tail, hasTail := b.tailCID()

	switch {
	case !hasTail && samePrev(node.Previous, b.previous):
		b.ordered = append(b.ordered, entry{cid: id, node: node})
	case hasTail && node.Previous != nil && *node.Previous == tail:
		b.ordered = append(b.ordered, entry{cid: id, node: node})
	default:
		b.pending[id] = node
		if node.Previous != nil {
			return FetchRequest{CID: *node.Previous}, true
		}
		return FetchRequest{}, false
	}

	b.extend()
	return FetchRequest{}, false
}

// extend repeatedly promotes pending nodes whose `previous` matches the
// current tail into the ordered chain. This is the corrected version of
// the reference's check_order: it matches by the `previous` field, never
// by treating the tail CID as a map key into `pending`.
func (b *Buffer) extend() {
	for {
		tail, ok := b.tailCID()
		if !ok {
			return
		}
		found := false
		for id, node := range b.pending {
			if node.Previous != nil && *node.Previous == tail {
				delete(b.pending, id)
				b.ordered = append(b.ordered, entry{cid: id, node: node})
				found = true
				break
			}
		}
		if !found {
			return
		}
	}
}

func (b *Buffer) tailCID() (cid.Cid, bool) {
	if len(b.ordered) == 0 {
		return cid.Cid{}, false
	}
	return b.ordered[len(b.ordered)-1].cid, true
}

func samePrev(prev *cid.Cid, want *cid.Cid) bool {
	if prev == nil && want == nil {
		return true
	}
	if prev == nil || want == nil {
		return false
	}
	return *prev == *want
}

// Pop removes and returns the head of the ordered chain, advancing
// `previous` to the popped CID. ok is false when the chain is empty (live
// mode with nothing ready yet — spec.md §4.3 "if empty, yield nothing").
func (b *Buffer) Pop() (id cid.Cid, node model.VideoNode, ok bool) {
	if len(b.ordered) == 0 {
		return cid.Cid{}, model.VideoNode{}, false
	}
	head := b.ordered[0]
	b.ordered = b.ordered[1:]
	b.previous = &head.cid
	return head.cid, head.node, true
}

// Len reports the number of nodes ready to be popped.
func (b *Buffer) Len() int { return len(b.ordered) }

// Previous returns the last CID popped (or the chain's starting
// predecessor if nothing has been popped yet).
func (b *Buffer) Previous() *cid.Cid { return b.previous }
