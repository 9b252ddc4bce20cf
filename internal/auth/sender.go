package auth

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
)

// SenderAuthenticator gates live pub-sub deliveries by origin peer
// identity (spec.md §4.7): only messages from OriginPeerID are decoded and
// forwarded, everything else is dropped silently (error kind 3 in
// spec.md §7).
type SenderAuthenticator struct {
	OriginPeerID string
}

// Accept reports whether senderID matches the configured origin.
func (a SenderAuthenticator) Accept(senderID string) bool {
	return senderID == a.OriginPeerID
}

// DecodeCID decodes a pub-sub payload into a CID. It accepts both a raw
// binary CID (cid.Cast) and a multibase-prefixed textual CID — decoded
// explicitly via multibase.Decode, since the wire format depends on the
// announcing peer's CID library encoding choice (spec.md §6). The
// sentinel "Stopping" string and any other undecodable payload are
// reported as errors and must be dropped by the caller (spec.md §5
// end-of-stream, §7 kind 4).
func DecodeCID(payload []byte) (cid.Cid, error) {
	if id, err := cid.Cast(payload); err == nil {
		return id, nil
	}

	_, raw, err := multibase.Decode(string(payload))
	if err != nil {
		return cid.Cid{}, fmt.Errorf("decode multibase cid: %w", err)
	}
	return cid.Cast(raw)
}
