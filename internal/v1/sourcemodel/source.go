// Package sourcemodel holds per-participant media source bookkeeping:
// MediaSource, SourceGroup, and the SourceMap/Model that validate
// additions against conference-wide invariants (unique SSRCs, group
// membership, per-media-type caps).
package sourcemodel

import "mellium.im/xmpp/jid"

// MediaType distinguishes the media-type axis sources and groups belong
// to.
type MediaType string

const (
	Audio MediaType = "audio"
	Video MediaType = "video"
)

// GroupSemantics tags the semantic meaning of a SourceGroup.
type GroupSemantics string

const (
	SimulcastGroup GroupSemantics = "SIM"
	FIDGroup       GroupSemantics = "FID" // RTX pairing
)

// SSRC is a 32-bit RTP synchronization source identifier.
type SSRC uint32

// MediaSource identifies one RTP media stream by its owner, numeric
// SSRC, and media type, plus opaque signalling parameters (msid, cname,
// ...). Immutable once constructed except for the Owner tag stamped at
// ingress by Participant.ClaimSources.
type MediaSource struct {
	Owner     jid.JID
	SSRC      SSRC
	Type      MediaType
	Params    map[string]string
}

// WithOwner returns a copy of the source stamped with owner.
func (s MediaSource) WithOwner(owner jid.JID) MediaSource {
	s.Owner = owner
	return s
}

// SourceGroup is an ordered tuple of SSRCs carrying a semantic tag. Every
// SSRC it references must also appear as a MediaSource owned by the same
// participant (invariant enforced by Model.TryAdd).
type SourceGroup struct {
	Owner      jid.JID
	Type       MediaType
	Semantics  GroupSemantics
	SSRCs      []SSRC
}

func (g SourceGroup) hasSSRC(s SSRC) bool {
	for _, x := range g.SSRCs {
		if x == s {
			return true
		}
	}
	return false
}
