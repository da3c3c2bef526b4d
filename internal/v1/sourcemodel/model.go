package sourcemodel

import (
	"fmt"

	"mellium.im/xmpp/jid"

	"github.com/jitsi-focus-go/focus/internal/v1/focuserr"
)

// SourceMap is a media-type-scoped collection of MediaSource and
// SourceGroup values. It is used both as a participant's owned sources
// and (via Model) as the conference-wide view used for uniqueness
// checks.
type SourceMap struct {
	sources map[MediaType]map[SSRC]MediaSource
	groups  map[MediaType][]SourceGroup
}

// NewSourceMap returns an empty SourceMap.
func NewSourceMap() *SourceMap {
	return &SourceMap{
		sources: make(map[MediaType]map[SSRC]MediaSource),
		groups:  make(map[MediaType][]SourceGroup),
	}
}

// Sources returns a snapshot slice of every MediaSource of the given
// media type. The returned slice is a copy; mutating it does not affect
// the map.
func (m *SourceMap) Sources(t MediaType) []MediaSource {
	bucket := m.sources[t]
	out := make([]MediaSource, 0, len(bucket))
	for _, s := range bucket {
		out = append(out, s)
	}
	return out
}

// AllSources returns a snapshot of every MediaSource across all media
// types.
func (m *SourceMap) AllSources() []MediaSource {
	var out []MediaSource
	for t := range m.sources {
		out = append(out, m.Sources(t)...)
	}
	return out
}

// Groups returns a snapshot slice of every SourceGroup of the given
// media type.
func (m *SourceMap) Groups(t MediaType) []SourceGroup {
	bucket := m.groups[t]
	out := make([]SourceGroup, len(bucket))
	copy(out, bucket)
	return out
}

// AllGroups returns a snapshot of every SourceGroup across all media
// types.
func (m *SourceMap) AllGroups() []SourceGroup {
	var out []SourceGroup
	for t := range m.groups {
		out = append(out, m.Groups(t)...)
	}
	return out
}

func (m *SourceMap) has(t MediaType, ssrc SSRC) bool {
	bucket, ok := m.sources[t]
	if !ok {
		return false
	}
	_, ok = bucket[ssrc]
	return ok
}

func (m *SourceMap) count(t MediaType) int {
	return len(m.sources[t])
}

// DeepCopy returns an independent copy suitable for safe propagation to
// readers concurrent with further mutation (spec §5: source maps are
// copied before propagation).
func (m *SourceMap) DeepCopy() *SourceMap {
	out := NewSourceMap()
	for t, bucket := range m.sources {
		nb := make(map[SSRC]MediaSource, len(bucket))
		for k, v := range bucket {
			nb[k] = v
		}
		out.sources[t] = nb
	}
	for t, bucket := range m.groups {
		nb := make([]SourceGroup, len(bucket))
		copy(nb, bucket)
		out.groups[t] = nb
	}
	return out
}

func (m *SourceMap) insert(s MediaSource) {
	bucket, ok := m.sources[s.Type]
	if !ok {
		bucket = make(map[SSRC]MediaSource)
		m.sources[s.Type] = bucket
	}
	bucket[s.SSRC] = s
}

func (m *SourceMap) insertGroup(g SourceGroup) {
	m.groups[g.Type] = append(m.groups[g.Type], g)
}

func (m *SourceMap) deleteSource(t MediaType, ssrc SSRC) {
	if bucket, ok := m.sources[t]; ok {
		delete(bucket, ssrc)
	}
}

// Put unconditionally stores s, bypassing Model validation. Used for
// Octo pseudo-participant bookkeeping, which mirrors sources already
// validated on their owning bridge rather than re-validating them.
func (m *SourceMap) Put(s MediaSource) {
	m.insert(s)
}

// Delete unconditionally removes the source identified by (t, ssrc).
func (m *SourceMap) Delete(t MediaType, ssrc SSRC) {
	m.deleteSource(t, ssrc)
}

// Model is the conference-wide validator: it owns the authoritative set
// of SSRCs in use (across every participant) so TryAdd can reject
// duplicates and cross-participant invariant violations atomically. It
// is not safe for concurrent use without external synchronization;
// Conference serializes access to it under participantsLock.
type Model struct {
	maxSourcesPerUser int
	owners            map[SSRC]jid.JID // conference-wide SSRC ownership
}

// NewModel returns a Model enforcing maxSourcesPerUser sources per
// media-type per participant.
func NewModel(maxSourcesPerUser int) *Model {
	return &Model{
		maxSourcesPerUser: maxSourcesPerUser,
		owners:            make(map[SSRC]jid.JID),
	}
}

// TryAdd validates newSources/newGroups against the owner's existing
// SourceMap (own) and the conference-wide uniqueness set, then commits
// them atomically. On any validation failure own and the model's
// conference-wide state are left unchanged, and a *focuserr.Error of
// kind KindInvalidSources is returned.
func (m *Model) TryAdd(owner jid.JID, own *SourceMap, newSources []MediaSource, newGroups []SourceGroup) ([]MediaSource, []SourceGroup, error) {
	seenThisRequest := make(map[SSRC]bool, len(newSources))
	perTypeNew := make(map[MediaType]int)

	for _, s := range newSources {
		if s.SSRC == 0 {
			return nil, nil, focuserr.New(focuserr.KindInvalidSources, "ssrc 0 is not a valid source identifier")
		}
		if seenThisRequest[s.SSRC] {
			return nil, nil, focuserr.New(focuserr.KindInvalidSources, "ssrc %d declared twice in the same request", s.SSRC)
		}
		if existing, ok := m.owners[s.SSRC]; ok && existing.String() != owner.String() {
			return nil, nil, focuserr.New(focuserr.KindInvalidSources, "ssrc %d already owned by %s", s.SSRC, existing)
		}
		if own.has(s.Type, s.SSRC) {
			return nil, nil, focuserr.New(focuserr.KindInvalidSources, "ssrc %d already present for this owner", s.SSRC)
		}
		seenThisRequest[s.SSRC] = true
		perTypeNew[s.Type]++
	}

	for t, n := range perTypeNew {
		if own.count(t)+n > m.maxSourcesPerUser {
			return nil, nil, focuserr.New(focuserr.KindInvalidSources, "adding %d %s sources would exceed the %d-source cap", n, t, m.maxSourcesPerUser)
		}
	}

	memberOf := func(ssrc SSRC) bool {
		if seenThisRequest[ssrc] {
			return true
		}
		return own.has(mediaTypeOfKnownSSRC(own, ssrc), ssrc)
	}

	for _, g := range newGroups {
		if len(g.SSRCs) == 0 {
			return nil, nil, focuserr.New(focuserr.KindInvalidSources, "source group has no members")
		}
		if g.Semantics == SimulcastGroup && len(g.SSRCs) < 2 {
			return nil, nil, focuserr.New(focuserr.KindInvalidSources, "simulcast group requires at least two ssrcs, got %d", len(g.SSRCs))
		}
		for _, ssrc := range g.SSRCs {
			if !memberOf(ssrc) {
				return nil, nil, focuserr.New(focuserr.KindInvalidSources, "source group references ssrc %d not owned by %s", ssrc, owner)
			}
		}
	}

	for _, s := range newSources {
		own.insert(s)
		m.owners[s.SSRC] = owner
	}
	for _, g := range newGroups {
		own.insertGroup(g)
	}
	return newSources, newGroups, nil
}

func mediaTypeOfKnownSSRC(own *SourceMap, ssrc SSRC) MediaType {
	for t, bucket := range own.sources {
		if _, ok := bucket[ssrc]; ok {
			return t
		}
	}
	return ""
}

// Remove removes the intersection of (sources, groups) with own's
// current state and the conference-wide ownership set, ignoring
// anything the owner does not actually hold. This guards against a
// participant removing another participant's sources (spec §4.1).
func (m *Model) Remove(owner jid.JID, own *SourceMap, sources []MediaSource, groups []SourceGroup) ([]MediaSource, []SourceGroup) {
	var removedSources []MediaSource
	for _, s := range sources {
		if !own.has(s.Type, s.SSRC) {
			continue
		}
		own.deleteSource(s.Type, s.SSRC)
		delete(m.owners, s.SSRC)
		removedSources = append(removedSources, s)
	}

	var removedGroups []SourceGroup
	for _, g := range groups {
		bucket := own.groups[g.Type]
		for i, existing := range bucket {
			if groupsEqual(existing, g) {
				own.groups[g.Type] = append(bucket[:i:i], bucket[i+1:]...)
				removedGroups = append(removedGroups, existing)
				break
			}
		}
	}
	return removedSources, removedGroups
}

func groupsEqual(a, b SourceGroup) bool {
	if a.Type != b.Type || a.Semantics != b.Semantics || len(a.SSRCs) != len(b.SSRCs) {
		return false
	}
	for i := range a.SSRCs {
		if a.SSRCs[i] != b.SSRCs[i] {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer for debug logging of a MediaSource.
func (s MediaSource) String() string {
	return fmt.Sprintf("%s/%d/%s", s.Type, s.SSRC, s.Owner)
}
