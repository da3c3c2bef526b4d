// Package wireerr maps the internal failure vocabulary (internal/focuserr)
// onto the XMPP stanza-error conditions a focus process sends back over
// the wire (RFC 6120 §8.3.3, via mellium.im/xmpp/stanza). Nothing upstream
// of the XMPP transport boundary should construct a stanza.Error directly;
// everything funnels through here so the condition mapping stays in one
// place.
package wireerr

import (
	"mellium.im/xmpp/stanza"

	"github.com/jitsi-focus-go/focus/internal/v1/focuserr"
)

// From converts an internal *focuserr.Error into the stanza.Error a
// JingleChannel or MucRoom collaborator sends to the offending JID. A nil
// or KindNone error returns the zero stanza.Error and false.
func From(err error) (stanza.Error, bool) {
	kind := focuserr.KindOf(err)
	if kind == focuserr.KindNone || kind == focuserr.KindCancelled {
		return stanza.Error{}, false
	}

	se := stanza.Error{Text: err.Error()}
	switch kind {
	case focuserr.KindInvalidSources:
		se.Type = stanza.Modify
		se.Condition = stanza.BadRequest
	case focuserr.KindNoBridgeAvailable:
		se.Type = stanza.Wait
		se.Condition = stanza.ServiceUnavailable
	case focuserr.KindBridgeFailure:
		se.Type = stanza.Wait
		se.Condition = stanza.InternalServerError
	case focuserr.KindNotAllowed:
		se.Type = stanza.Auth
		se.Condition = stanza.Forbidden
	case focuserr.KindRoomNotFound:
		se.Type = stanza.Cancel
		se.Condition = stanza.ItemNotFound
	case focuserr.KindTimeout:
		se.Type = stanza.Wait
		se.Condition = stanza.RemoteServerTimeout
	default:
		se.Type = stanza.Cancel
		se.Condition = stanza.UndefinedCondition
	}
	return se, true
}
