package whatsapp

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// LegacyUserSuffix is the user-server suffix API callers use for recipients.
const LegacyUserSuffix = "@" + types.LegacyUserServer

// NormalizeRecipient appends the user-server suffix to a bare number.
// Identifiers that already carry a server part are returned unchanged.
func NormalizeRecipient(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, "@") {
		return id
	}
	return id + LegacyUserSuffix
}

// ToJID converts an API identifier to a network JID. Legacy user-server
// identifiers map to the default user server.
func ToJID(id string) (types.JID, error) {
	normalized := NormalizeRecipient(id)
	if normalized == "" {
		return types.JID{}, fmt.Errorf("%w: empty identifier", ErrInvalidRecipient)
	}

	jid, err := types.ParseJID(normalized)
	if err != nil {
		return types.JID{}, fmt.Errorf("%w: %s: %v", ErrInvalidRecipient, id, err)
	}
	if jid.Server == types.LegacyUserServer {
		jid = types.NewJID(strings.TrimPrefix(jid.User, "+"), types.DefaultUserServer)
	}
	if jid.User == "" {
		return types.JID{}, fmt.Errorf("%w: %s: missing user", ErrInvalidRecipient, id)
	}
	return jid, nil
}

// FromJID renders a network JID in the form API callers use.
func FromJID(jid types.JID) string {
	jid = jid.ToNonAD()
	if jid.Server == types.DefaultUserServer {
		return jid.User + LegacyUserSuffix
	}
	return jid.String()
}
