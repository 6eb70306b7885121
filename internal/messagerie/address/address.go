// Package address parses a raw messaging address handle (e.g.
// "@alice/example.com") into its user and dns parts. Grounded on
// AdresseMessagerie::new in message_structs.rs.
package address

import (
	"strings"

	"github.com/millegrilles/messagerie/internal/messagerie/constants"
)

// Address is a parsed destinatee handle.
type Address struct {
	Destinataire string
	User         string
	DNS          string
}

// Parse strips the leading "@" marker and splits on the first "/" to
// separate the username from the hosting installation's DNS label. It
// returns ok=false for any handle that doesn't match this shape; malformed
// destinatees are dropped by the caller with a log, never treated as an
// error.
func Parse(raw string) (Address, bool) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, constants.AdressePrefixeUsager) {
		return Address{}, false
	}
	s = strings.TrimPrefix(s, constants.AdressePrefixeUsager)

	idx := strings.Index(s, "/")
	if idx <= 0 || idx == len(s)-1 {
		return Address{}, false
	}

	return Address{
		Destinataire: raw,
		User:         s[:idx],
		DNS:          s[idx+1:],
	}, true
}

// UniqueDNS returns the de-duplicated set of dns labels across a batch of
// parsed addresses, preserving first-seen order.
func UniqueDNS(addrs []Address) []string {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if _, ok := seen[a.DNS]; ok {
			continue
		}
		seen[a.DNS] = struct{}{}
		out = append(out, a.DNS)
	}
	return out
}
