package recipient

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// maxAddressLength bounds a full address per RFC 3696 errata.
const maxAddressLength = 320

var addressPattern = regexp.MustCompile("^[A-Za-z0-9_!#$%&'*+/=?`{|}~^.-]+@[A-Za-z0-9.-]+$")

// ErrInvalidAddress is returned for addresses that fail the address grammar.
var ErrInvalidAddress = errors.New("invalid email address")

// NormalizeAddress validates address and returns its lower-cased form.
func NormalizeAddress(address string) (string, error) {
	trimmed := strings.TrimSpace(address)

	switch {
	case trimmed == "":
		return "", fmt.Errorf("%w: address is empty", ErrInvalidAddress)
	case len(trimmed) > maxAddressLength:
		return "", fmt.Errorf("%w: %d characters exceeds %d", ErrInvalidAddress, len(trimmed), maxAddressLength)
	case strings.HasSuffix(trimmed, "."):
		return "", fmt.Errorf("%w: %q ends with '.'", ErrInvalidAddress, trimmed)
	case !addressPattern.MatchString(trimmed):
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, trimmed)
	}

	return strings.ToLower(trimmed), nil
}

// Role is the header a recipient is addressed through.
type Role uint8

const (
	// To is the primary recipient role.
	To Role = iota
	// Cc is the carbon-copy role.
	Cc
	// Bcc is the blind carbon-copy role.
	Bcc
)

// ErrInvalidRole is returned by ParseRole for unknown role names.
var ErrInvalidRole = errors.New("invalid recipient role")

func (r Role) String() string {
	switch r {
	case Cc:
		return "cc"
	case Bcc:
		return "bcc"
	default:
		return "to"
	}
}

// ParseRole converts "to", "cc" or "bcc" (any case) into a Role. An empty
// string yields To.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "to":
		return To, nil
	case "cc":
		return Cc, nil
	case "bcc":
		return Bcc, nil
	default:
		return To, fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// JoinAddresses joins the normalized address of every recipient with sep.
func JoinAddresses(recipients []*Recipient, sep string) string {
	addresses := make([]string, 0, len(recipients))
	for _, r := range recipients {
		addresses = append(addresses, r.Address())
	}
	return strings.Join(addresses, sep)
}
