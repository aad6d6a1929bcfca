// Package compliance implements the multi-label compliance classifier:
// every matching category gets an independent score with reasons, then the
// set collapses to a single winner via score-then-priority tie-break.
// Classification is a pure function of (transaction, address book, loaded
// config) and is safe for concurrent use.
package compliance

import "strings"

// AddressBook is the set of addresses owned by the account holder.
// Immutable after construction; used only to detect internal transfers.
type AddressBook struct {
	owned map[string]struct{}
}

// NewAddressBook builds an address book from owned addresses.
// Addresses are normalized case-insensitively; blanks are dropped.
func NewAddressBook(addresses []string) *AddressBook {
	owned := make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		key := normalizeAddress(addr)
		if key == "" {
			continue
		}
		owned[key] = struct{}{}
	}
	return &AddressBook{owned: owned}
}

// IsOwned reports whether the address belongs to the account holder.
// Empty input and a nil book both return false.
func (b *AddressBook) IsOwned(address string) bool {
	if b == nil {
		return false
	}
	key := normalizeAddress(address)
	if key == "" {
		return false
	}
	_, ok := b.owned[key]
	return ok
}

// Size returns the number of owned addresses.
func (b *AddressBook) Size() int {
	if b == nil {
		return 0
	}
	return len(b.owned)
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
