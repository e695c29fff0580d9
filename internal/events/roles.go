// internal/events/roles.go
package events

import (
	"fmt"
	"strings"
)

// AddressFields lists the event argument names that carry ledger addresses
// and are translated to role names when known.
var AddressFields = []string{"sender", "receiver", "verifier", "from", "to", "buyer", "seller", "owner"}

// RoleBook maps ledger addresses to human-readable role names. It is built
// once and never mutated; reconfiguration builds a new one.
type RoleBook struct {
	names map[string]string
}

// NewRoleBook builds a snapshot from role name to address.
func NewRoleBook(accounts map[string]string) *RoleBook {
	names := make(map[string]string, len(accounts))
	for name, addr := range accounts {
		addr = normalizeAddress(addr)
		if addr == "" || name == "" {
			continue
		}
		names[addr] = name
	}
	return &RoleBook{names: names}
}

// ParseRoleList parses "name=0xaddr,name2=0xaddr2".
func ParseRoleList(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 || strings.TrimSpace(kv[0]) == "" || strings.TrimSpace(kv[1]) == "" {
			return nil, fmt.Errorf("invalid role entry %q", part)
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out, nil
}

// With returns a new book that also knows the given roles. Existing entries
// for the same address are replaced.
func (b *RoleBook) With(accounts map[string]string) *RoleBook {
	merged := make(map[string]string, len(b.names)+len(accounts))
	for addr, name := range b.names {
		merged[addr] = name
	}
	for name, addr := range accounts {
		if addr = normalizeAddress(addr); addr != "" && name != "" {
			merged[addr] = name
		}
	}
	return &RoleBook{names: merged}
}

func (b *RoleBook) Lookup(address string) (string, bool) {
	if b == nil {
		return "", false
	}
	name, ok := b.names[normalizeAddress(address)]
	return name, ok
}

func (b *RoleBook) Len() int {
	if b == nil {
		return 0
	}
	return len(b.names)
}

// Translate returns a copy of args with known addresses replaced by role
// names. The input map is never modified.
func (b *RoleBook) Translate(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = v
	}
	if b == nil || len(b.names) == 0 {
		return out
	}
	for _, field := range AddressFields {
		raw, ok := out[field]
		if !ok {
			continue
		}
		addr, ok := raw.(string)
		if !ok {
			continue
		}
		if name, found := b.Lookup(addr); found {
			out[field] = name
		}
	}
	return out
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
