// Package filter holds the pluggable abuse predicates. Production deployments
// swap in real implementations (wordlist services, Tor exit enumeration);
// the defaults here are deliberately small.
package filter

import (
	"strings"
	"sync"
)

// Text reports whether free-form text needs moderator review before it can be
// published. Library publishing and project naming consult it.
type Text interface {
	IsInappropriate(text string) bool
}

// TextFunc adapts a plain function to the Text interface.
type TextFunc func(string) bool

func (f TextFunc) IsInappropriate(text string) bool { return f(text) }

// None approves all text. Used when no filter is configured.
var None = TextFunc(func(string) bool { return false })

// Contains builds a Text predicate from a fixed term list, matched
// case-insensitively on substrings.
func Contains(terms ...string) Text {
	lowered := make([]string, len(terms))
	for i, t := range terms {
		lowered[i] = strings.ToLower(t)
	}
	return TextFunc(func(text string) bool {
		text = strings.ToLower(text)
		for _, t := range lowered {
			if t != "" && strings.Contains(text, t) {
				return true
			}
		}
		return false
	})
}

// TorExits answers whether an IP is a known Tor exit node. Signup throttling
// consults it when security.tor_block is enabled.
type TorExits interface {
	IsExit(ip string) bool
}

// StaticTorExits is a fixed exit-node set with an allowlist carve-out,
// refreshable at runtime by whatever enumerates the real list.
type StaticTorExits struct {
	mu    sync.RWMutex
	exits map[string]struct{}
	allow map[string]struct{}
}

// NewStaticTorExits creates an empty exit set with the given allowlist.
func NewStaticTorExits(allow []string) *StaticTorExits {
	allowSet := make(map[string]struct{}, len(allow))
	for _, ip := range allow {
		allowSet[ip] = struct{}{}
	}
	return &StaticTorExits{
		exits: make(map[string]struct{}),
		allow: allowSet,
	}
}

// Replace swaps in a freshly enumerated exit list.
func (s *StaticTorExits) Replace(ips []string) {
	next := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		next[ip] = struct{}{}
	}
	s.mu.Lock()
	s.exits = next
	s.mu.Unlock()
}

func (s *StaticTorExits) IsExit(ip string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.allow[ip]; ok {
		return false
	}
	_, ok := s.exits[ip]
	return ok
}
