// Package network implements the realtime overlay: the topology of connected
// clients, address resolution, message routing, and the websocket surface.
package network

import (
	"errors"
	"strings"
	"unicode"
)

// DefaultApp is the application family assumed when an address carries no
// '#app' tag.
const DefaultApp = "netsblox"

// Role tags understood by the resolver.
const (
	EveryoneInRoom = "everyone in room"
	OthersInRoom   = "others in room"
	AnyRole        = "*"
)

// ErrInvalidAddress is returned for addresses with no '@' separator.
var ErrInvalidAddress = errors.New("invalid address")

// Address is a parsed overlay address of the form "role@project@owner #app".
// Target is everything before the last '@' (e.g. "role@project"); Owner runs
// from after it to the first whitespace or '#'; AppIDs are the lowercased
// '#' tags, defaulting to [DefaultApp].
type Address struct {
	Target string
	Owner  string
	AppIDs []string
}

// ParseAddress splits an address at its last '@'. The owner segment ends at
// the first whitespace or '#'; everything after is app tags. Multiple tags
// fan the message out to each app family.
func ParseAddress(addr string) (Address, error) {
	index := strings.LastIndexByte(addr, '@')
	if index < 0 {
		return Address{}, ErrInvalidAddress
	}

	target := addr[:index]
	rest := addr[index+1:]

	ownerEnd := len(rest)
	for i, c := range rest {
		if unicode.IsSpace(c) || c == '#' {
			ownerEnd = i
			break
		}
	}
	owner := rest[:ownerEnd]

	var appIDs []string
	var current strings.Builder
	for _, c := range rest[ownerEnd:] {
		if unicode.IsSpace(c) || c == '#' {
			if current.Len() > 0 {
				appIDs = append(appIDs, current.String())
				current.Reset()
			}
			continue
		}
		current.WriteRune(unicode.ToLower(c))
	}
	if current.Len() > 0 {
		appIDs = append(appIDs, current.String())
	}
	if len(appIDs) == 0 {
		appIDs = []string{DefaultApp}
	}

	return Address{Target: target, Owner: owner, AppIDs: appIDs}, nil
}

// AppString is the address used for routing within an app family, without
// the app tags.
func (a Address) AppString() string {
	return a.Target + "@" + a.Owner
}

// RoleAndProject splits the target into its role and project segments. The
// project is the last segment; the role, when present, is the one before it.
// An absent role (target is just the project name) returns role == "".
func (a Address) RoleAndProject() (role, projectName string) {
	segments := strings.Split(a.Target, "@")
	projectName = segments[len(segments)-1]
	if len(segments) > 1 {
		role = segments[len(segments)-2]
	}
	return role, projectName
}
