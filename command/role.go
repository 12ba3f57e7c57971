// Package command implements the chat command layer: descriptors registered
// at startup, prefix/alias resolution, role and cooldown policy, parameter
// schemas, and the dispatcher that turns chat messages into handler calls.
package command

import (
	"strings"
)

// Role is a set of privilege flags held by a user, derived from protocol tags
// combined with configured ranks.
type Role uint8

const (
	RoleSub Role = 1 << iota
	RoleVIP
	RoleMod
	RoleAdmin
	RoleOwner

	RoleNone Role = 0
)

// Has reports whether the role set contains the flag.
func (r Role) Has(flag Role) bool { return r&flag != 0 }

// Level returns the role's highest privilege tier as a Perm.
func (r Role) Level() Perm {
	switch {
	case r.Has(RoleOwner):
		return PermOwner
	case r.Has(RoleAdmin):
		return PermAdmin
	case r.Has(RoleMod):
		return PermMod
	case r.Has(RoleVIP):
		return PermVIP
	case r.Has(RoleSub):
		return PermSub
	}
	return PermEveryone
}

func (r Role) String() string {
	if r == RoleNone {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		flag Role
		name string
	}{{RoleOwner, "owner"}, {RoleAdmin, "admin"}, {RoleMod, "mod"}, {RoleVIP, "vip"}, {RoleSub, "sub"}} {
		if r.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "+")
}

// Perm is the privilege tier a command (or parameter) requires.
type Perm uint8

const (
	PermEveryone Perm = iota
	PermSub
	PermVIP
	PermMod
	PermAdmin
	PermOwner
)

var permNames = map[Perm]string{
	PermEveryone: "everyone",
	PermSub:      "sub",
	PermVIP:      "vip",
	PermMod:      "mod",
	PermAdmin:    "admin",
	PermOwner:    "owner",
}

func (p Perm) String() string { return permNames[p] }

// Allows reports whether a role satisfies this permission tier. The owner
// passes every check. Subscriber is a flag, not a rank: PermSub requires the
// sub flag specifically rather than any tier ordering.
func (p Perm) Allows(r Role) bool {
	if r.Has(RoleOwner) {
		return true
	}
	if p == PermSub {
		return r.Has(RoleSub)
	}
	return r.Level() >= p
}

// Ranks is privilege data not carried in protocol tags: the configured owner,
// admin allowlist, and user blacklist.
type Ranks struct {
	Owner     string
	Admins    []string
	Blacklist []string
}

// Blacklisted reports whether a login is barred from the bot entirely.
func (rk Ranks) Blacklisted(login string) bool {
	for _, b := range rk.Blacklist {
		if strings.EqualFold(b, login) {
			return true
		}
	}
	return false
}

// RoleFor derives a user's role set from message tags and configured ranks.
// Tags carry the gateway's mod/vip/subscriber flags; owner and admin come
// from configuration.
func RoleFor(rk Ranks, login string, tags map[string]string) Role {
	role := RoleNone
	if strings.EqualFold(login, rk.Owner) {
		role |= RoleOwner
	}
	for _, a := range rk.Admins {
		if strings.EqualFold(a, login) {
			role |= RoleAdmin
		}
	}
	// Broadcasters carry no mod tag in their own channel, only the badge.
	if tags["mod"] == "1" || strings.Contains(tags["badges"], "broadcaster/") {
		role |= RoleMod
	} else if tags["user-type"] == "vip" || tags["vip"] == "1" {
		role |= RoleVIP
	}
	if tags["subscriber"] == "1" {
		role |= RoleSub
	}
	return role
}
