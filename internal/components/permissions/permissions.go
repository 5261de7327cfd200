// Package permissions implements the bitmask permission model shared by users,
// invites and notifications.
package permissions

import "strconv"

// Permission is a single bit (or a combination of bits) in a user's
// permission mask.
type Permission int64

const (
	None                Permission = 0
	Admin               Permission = 2
	ManageUsers         Permission = 8
	ManageInvites       Permission = 16
	Streamarr           Permission = 32
	Vote                Permission = 64
	Request             Permission = 256
	ViewSchedule        Permission = 512
	ManageEvents        Permission = 1024
	CreateEvents        Permission = 8192
	AdvancedInvites     Permission = 2097152
	ViewInvites         Permission = 8388608
	CreateInvites       Permission = 33554432
	CreateNotifications Permission = 67108864
	ManageNotifications Permission = 134217728
	ViewNotifications   Permission = 268435456
)

// Mode selects how a list of required permissions is combined.
type Mode string

const (
	ModeAnd Mode = "and"
	ModeOr  Mode = "or"
)

var names = map[Permission]string{
	None:                "NONE",
	Admin:               "ADMIN",
	ManageUsers:         "MANAGE_USERS",
	ManageInvites:       "MANAGE_INVITES",
	Streamarr:           "STREAMARR",
	Vote:                "VOTE",
	Request:             "REQUEST",
	ViewSchedule:        "VIEW_SCHEDULE",
	ManageEvents:        "MANAGE_EVENTS",
	CreateEvents:        "CREATE_EVENTS",
	AdvancedInvites:     "ADVANCED_INVITES",
	ViewInvites:         "VIEW_INVITES",
	CreateInvites:       "CREATE_INVITES",
	CreateNotifications: "CREATE_NOTIFICATIONS",
	ManageNotifications: "MANAGE_NOTIFICATIONS",
	ViewNotifications:   "VIEW_NOTIFICATIONS",
}

// String returns the canonical upper-case name for single-bit values.
func (p Permission) String() string {
	if n, ok := names[p]; ok {
		return n
	}
	return "PERMISSION(" + strconv.FormatInt(int64(p), 10) + ")"
}

// Has reports whether value satisfies a single required permission.
// ADMIN satisfies everything; NONE is always satisfied.
func Has(required, value Permission) bool {
	if required == None {
		return true
	}
	return value&Admin != 0 || value&required != 0
}

// HasAll reports whether value holds every permission in required.
func HasAll(value Permission, required ...Permission) bool {
	return Check(required, value, ModeAnd)
}

// HasAny reports whether value holds at least one permission in required.
func HasAny(value Permission, required ...Permission) bool {
	return Check(required, value, ModeOr)
}

// Check evaluates a list of required permissions against value.
// An empty list passes in "and" mode and fails in "or" mode unless value
// carries ADMIN.
func Check(required []Permission, value Permission, mode Mode) bool {
	if value&Admin != 0 {
		return true
	}
	if mode == ModeOr {
		for _, r := range required {
			if value&r != 0 {
				return true
			}
		}
		return false
	}
	for _, r := range required {
		if value&r == 0 {
			return false
		}
	}
	return true
}
