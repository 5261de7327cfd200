// Package notifications fans application events out to delivery agents
// (email, web push, in-app) and persists in-app notification records.
package notifications

import "strconv"

// Type is a notification type bit. User preferences are bitmasks of types.
type Type int

const (
	None             Type = 0
	TestNotification Type = 32
	InviteRedeemed   Type = 64
	InviteExpired    Type = 128
	UserCreated      Type = 256
	LocalMessage     Type = 512
	NewEvent         Type = 1024
	System           Type = 2048
	Updates          Type = 4096
	FriendWatching   Type = 8192
)

var typeNames = map[Type]string{
	None:             "NONE",
	TestNotification: "TEST_NOTIFICATION",
	InviteRedeemed:   "INVITE_REDEEMED",
	InviteExpired:    "INVITE_EXPIRED",
	UserCreated:      "USER_CREATED",
	LocalMessage:     "LOCAL_MESSAGE",
	NewEvent:         "NEW_EVENT",
	System:           "SYSTEM",
	Updates:          "UPDATES",
	FriendWatching:   "FRIEND_WATCHING",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return strconv.Itoa(int(t))
}

// Deliverable reports whether t is a single known type other than None.
func (t Type) Deliverable() bool {
	_, ok := typeNames[t]
	return ok && t != None
}

// AllTypes is the mask of every deliverable type.
const AllTypes = TestNotification | InviteRedeemed | InviteExpired | UserCreated |
	LocalMessage | NewEvent | System | Updates | FriendWatching

// Agent keys, also the keys of a user's notificationTypes preference map.
const (
	AgentEmail   = "email"
	AgentWebPush = "webpush"
	AgentInApp   = "inApp"
)

// AgentKeys lists the preference keys accepted from clients.
var AgentKeys = []string{AgentEmail, AgentWebPush, AgentInApp}

// Severity drives how clients render a notification.
type Severity string

const (
	SeveritySuccess   Severity = "success"
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityError     Severity = "error"
	SeverityPrimary   Severity = "primary"
	SeveritySecondary Severity = "secondary"
	SeverityAccent    Severity = "accent"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeveritySuccess, SeverityInfo, SeverityWarning, SeverityError,
		SeverityPrimary, SeveritySecondary, SeverityAccent:
		return true
	}
	return false
}

// HasNotificationType reports whether value enables any of types.
// An empty or zero requirement always passes, and TEST_NOTIFICATION is
// always considered enabled so test sends reach users who opted out of
// everything.
func HasNotificationType(types []Type, value int) bool {
	var total int
	for _, t := range types {
		total += int(t)
	}
	if total == 0 {
		return true
	}
	value |= int(TestNotification)
	return value&total != 0
}
