package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"notifyd/internal/schedule"
)

// Notification is a scheduling request as submitted by a client.
//
// Only ID, Title, Body and Schedule matter to the core; the remaining
// fields are presentation hints carried through storage for the platform
// layer untouched.
type Notification struct {
	ID           int32                      `json:"id"`
	ChannelID    string                     `json:"channelId,omitempty"`
	Title        string                     `json:"title,omitempty"`
	Body         string                     `json:"body,omitempty"`
	Schedule     *schedule.Schedule         `json:"schedule,omitempty"`
	LargeBody    string                     `json:"largeBody,omitempty"`
	Summary      string                     `json:"summary,omitempty"`
	ActionTypeID string                     `json:"actionTypeId,omitempty"`
	Group        string                     `json:"group,omitempty"`
	GroupSummary bool                       `json:"groupSummary,omitempty"`
	Sound        string                     `json:"sound,omitempty"`
	InboxLines   []string                   `json:"inboxLines,omitempty"`
	Icon         string                     `json:"icon,omitempty"`
	LargeIcon    string                     `json:"largeIcon,omitempty"`
	IconColor    string                     `json:"iconColor,omitempty"`
	Attachments  []Attachment               `json:"attachments,omitempty"`
	Extra        map[string]json.RawMessage `json:"extra,omitempty"`
	Ongoing      bool                       `json:"ongoing,omitempty"`
	AutoCancel   bool                       `json:"autoCancel,omitempty"`
	Silent       bool                       `json:"silent,omitempty"`
}

// UnmarshalJSON assigns a random identifier when the client omits one,
// so every accepted notification is addressable for cancel/remove.
func (n *Notification) UnmarshalJSON(b []byte) error {
	type plain Notification
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	if p.ID == 0 {
		p.ID = randomID()
	}
	*n = Notification(p)
	return nil
}

func randomID() int32 {
	for {
		if id := int32(rand.Uint32()); id != 0 {
			return id
		}
	}
}

// Validate rejects payloads the dispatcher cannot act on. Presentation
// fields are never validated here; they belong to the platform layer.
func (n *Notification) Validate() error {
	if n.ID == 0 {
		return errors.New("notification: id required")
	}
	if n.Schedule != nil {
		if err := n.Schedule.Validate(); err != nil {
			return err
		}
	}
	if len(n.InboxLines) > 0 && n.LargeBody != "" {
		return errors.New("notification: inboxLines and largeBody are mutually exclusive")
	}
	if len(n.InboxLines) > 5 {
		return fmt.Errorf("notification: at most 5 inbox lines, got %d", len(n.InboxLines))
	}
	return nil
}

// Attachment references external content by identifier and URL.
type Attachment struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Action is a single tappable button inside an action type.
type Action struct {
	ID                     string `json:"id"`
	Title                  string `json:"title"`
	RequiresAuthentication bool   `json:"requiresAuthentication,omitempty"`
	Foreground             bool   `json:"foreground,omitempty"`
	Destructive            bool   `json:"destructive,omitempty"`
	Input                  bool   `json:"input,omitempty"`
	InputButtonTitle       string `json:"inputButtonTitle,omitempty"`
	InputPlaceholder       string `json:"inputPlaceholder,omitempty"`
}

// ActionType groups actions under an identifier a notification can
// reference via ActionTypeID.
type ActionType struct {
	ID                            string   `json:"id"`
	Actions                       []Action `json:"actions"`
	HiddenPreviewsBodyPlaceholder string   `json:"hiddenPreviewsBodyPlaceholder,omitempty"`
	CustomDismissAction           bool     `json:"customDismissAction,omitempty"`
	AllowInCarPlay                bool     `json:"allowInCarPlay,omitempty"`
	HiddenPreviewsShowTitle       bool     `json:"hiddenPreviewsShowTitle,omitempty"`
	HiddenPreviewsShowSubtitle    bool     `json:"hiddenPreviewsShowSubtitle,omitempty"`
}

// Importance levels, ascending. Values are part of the wire format.
type Importance int

const (
	ImportanceNone Importance = iota
	ImportanceMin
	ImportanceLow
	ImportanceDefault
	ImportanceHigh
)

// Visibility of a delivered notification on the lock screen.
type Visibility int

const (
	VisibilitySecret  Visibility = -1
	VisibilityPrivate Visibility = 0
	VisibilityPublic  Visibility = 1
)

// Channel is a named delivery category with presentation defaults.
type Channel struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Sound       string      `json:"sound,omitempty"`
	Lights      bool        `json:"lights,omitempty"`
	LightColor  string      `json:"lightColor,omitempty"`
	Vibration   bool        `json:"vibration,omitempty"`
	Importance  *Importance `json:"importance,omitempty"`
	Visibility  *Visibility `json:"visibility,omitempty"`
}

func (c *Channel) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("channel: id required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("channel: name required")
	}
	if c.Importance != nil && (*c.Importance < ImportanceNone || *c.Importance > ImportanceHigh) {
		return fmt.Errorf("channel: importance %d out of range", *c.Importance)
	}
	if c.Visibility != nil && (*c.Visibility < VisibilitySecret || *c.Visibility > VisibilityPublic) {
		return fmt.Errorf("channel: visibility %d out of range", *c.Visibility)
	}
	return nil
}

// Pending is the slim view of a scheduled-but-undelivered notification.
type Pending struct {
	ID       int32              `json:"id"`
	Title    string             `json:"title,omitempty"`
	Body     string             `json:"body,omitempty"`
	Schedule *schedule.Schedule `json:"schedule,omitempty"`

	// NextFireMillis is the armed trigger instant in epoch milliseconds.
	NextFireMillis int64 `json:"nextFireMillis,omitempty"`
}

// Active is the view of a delivered notification that has not been
// removed yet.
type Active struct {
	ID           int32              `json:"id"`
	Tag          string             `json:"tag,omitempty"`
	Title        string             `json:"title,omitempty"`
	Body         string             `json:"body,omitempty"`
	Group        string             `json:"group,omitempty"`
	GroupSummary bool               `json:"groupSummary,omitempty"`
	ActionTypeID string             `json:"actionTypeId,omitempty"`
	Schedule     *schedule.Schedule `json:"schedule,omitempty"`
	Sound        string             `json:"sound,omitempty"`
}
