package models

import "slices"

// WebhookEventKind is the logical notification kind sent to subscribers
type WebhookEventKind string

const (
	WebhookEventIncomingPing     WebhookEventKind = "IncomingPing"
	WebhookEventNewEntry         WebhookEventKind = "NewEntry"
	WebhookEventEntryValid       WebhookEventKind = "EntryValid"
	WebhookEventEntryInvalid     WebhookEventKind = "EntryInvalid"
	WebhookEventEntryUnreachable WebhookEventKind = "EntryUnreachable"
	WebhookEventAdminTrigger     WebhookEventKind = "AdminTrigger"
	WebhookEventWebhookPing      WebhookEventKind = "WebhookPing"
)

// Webhook represents a third-party subscription to index events
type Webhook struct {
	UUID       string             `json:"uuid" bson:"uuid"`
	PayloadURL string             `json:"payloadUrl" bson:"payload_url"`
	Secret     string             `json:"-" bson:"secret"`
	Enabled    bool               `json:"enabled" bson:"enabled"`
	AllEvents  bool               `json:"allEvents" bson:"all_events"`
	Events     []WebhookEventKind `json:"events" bson:"events"`
	AllEntries bool               `json:"allEntries" bson:"all_entries"`
	Entries    []string           `json:"entries" bson:"entries"` // client URLs
}

// Subscribes reports whether the webhook wants notifications of the given kind
func (w *Webhook) Subscribes(kind WebhookEventKind) bool {
	return w.AllEvents || slices.Contains(w.Events, kind)
}

// Watches reports whether the webhook follows the given entry. Events that are
// not about any entry are always watched.
func (w *Webhook) Watches(clientURL string) bool {
	return w.AllEntries || clientURL == "" || slices.Contains(w.Entries, clientURL)
}

// Token is an API token used to authenticate administrative calls
type Token struct {
	Name  string   `json:"name" bson:"name"`
	Token string   `json:"-" bson:"token"`
	Roles []string `json:"roles" bson:"roles"`
}

const RoleAdmin = "ADMIN"

func (t *Token) HasRole(role string) bool {
	return slices.Contains(t.Roles, role)
}
