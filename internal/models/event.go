package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EventType identifies the payload variant carried by an Event
type EventType string

const (
	EventTypeIncomingPing      EventType = "IncomingPing"
	EventTypeAdminTrigger      EventType = "AdminTrigger"
	EventTypeMetadataRetrieval EventType = "MetadataRetrieval"
	EventTypeWebhookTrigger    EventType = "WebhookTrigger"
	EventTypeWebhookPing       EventType = "WebhookPing"
)

// EventVersion is the schema version written with every new event
const EventVersion = 1

// Payload is the type-specific content of an Event. Exactly one variant is
// stored per event and it always matches Event.Type.
type Payload interface {
	EventType() EventType
}

// Event is an immutable fact in the append-only event log
type Event struct {
	ID          primitive.ObjectID `json:"-"`
	UUID        string             `json:"uuid"`
	Type        EventType          `json:"type"`
	Version     int                `json:"version"`
	TriggeredBy string             `json:"triggeredBy,omitempty"` // uuid of the triggering event
	RelatedTo   string             `json:"relatedTo,omitempty"`   // client URL of the related entry
	Payload     Payload            `json:"payload"`
	Created     time.Time          `json:"created"`
	Executed    *time.Time         `json:"executed,omitempty"`
	Finished    *time.Time         `json:"finished,omitempty"`
}

type IncomingPing struct {
	Exchange *Exchange `json:"exchange" bson:"exchange"`
	NewEntry bool      `json:"newEntry" bson:"new_entry"`
}

type AdminTrigger struct {
	RemoteAddr string `json:"remoteAddr" bson:"remote_addr"`
	TokenName  string `json:"tokenName" bson:"token_name"`
	ClientURL  string `json:"clientUrl,omitempty" bson:"client_url,omitempty"`
}

type MetadataRetrieval struct {
	Exchange   *Exchange           `json:"exchange,omitempty" bson:"exchange,omitempty"`
	Metadata   *RepositoryMetadata `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Error      string              `json:"error,omitempty" bson:"error,omitempty"`
	EntryState EntryState          `json:"entryState,omitempty" bson:"entry_state,omitempty"`
}

type WebhookTrigger struct {
	WebhookUUID  string           `json:"webhookUuid" bson:"webhook_uuid"`
	PayloadURL   string           `json:"payloadUrl" bson:"payload_url"`
	MatchedEvent WebhookEventKind `json:"matchedEvent" bson:"matched_event"`
	Exchange     *Exchange        `json:"exchange,omitempty" bson:"exchange,omitempty"`
	Error        string           `json:"error,omitempty" bson:"error,omitempty"`
}

type WebhookPing struct {
	WebhookUUID string `json:"webhookUuid" bson:"webhook_uuid"`
	RemoteAddr  string `json:"remoteAddr" bson:"remote_addr"`
	TokenName   string `json:"tokenName" bson:"token_name"`
}

func (*IncomingPing) EventType() EventType      { return EventTypeIncomingPing }
func (*AdminTrigger) EventType() EventType      { return EventTypeAdminTrigger }
func (*MetadataRetrieval) EventType() EventType { return EventTypeMetadataRetrieval }
func (*WebhookTrigger) EventType() EventType    { return EventTypeWebhookTrigger }
func (*WebhookPing) EventType() EventType       { return EventTypeWebhookPing }

func newEvent(payload Payload, now time.Time) *Event {
	return &Event{
		UUID:    uuid.NewString(),
		Type:    payload.EventType(),
		Version: EventVersion,
		Payload: payload,
		Created: now,
	}
}

func NewIncomingPingEvent(remoteAddr string, now time.Time) *Event {
	return newEvent(&IncomingPing{Exchange: NewIncomingExchange(remoteAddr)}, now)
}

func NewAdminTriggerEvent(remoteAddr, tokenName, clientURL string, now time.Time) *Event {
	return newEvent(&AdminTrigger{RemoteAddr: remoteAddr, TokenName: tokenName, ClientURL: clientURL}, now)
}

func NewMetadataRetrievalEvent(trigger *Event, clientURL string, now time.Time) *Event {
	e := newEvent(&MetadataRetrieval{}, now)
	e.TriggeredBy = trigger.UUID
	e.RelatedTo = clientURL
	return e
}

func NewWebhookTriggerEvent(webhook *Webhook, kind WebhookEventKind, trigger *Event, now time.Time) *Event {
	e := newEvent(&WebhookTrigger{
		WebhookUUID:  webhook.UUID,
		PayloadURL:   webhook.PayloadURL,
		MatchedEvent: kind,
	}, now)
	e.TriggeredBy = trigger.UUID
	e.RelatedTo = trigger.RelatedTo
	return e
}

func NewWebhookPingEvent(webhookUUID, remoteAddr, tokenName string, now time.Time) *Event {
	return newEvent(&WebhookPing{WebhookUUID: webhookUUID, RemoteAddr: remoteAddr, TokenName: tokenName}, now)
}

// Execute marks the start of processing
func (e *Event) Execute(now time.Time) {
	e.Executed = &now
}

// Finish marks the event as concluded, successfully or not
func (e *Event) Finish(now time.Time) {
	if e.Executed == nil {
		e.Executed = &now
	}
	e.Finished = &now
}

func (e *Event) IsFinished() bool {
	return e.Finished != nil
}

func (e *Event) IncomingPing() *IncomingPing {
	p, _ := e.Payload.(*IncomingPing)
	return p
}

func (e *Event) AdminTrigger() *AdminTrigger {
	p, _ := e.Payload.(*AdminTrigger)
	return p
}

func (e *Event) MetadataRetrieval() *MetadataRetrieval {
	p, _ := e.Payload.(*MetadataRetrieval)
	return p
}

func (e *Event) WebhookTrigger() *WebhookTrigger {
	p, _ := e.Payload.(*WebhookTrigger)
	return p
}

func (e *Event) WebhookPing() *WebhookPing {
	p, _ := e.Payload.(*WebhookPing)
	return p
}

// eventDocument is the stored shape of an Event. The payload is kept as an
// embedded document and decoded according to the type discriminator.
type eventDocument struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	UUID        string             `bson:"uuid"`
	Type        EventType          `bson:"type"`
	Version     int                `bson:"version"`
	TriggeredBy string             `bson:"triggered_by,omitempty"`
	RelatedTo   string             `bson:"related_to,omitempty"`
	Payload     bson.RawValue      `bson:"payload,omitempty"`
	Created     time.Time          `bson:"created"`
	Executed    *time.Time         `bson:"executed"`
	Finished    *time.Time         `bson:"finished"`
}

func (e Event) MarshalBSON() ([]byte, error) {
	doc := struct {
		ID          primitive.ObjectID `bson:"_id,omitempty"`
		UUID        string             `bson:"uuid"`
		Type        EventType          `bson:"type"`
		Version     int                `bson:"version"`
		TriggeredBy string             `bson:"triggered_by,omitempty"`
		RelatedTo   string             `bson:"related_to,omitempty"`
		Payload     any                `bson:"payload,omitempty"`
		Created     time.Time          `bson:"created"`
		Executed    *time.Time         `bson:"executed"`
		Finished    *time.Time         `bson:"finished"`
	}{ID: e.ID, UUID: e.UUID, Type: e.Type, Version: e.Version, TriggeredBy: e.TriggeredBy,
		RelatedTo: e.RelatedTo, Created: e.Created, Executed: e.Executed, Finished: e.Finished}
	if e.Payload != nil {
		if e.Payload.EventType() != e.Type {
			return nil, fmt.Errorf("event %s: payload %s does not match type %s", e.UUID, e.Payload.EventType(), e.Type)
		}
		doc.Payload = e.Payload
	}
	return bson.Marshal(doc)
}

func (e *Event) UnmarshalBSON(data []byte) error {
	var doc eventDocument
	if err := bson.Unmarshal(data, &doc); err != nil {
		return err
	}

	// Unknown types decode without payload so that readers can skip them.
	payload, err := NewPayload(doc.Type)
	if err == nil && len(doc.Payload.Value) > 0 {
		if err := doc.Payload.Unmarshal(payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", doc.Type, err)
		}
	}

	*e = Event{
		ID:          doc.ID,
		UUID:        doc.UUID,
		Type:        doc.Type,
		Version:     doc.Version,
		TriggeredBy: doc.TriggeredBy,
		RelatedTo:   doc.RelatedTo,
		Payload:     payload,
		Created:     doc.Created,
		Executed:    doc.Executed,
		Finished:    doc.Finished,
	}
	return nil
}

// NewPayload returns an empty payload of the variant matching t
func NewPayload(t EventType) (Payload, error) {
	switch t {
	case EventTypeIncomingPing:
		return &IncomingPing{}, nil
	case EventTypeAdminTrigger:
		return &AdminTrigger{}, nil
	case EventTypeMetadataRetrieval:
		return &MetadataRetrieval{}, nil
	case EventTypeWebhookTrigger:
		return &WebhookTrigger{}, nil
	case EventTypeWebhookPing:
		return &WebhookPing{}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}
