package models

import (
	"net/http"
	"time"
)

type ExchangeDirection string

const (
	ExchangeIncoming ExchangeDirection = "INCOMING"
	ExchangeOutgoing ExchangeDirection = "OUTGOING"
)

// ExchangeState tracks the progress of a single HTTP interaction
type ExchangeState string

const (
	ExchangeRequested ExchangeState = "Requested"
	ExchangeRetrieved ExchangeState = "Retrieved"
	ExchangeFailed    ExchangeState = "Failed"
	ExchangeTimeout   ExchangeState = "Timeout"
)

// Exchange records one HTTP request/response interaction
type Exchange struct {
	Direction  ExchangeDirection `json:"direction" bson:"direction"`
	RemoteAddr string            `json:"remoteAddr,omitempty" bson:"remote_addr,omitempty"`
	Request    ExchangeRequest   `json:"request" bson:"request"`
	Response   ExchangeResponse  `json:"response" bson:"response"`
	State      ExchangeState     `json:"state,omitempty" bson:"state,omitempty"`
	Error      string            `json:"error,omitempty" bson:"error,omitempty"`
}

type ExchangeRequest struct {
	Method    string      `json:"method,omitempty" bson:"method,omitempty"`
	URL       string      `json:"url,omitempty" bson:"url,omitempty"`
	Headers   http.Header `json:"headers,omitempty" bson:"headers,omitempty"`
	Body      string      `json:"body,omitempty" bson:"body,omitempty"`
	Timestamp time.Time   `json:"timestamp" bson:"timestamp"`
}

type ExchangeResponse struct {
	Code      int         `json:"code,omitempty" bson:"code,omitempty"`
	Headers   http.Header `json:"headers,omitempty" bson:"headers,omitempty"`
	Body      string      `json:"body,omitempty" bson:"body,omitempty"`
	Timestamp *time.Time  `json:"timestamp,omitempty" bson:"timestamp,omitempty"`
}

func NewIncomingExchange(remoteAddr string) *Exchange {
	return &Exchange{Direction: ExchangeIncoming, RemoteAddr: remoteAddr}
}

func NewOutgoingExchange() *Exchange {
	return &Exchange{Direction: ExchangeOutgoing}
}

// Fail marks the exchange as failed with the given state and reason
func (x *Exchange) Fail(state ExchangeState, reason string) {
	x.State = state
	x.Error = reason
}
