package models

import "encoding/json"

// -----------------------------------------------------------------------------
// Downstream client protocol
// -----------------------------------------------------------------------------

// Client actions
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionHeartbeat   = "heartbeat"
)

// MClientCommand is what a downstream client sends over the socket.
type MClientCommand struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols,omitempty"`
}

// Server message types
const (
	TypeConnection         = "connection"
	TypeSubscriptionStatus = "subscription-status"
	TypeCachedPrices       = "cached-prices"
	TypePrice              = "price"
)

type MConnectionMessage struct {
	Type      string `json:"type"` // "connection"
	Connected bool   `json:"connected"`
}

type MSubscriptionStatus struct {
	Type    string   `json:"type"` // "subscription-status"
	Success []string `json:"success"`
	Fails   []string `json:"fails"`
}

type MCachedPrices struct {
	Type           string  `json:"type"` // "cached-prices"
	Prices         []MTick `json:"prices"`
	Count          int     `json:"count"`
	TotalRequested int     `json:"totalRequested"`
	Missing        int     `json:"missing"`
}

type MPriceMessage struct {
	Type      string  `json:"type"` // "price"
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
	DayVolume float64 `json:"dayVolume,omitempty"`
	Exchange  string  `json:"exchange,omitempty"`
}

// -----------------------------------------------------------------------------
// Upstream provider protocol
// -----------------------------------------------------------------------------

// MUpstreamControl is the outbound control frame:
// {action: subscribe|unsubscribe|heartbeat, params:{symbols:"A,B,C"}}
type MUpstreamControl struct {
	Action string          `json:"action"`
	Params *MUpstreamParam `json:"params,omitempty"`
}

type MUpstreamParam struct {
	Symbols string `json:"symbols"`
}

// Upstream event names
const (
	EventHeartbeat         = "heartbeat"
	EventSubscribeStatus   = "subscribe-status"
	EventUnsubscribeStatus = "unsubscribe-status"
)

// MUpstreamMessage is the raw inbound frame before shape discrimination.
// Exactly one of the shapes applies: event frame, error frame, or bare tick.
type MUpstreamMessage struct {
	Event     string          `json:"event,omitempty"`
	Status    string          `json:"status,omitempty"`
	Success   json.RawMessage `json:"success,omitempty"`
	Fails     json.RawMessage `json:"fails,omitempty"`
	Message   string          `json:"message,omitempty"`
	Symbol    string          `json:"symbol,omitempty"`
	Price     float64         `json:"price,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	DayVolume float64         `json:"day_volume,omitempty"`
	Exchange  string          `json:"exchange,omitempty"`
}

// MSubscribeResult summarizes a provider subscription acknowledgment.
type MSubscribeResult struct {
	Success []string
	Fails   []string
}
