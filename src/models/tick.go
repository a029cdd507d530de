package models

// Tick source tags
const (
	SourceStream = "stream"
	SourcePoll   = "poll"
)

// MTick represents the last known value for one symbol.
type MTick struct {
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price"`
	Timestamp  int64   `json:"timestamp"`
	DayVolume  float64 `json:"dayVolume,omitempty"`
	Exchange   string  `json:"exchange,omitempty"`
	Source     string  `json:"source"`
	ReceivedAt int64   `json:"received_at"`
}
