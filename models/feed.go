package models

import "encoding/json"

// Feed identifiers used by the book_ui_1 websocket API.
const (
	FeedBook         = "book_ui_1"
	FeedBookSnapshot = "book_ui_1_snapshot"
)

// FeedMessage is the decoded shape of an inbound book_ui_1 frame.
// Snapshot and delta frames share the same field set; the Feed value
// distinguishes them. Price/size pairs arrive as two-element arrays.
type FeedMessage struct {
	Event     string       `json:"event,omitempty"`
	Feed      string       `json:"feed"`
	ProductID string       `json:"product_id,omitempty"`
	Bids      [][2]float64 `json:"bids,omitempty"`
	Asks      [][2]float64 `json:"asks,omitempty"`
}

// IsSnapshot reports whether the frame is an authoritative full-book
// replacement rather than an incremental update.
func (m FeedMessage) IsSnapshot() bool {
	return m.Feed == FeedBookSnapshot
}

// BidDeltas converts the raw bid tuples to Delta instructions in
// arrival order.
func (m FeedMessage) BidDeltas() []Delta {
	return tuplesToDeltas(m.Bids)
}

// AskDeltas converts the raw ask tuples to Delta instructions in
// arrival order.
func (m FeedMessage) AskDeltas() []Delta {
	return tuplesToDeltas(m.Asks)
}

func tuplesToDeltas(tuples [][2]float64) []Delta {
	if len(tuples) == 0 {
		return nil
	}
	deltas := make([]Delta, len(tuples))
	for i, t := range tuples {
		deltas[i] = Delta{Price: t[0], Size: t[1]}
	}
	return deltas
}

// ControlMessage is an outgoing subscribe/unsubscribe frame.
type ControlMessage struct {
	Event      string   `json:"event"`
	Feed       string   `json:"feed"`
	ProductIDs []string `json:"product_ids"`
}

// SubscribeMessage builds the subscribe control frame for a product.
func SubscribeMessage(productID string) ControlMessage {
	return ControlMessage{Event: "subscribe", Feed: FeedBook, ProductIDs: []string{productID}}
}

// UnsubscribeMessage builds the unsubscribe control frame for a product.
func UnsubscribeMessage(productID string) ControlMessage {
	return ControlMessage{Event: "unsubscribe", Feed: FeedBook, ProductIDs: []string{productID}}
}

// Encode marshals the control frame for the wire.
func (c ControlMessage) Encode() ([]byte, error) {
	return json.Marshal(c)
}
