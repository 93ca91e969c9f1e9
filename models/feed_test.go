package models

import (
	"encoding/json"
	"testing"
)

func TestFeedMessageDecode(t *testing.T) {
	raw := []byte(`{"feed":"book_ui_1","product_id":"PI_XBTUSD","bids":[[34500.5,1200]],"asks":[[34501,500],[34502.5,0]]}`)

	var msg FeedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.IsSnapshot() {
		t.Fatal("delta frame classified as snapshot")
	}

	bids := msg.BidDeltas()
	if len(bids) != 1 || bids[0].Price != 34500.5 || bids[0].Size != 1200 {
		t.Fatalf("bid deltas = %+v", bids)
	}
	asks := msg.AskDeltas()
	if len(asks) != 2 || asks[1].Size != 0 {
		t.Fatalf("ask deltas = %+v", asks)
	}
}

func TestFeedMessageSnapshotClassification(t *testing.T) {
	raw := []byte(`{"feed":"book_ui_1_snapshot","product_id":"PI_ETHUSD","bids":[],"asks":[]}`)

	var msg FeedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !msg.IsSnapshot() {
		t.Fatal("snapshot frame not classified as snapshot")
	}
}

func TestFeedMessageRejectsMalformedTuples(t *testing.T) {
	raw := []byte(`{"feed":"book_ui_1","bids":[["34500.5",1200]]}`)

	var msg FeedMessage
	if err := json.Unmarshal(raw, &msg); err == nil {
		t.Fatal("string price in tuple must fail to decode")
	}
}

func TestControlMessageEncode(t *testing.T) {
	frame, err := SubscribeMessage("PI_XBTUSD").Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded ControlMessage
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if decoded.Event != "subscribe" || decoded.Feed != FeedBook {
		t.Fatalf("decoded = %+v", decoded)
	}
	if len(decoded.ProductIDs) != 1 || decoded.ProductIDs[0] != "PI_XBTUSD" {
		t.Fatalf("product ids = %v", decoded.ProductIDs)
	}
}
