// Package hyperliquid contains the wire types and clients for the
// Hyperliquid WebSocket and info REST APIs.
package hyperliquid

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Float is a float64 that the exchange serializes as a JSON string
// (e.g. "1.2345"). Bare numbers are accepted too.
type Float float64

// UnmarshalJSON accepts both "1.5" and 1.5.
func (f *Float) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("hyperliquid: empty number")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("hyperliquid: parse string number: %w", err)
		}
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("hyperliquid: parse number %q: %w", s, err)
		}
		*f = Float(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("hyperliquid: parse number: %w", err)
	}
	*f = Float(v)
	return nil
}

// Subscription identifies one WebSocket subscription.
type Subscription struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
	Coin string `json:"coin,omitempty"`
}

// SubscribeRequest is the frame sent to subscribe or unsubscribe.
type SubscribeRequest struct {
	Method       string       `json:"method"`
	Subscription Subscription `json:"subscription"`
}

// Envelope is the outer shape of every inbound frame.
type Envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// Leverage describes the leverage mode and multiple of one position.
type Leverage struct {
	Type  string `json:"type"`
	Value Float  `json:"value"`
}

// AssetPosition wraps one open position in a webData2 payload.
type AssetPosition struct {
	Type     string `json:"type"`
	Position struct {
		Coin       string   `json:"coin"`
		Szi        Float    `json:"szi"`
		Leverage   Leverage `json:"leverage"`
		EntryPx    Float    `json:"entryPx"`
		MarginUsed Float    `json:"marginUsed"`
	} `json:"position"`
}

// MarginSummary carries the account-level dollar aggregates.
type MarginSummary struct {
	AccountValue    Float `json:"accountValue"`
	TotalNtlPos     Float `json:"totalNtlPos"`
	TotalMarginUsed Float `json:"totalMarginUsed"`
}

// ClearinghouseState is the per-account state block shared by the webData2
// channel and the clearinghouseState info query.
type ClearinghouseState struct {
	AssetPositions []AssetPosition `json:"assetPositions"`
	MarginSummary  MarginSummary   `json:"marginSummary"`
	Time           int64           `json:"time"`
}

// OpenOrder is one resting order in a webData2 payload.
type OpenOrder struct {
	Coin      string `json:"coin"`
	Side      string `json:"side"`
	LimitPx   Float  `json:"limitPx"`
	Sz        Float  `json:"sz"`
	Oid       int64  `json:"oid"`
	Timestamp int64  `json:"timestamp"`
	OrigSz    Float  `json:"origSz"`
}

// WebData2 is the payload of the webData2 channel: the full account view
// pushed on every change for a subscribed user.
type WebData2 struct {
	User               string             `json:"user"`
	ClearinghouseState ClearinghouseState `json:"clearinghouseState"`
	OpenOrders         []OpenOrder        `json:"openOrders"`
	ServerTime         int64              `json:"serverTime"`
}

// OrderUpdateEntry is one entry of the orderUpdates channel payload.
type OrderUpdateEntry struct {
	Order struct {
		Coin      string `json:"coin"`
		Side      string `json:"side"`
		LimitPx   Float  `json:"limitPx"`
		Sz        Float  `json:"sz"`
		Oid       int64  `json:"oid"`
		Timestamp int64  `json:"timestamp"`
		OrigSz    Float  `json:"origSz"`
	} `json:"order"`
	Status          string `json:"status"`
	StatusTimestamp int64  `json:"statusTimestamp"`
	User            string `json:"user"`
}

// AllMids is the payload of the allMids channel: mid price per coin.
type AllMids struct {
	Mids map[string]Float `json:"mids"`
}

// LeaderboardRow is one entry of the leaderboard info response.
type LeaderboardRow struct {
	EthAddress   string `json:"ethAddress"`
	AccountValue Float  `json:"accountValue"`
	DisplayName  string `json:"displayName"`
	Performances []struct {
		Period string `json:"period"`
		Pnl    Float  `json:"pnl"`
		Roi    Float  `json:"roi"`
	} `json:"windowPerformances"`
}
