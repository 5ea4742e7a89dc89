package domain

import "time"

// Bus topics. Processors subscribe by topic; "*" matches every topic.
const (
	TopicTraderPositions     = "trader_positions"
	TopicTraderOrders        = "trader_orders"
	TopicScoredTraders       = "scored_traders"
	TopicMarkPrice           = "mark_price"
	TopicTradingSignal       = "trading_signal"
	TopicWhaleAlert          = "whale_alert"
	TopicLeaderboardSnapshot = "leaderboard_snapshot"
)

// Event is the envelope carried on the in-process bus and appended to the
// event log. Key is the idempotence key within a topic: replaying the same
// (topic, key) pair upserts rather than duplicates.
type Event struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Key       string    `json:"key"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// CollectorStats is the health-tick snapshot of the running collector.
type CollectorStats struct {
	ConnectedClients int   `json:"connected_clients"`
	TrackedTraders   int   `json:"tracked_traders"`
	BufferedFrames   int   `json:"buffered_frames"`
	FramesReceived   int64 `json:"frames_received"`
	ParseErrors      int64 `json:"parse_errors"`
	PositionsEmitted int64 `json:"positions_emitted"`
	PositionsSkipped int64 `json:"positions_skipped"`
	SignalsEmitted   int64 `json:"signals_emitted"`
	AlertsRaised     int64 `json:"alerts_raised"`
	EventsPublished  int64 `json:"events_published"`
	EventsDelivered  int64 `json:"events_delivered"`
}
