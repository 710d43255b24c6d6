package models

import "time"

// TickResult summarizes one completed tick.
type TickResult struct {
	TickID         string        `json:"tick_id"`
	TickTime       time.Time     `json:"tick_time"`
	Updated        int           `json:"updated_count"`
	Skipped        int           `json:"skipped_count"`
	Regime         Regime        `json:"regime"`
	RemainingTicks int           `json:"remaining_ticks"`
	StartedAt      time.Time     `json:"regime_started_at"`
	Duration       time.Duration `json:"duration_ns"`
}

// TickEvent is published after a tick completes.
// Note: no transport (kafka/websocket) concerns here.
type TickEvent struct {
	Result TickResult  `json:"result"`
	Prices []LivePrice `json:"prices"`
	Bars   []Bar       `json:"bars"`
}
