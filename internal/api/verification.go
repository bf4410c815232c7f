// Package api defines the API types and structures used across pipewright.
package api

import "time"

// Hop identifies one stage of the pipeline a marker event passes through.
type Hop string

const (
	HopCollector Hop = "collector" // Cloud Logging entry visible
	HopQueue     Hop = "queue"     // Pub/Sub message delivered
	HopTransform Hop = "transform" // Dataflow job processing
	HopWarehouse Hop = "warehouse" // BigQuery row queryable
)

// Hops lists pipeline stages in flow order. Reports preserve this order
// regardless of which hop finished polling first.
var Hops = []Hop{HopCollector, HopQueue, HopTransform, HopWarehouse}

// HopResult records the outcome of polling a single hop for the marker.
// Success false with an empty LastError means the polling budget ran out
// without observing the marker, which is inconclusive rather than broken.
type HopResult struct {
	Hop           Hop    `json:"hop"`
	Success       bool   `json:"success"`
	ObservedCount int    `json:"observed_count"`
	LastError     string `json:"last_error,omitempty"`
}

// VerificationReport is the end-to-end verification result. Hops always
// contains an entry for every pipeline stage, in flow order.
type VerificationReport struct {
	Success     bool        `json:"success"`
	Marker      string      `json:"marker"`
	Hops        []HopResult `json:"hops"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
}
