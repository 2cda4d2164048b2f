package model

import "time"

// EventType tags what an Event carries.
type EventType string

const (
	EventThreatDetected      EventType = "threat_detected"
	EventProtectionApplied   EventType = "protection_applied"
	EventNetworkState        EventType = "network_state"
	EventTransactionObserved EventType = "transaction_observed"
)

// Event is the envelope fanned out to bus subscribers. Exactly one of the
// payload pointers is set, matching Type.
type Event struct {
	Type       EventType         `json:"type"`
	Network    Network           `json:"network"`
	At         time.Time         `json:"at"`
	Detection  *ThreatDetection  `json:"detection,omitempty"`
	Protection *ProtectionResult `json:"protection,omitempty"`
	State      *NetworkState     `json:"state,omitempty"`
	Tx         *Transaction      `json:"tx,omitempty"`
}
