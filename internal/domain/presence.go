// Copyright 2025 Certen Protocol

package domain

import "encoding/json"

// PresenceStatus is the liveness classification of a device.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "ONLINE"
	StatusIdle    PresenceStatus = "IDLE"
	StatusOffline PresenceStatus = "OFFLINE"
)

// PresenceRecord is the derived liveness state of one device.
type PresenceRecord struct {
	DeviceID        string         `json:"device_id"`
	LastHeartbeatAt int64          `json:"last_heartbeat_at"`
	Status          PresenceStatus `json:"status"`
	MissedBeats     int            `json:"missed_beats"`
}

// Event is one item on the event bus.
type Event struct {
	EventID uint64          `json:"event_id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	At      int64           `json:"at"`
}

// Event kinds published on the event bus.
const (
	EventDeviceRegistered    = "DEVICE_REGISTERED"
	EventDeviceAuthenticated = "DEVICE_AUTHENTICATED"
	EventDataSubmitted       = "DATA_SUBMITTED"
	EventBatchCreated        = "BATCH_CREATED"
	EventBatchAnchorProgress = "BATCH_ANCHOR_PROGRESS"
	EventDeviceStatusChange  = "DEVICE_STATUS_CHANGE"
	EventProposalCreated     = "PROPOSAL_CREATED"
	EventProposalApproved    = "PROPOSAL_APPROVED"
	EventProposalRejected    = "PROPOSAL_REJECTED"
	EventProposalExecuted    = "PROPOSAL_EXECUTED"
	EventProposalExpired     = "PROPOSAL_EXPIRED"
)
