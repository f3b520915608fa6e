// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package nosip

// EventName names the outward-facing events a session can push, per §6.
type EventName string

const (
	EventGenerated        EventName = "generated"
	EventProcessed        EventName = "processed"
	EventHangingUp        EventName = "hangingup"
	EventRecordingUpdated EventName = "recordingupdated"
	EventKeyframeSent     EventName = "keyframesent"
	EventError            EventName = "error"
)

// Event is built up by the Dispatcher for every request outcome (§6). It is
// returned to the Dispatcher method's caller and reported to the host through
// Host.NotifyEvent when EventsEnabled is true; the Dispatcher does not call
// Host.PushEvent.
type Event struct {
	Name   EventName `json:"event"`
	Type   string    `json:"type,omitempty"`
	SDP    string    `json:"sdp,omitempty"`
	SRTP   string    `json:"srtp,omitempty"`
	Update bool      `json:"update,omitempty"`

	ErrorCode   ErrorCode `json:"error_code,omitempty"`
	ErrorReason string    `json:"error_reason,omitempty"`
}

func errorEvent(err *RequestError) Event {
	return Event{
		Name:        EventError,
		ErrorCode:   err.Code,
		ErrorReason: err.Reason,
	}
}
