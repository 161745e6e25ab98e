package service

import (
	"encoding/json"
	"fmt"
	"time"
)

type SyncState int

const (
	SyncStatePending SyncState = iota
	SyncStateRunning
	SyncStateSuccess
	SyncStateFailed
	SyncStateConfigError
)

func (s SyncState) String() string {
	switch s {
	case SyncStatePending:
		return "PENDING"
	case SyncStateRunning:
		return "RUNNING"
	case SyncStateSuccess:
		return "SUCCESS"
	case SyncStateFailed:
		return "FAILED"
	case SyncStateConfigError:
		return "CONFIG_ERROR"
	default:
		return "UNKNOWN"
	}
}

func (s SyncState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SyncState) UnmarshalJSON(bs []byte) error {
	var name string
	if err := json.Unmarshal(bs, &name); err != nil {
		return err
	}
	for state := SyncStatePending; state <= SyncStateConfigError; state++ {
		if state.String() == name {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown sync state %q", name)
}

// Status is the externally visible state of a sync job.
type Status struct {
	Name        string    `json:"name"`
	State       SyncState `json:"state"`
	Message     string    `json:"message,omitempty"`
	Head        string    `json:"head,omitempty"`
	Duration    string    `json:"duration,omitempty"`
	Failures    int       `json:"failures,omitempty"`
	LastRun     time.Time `json:"last_run,omitzero"`
	LastSuccess time.Time `json:"last_success,omitzero"`
	NextRun     time.Time `json:"next_run,omitzero"`
}
