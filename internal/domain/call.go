// Package domain contains entity without logic, just meta-data
package domain

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

type (
	CallID  string
	AgentID string
)

type CallStatus string

const (
	CallStatusPending    CallStatus = "pending"
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusCancelled  CallStatus = "cancelled"
)

// Call is one outbound check-in call to a driver as the backend reports it.
// Status and Duration are the only fields push events may change.
type Call struct {
	ID          CallID     `json:"id"`
	AgentID     AgentID    `json:"agent_id"`
	DriverName  string     `json:"driver_name"`
	DriverPhone string     `json:"driver_phone"`
	LoadNumber  string     `json:"load_number"`
	Status      CallStatus `json:"status"`
	Duration    int        `json:"duration"` // seconds
	CreatedAt   time.Time  `json:"created_at"`
}

// CallFilters narrows the calls listing.
type CallFilters struct {
	Status CallStatus `json:"status,omitempty" form:"status"`
	Driver string     `json:"driver,omitempty" form:"driver"`
	Limit  int        `json:"limit,omitempty" form:"limit"`
}

// Values renders the filters as query parameters, skipping empty ones.
func (f CallFilters) Values() url.Values {
	v := url.Values{}
	if f.Status != "" {
		v.Set("status", string(f.Status))
	}
	if f.Driver != "" {
		v.Set("driver", strings.TrimSpace(f.Driver))
	}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	return v
}

// InitializeCallRequest is the payload for placing a new call.
type InitializeCallRequest struct {
	AgentID      AgentID `json:"agent_id" binding:"required"`
	DriverName   string  `json:"driver_name" binding:"required"`
	DriverPhone  string  `json:"driver_phone" binding:"required"`
	LoadNumber   string  `json:"load_number" binding:"required"`
	ScenarioType string  `json:"scenario_type,omitempty"`
}

type Analytics struct {
	Days            int     `json:"days"`
	TotalCalls      int     `json:"total_calls"`
	CompletedCalls  int     `json:"completed_calls"`
	FailedCalls     int     `json:"failed_calls"`
	EmergencyCount  int     `json:"emergency_count"`
	AverageDuration float64 `json:"average_duration"`
}
