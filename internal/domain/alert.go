package domain

import "time"

// EmergencyAlert is what operators see when a driver reports an emergency.
type EmergencyAlert struct {
	DriverName string    `json:"driver_name"`
	LoadNumber string    `json:"load_number"`
	Message    string    `json:"message"`
	ReceivedAt time.Time `json:"received_at"`
}
