// ABOUTME: Domain records for the order-tracking application
// ABOUTME: Defines Order, User and Process structs shared by modules, persistence and the API

package model

import "time"

// Order statuses. An order moves forward through the fulfillment statuses
// or terminates in StatusCancelled.
const (
	StatusReceived   = "received"
	StatusInProgress = "in_progress"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
)

// ValidStatus reports whether s is a known order status.
func ValidStatus(s string) bool {
	switch s {
	case StatusReceived, StatusInProgress, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an order may move from one status to
// another. Forward-only along the fulfillment pipeline; any non-terminal
// status may be cancelled.
func CanTransition(from, to string) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusReceived:
		return to == StatusInProgress || to == StatusCancelled
	case StatusInProgress:
		return to == StatusShipped || to == StatusCancelled
	case StatusShipped:
		return to == StatusDelivered || to == StatusCancelled
	}
	return false
}

// Order is a customer order tracked through the fulfillment pipeline.
// Notes holds free-form markdown.
type Order struct {
	ID        string    `json:"id" toml:"id"`
	Customer  string    `json:"customer" toml:"customer"`
	Status    string    `json:"status" toml:"status"`
	ProcessID string    `json:"process_id,omitempty" toml:"process_id"`
	Notes     string    `json:"notes,omitempty" toml:"notes"`
	CreatedAt time.Time `json:"created_at" toml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" toml:"updated_at"`
}

// User is an application account. PasswordHash is a bcrypt hash; the clear
// password never enters the state record.
type User struct {
	ID           string    `json:"id" toml:"id"`
	Name         string    `json:"name" toml:"name"`
	Role         string    `json:"role" toml:"role"`
	PasswordHash string    `json:"password_hash,omitempty" toml:"password_hash"`
	CreatedAt    time.Time `json:"created_at" toml:"created_at"`
}

// Process is a named pipeline of fulfillment steps. Step indexes Steps;
// it advances monotonically to len(Steps), at which point the process is
// complete.
type Process struct {
	ID    string   `json:"id" toml:"id"`
	Name  string   `json:"name" toml:"name"`
	Steps []string `json:"steps" toml:"steps"`
	Step  int      `json:"step" toml:"step"`
}

// Complete reports whether the process has advanced past its last step.
func (p Process) Complete() bool {
	return p.Step >= len(p.Steps)
}
