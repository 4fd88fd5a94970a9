package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ChecklistSession is one saved workspace. Data is the opaque payload written by the
// client (or by the server after reconstruction); the store never interprets it.
type ChecklistSession struct {
	ID        string
	UserID    string
	Filename  string
	Data      json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ChecklistSessionSummary struct {
	ID        string
	Filename  string
	UpdatedAt time.Time
}
