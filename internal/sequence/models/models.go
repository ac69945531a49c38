package models

import "time"

// DefaultBase is the value a counter starts from; the first number issued in
// a new scope is DefaultBase+1.
const DefaultBase int64 = 100000

// Counter is one numbering scope (a year, or a named series). LastValue never
// decreases and the row is never deleted.
type Counter struct {
	Scope     string
	LastValue int64
	UpdatedAt time.Time
}
