// Package message defines the mailbox message model shared by the listing,
// addressing and mutation layers.
package message

import (
	"fmt"
	"time"
)

// StableID identifies a message across sessions. It encodes the folder's
// UIDVALIDITY and the message UID, so it survives reconnects but is
// invalidated when the server resets the folder.
type StableID string

// NewStableID builds a stable identifier from a folder's UIDVALIDITY and a
// message UID.
func NewStableID(uidValidity, uid uint32) StableID {
	return StableID(fmt.Sprintf("%d-%d", uidValidity, uid))
}

// Parse splits the identifier back into its UIDVALIDITY and UID parts.
func (id StableID) Parse() (uidValidity, uid uint32, err error) {
	n, err := fmt.Sscanf(string(id), "%d-%d", &uidValidity, &uid)
	if err != nil || n != 2 {
		return 0, 0, fmt.Errorf("malformed message id %q", string(id))
	}
	return uidValidity, uid, nil
}

// Message is a mailbox message as surfaced to callers. Ordinal is the
// position in the most recent listing, 1 = newest; zero when the message was
// fetched directly rather than listed.
type Message struct {
	ID       StableID  `json:"id"`
	Ordinal  int       `json:"ordinal,omitempty"`
	Subject  string    `json:"subject"`
	From     string    `json:"from"`
	FromName string    `json:"from_name,omitempty"`
	To       []string  `json:"to,omitempty"`
	Date     time.Time `json:"date"`
	Seen     bool      `json:"seen"`
	Flagged  bool      `json:"flagged"`
	Body     string    `json:"body,omitempty"`
}

// UID returns the message UID embedded in the stable identifier.
func (m Message) UID() (uint32, error) {
	_, uid, err := m.ID.Parse()
	return uid, err
}
