package id

import (
	"fmt"

	"github.com/google/uuid"
)

// NewLogID generates an identifier used to correlate log lines of one request.
func NewLogID() string {
	return newIdentifier("log")
}

// NewRecordID generates the identifier of one persisted question/answer record.
// Record ids are bare UUIDs so clients can supply their own in the same format.
func NewRecordID() string {
	return newUUID()
}

func newIdentifier(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, newUUID())
}

func newUUID() string {
	if v7, err := uuid.NewV7(); err == nil {
		return v7.String()
	}
	return uuid.NewString()
}
