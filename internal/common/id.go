package common

import (
	"github.com/google/uuid"
)

// NewSessionID generates a unique deep-search session ID
// Format: ses_<uuid>
func NewSessionID() string {
	return "ses_" + uuid.New().String()
}
