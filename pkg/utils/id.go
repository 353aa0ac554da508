package utils

import (
	"github.com/oklog/ulid/v2"
)

// GenerateRequestID generates a unique, time-sortable request ID
func GenerateRequestID() string {
	return "req_" + ulid.Make().String()
}
