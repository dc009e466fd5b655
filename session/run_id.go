package session

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewRunID returns a globally unique run identifier suitable for use as an
// engine execution ID (for example a Temporal WorkflowID).
//
// The generated identifier is prefixed with a normalized label to improve
// observability in logs, metrics, and tracing without sacrificing uniqueness.
func NewRunID(label string) string {
	prefix := strings.ReplaceAll(label, ".", "-")
	if prefix == "" {
		return uuid.NewString()
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
