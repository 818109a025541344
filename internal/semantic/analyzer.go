// Package semantic provides optional message understanding beyond the
// rule-based extractor.
package semantic

import (
	"context"
	"errors"

	"github.com/kumbuk/orchestrator/internal/models"
)

// ErrAnalyzerUnavailable is returned when no analysis could be produced.
// Callers treat it, and timeouts, as "no analysis".
var ErrAnalyzerUnavailable = errors.New("semantic analyzer unavailable")

// UserContext is the profile information handed to the analyzer.
type UserContext struct {
	Role        string                 `json:"role"`
	Location    string                 `json:"location,omitempty"`
	Preferences map[string]interface{} `json:"preferences,omitempty"`
}

// Request is one message to analyze.
type Request struct {
	UserID      string
	Text        string
	History     []models.HistoryMessage
	UserContext UserContext
}

// Analyzer turns a message into a SemanticAnalysis.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, req Request) (*models.SemanticAnalysis, error)
}

// HistoryWindow is how many prior messages are passed along.
const HistoryWindow = 3

// LastMessages returns at most n trailing history entries.
func LastMessages(history []models.HistoryMessage, n int) []models.HistoryMessage {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
