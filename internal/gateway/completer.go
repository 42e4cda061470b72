// ABOUTME: The costly downstream operation behind POST /api/chat
// ABOUTME: Completer interface plus a simulated echo implementation

package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/quotagate/internal/auth"
)

// Completion is the result of one downstream call.
type Completion struct {
	ID          string
	Content     string
	InputUnits  int64
	OutputUnits int64
}

// Completer performs the costly operation. On failure it may still return a
// Completion describing the partial cost incurred.
type Completer interface {
	Complete(ctx context.Context, p auth.Principal, message string) (*Completion, error)
}

// CountUnits approximates the unit cost of text as its whitespace-separated word count.
func CountUnits(s string) int64 {
	return int64(len(strings.Fields(s)))
}

// EchoCompleter simulates a chat model by echoing the message back.
type EchoCompleter struct {
	// Latency delays each response, for exercising request timeouts.
	Latency time.Duration
}

// Complete implements Completer.
func (e EchoCompleter) Complete(ctx context.Context, _ auth.Principal, message string) (*Completion, error) {
	input := CountUnits(message)

	if e.Latency > 0 {
		timer := time.NewTimer(e.Latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return &Completion{InputUnits: input}, ctx.Err()
		}
	}

	content := fmt.Sprintf("You said: '%s'. This is a simulated response.", message)
	return &Completion{
		ID:          "response-" + uuid.New().String(),
		Content:     content,
		InputUnits:  input,
		OutputUnits: CountUnits(content),
	}, nil
}
