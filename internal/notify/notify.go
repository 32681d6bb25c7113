// Package notify delivers status and ledger events to the external
// notification dispatcher. Events are enqueued inside the same transaction as
// the state transition that caused them (a transactional outbox), so the
// engine never blocks on delivery and River retries failures on its own
// schedule.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// Event names consumed by the notification dispatcher.
const (
	EventJobAccepted     = "job_accepted"
	EventJobApproved     = "job_approved"
	EventPaymentReleased = "payment_released"
	EventDisputeOpened   = "dispute_opened"
	EventDisputeResolved = "dispute_resolved"
	EventJobCancelled    = "job_cancelled"
)

type EventArgs struct {
	Event   string    `json:"event"`
	JobID   uuid.UUID `json:"job_id"`
	ActorID uuid.UUID `json:"actor_id"`
}

func (EventArgs) Kind() string { return "notify_event" }

// Worker posts each event to the dispatcher webhook. Delivery failures are
// returned so River retries them; the engine's transitions committed long ago.
type Worker struct {
	river.WorkerDefaults[EventArgs]
	webhookURL string
	httpClient *http.Client
}

func NewWorker(webhookURL string) *Worker {
	return &Worker{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Worker) Work(ctx context.Context, job *river.Job[EventArgs]) error {
	body, err := json.Marshal(job.Args)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create event request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver %s event: %w", job.Args.Event, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("dispatcher returned status %d for %s event", resp.StatusCode, job.Args.Event)
	}
	return nil
}
