package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ligai-voice/ligai/src/logger"
	"github.com/ligai-voice/ligai/src/store"
)

// webhookTimeout bounds a single delivery attempt.
const webhookTimeout = 10 * time.Second

// WebhookPayload is the call summary delivered to the integrator when a
// call ends.
type WebhookPayload struct {
	Event       string                  `json:"event"`
	CallID      string                  `json:"callId"`
	LeadID      string                  `json:"leadId"`
	Step        string                  `json:"step"`
	PhoneNumber string                  `json:"phoneNumber"`
	Status      string                  `json:"status"`
	CallResult  string                  `json:"callResult"`
	Duration    int                     `json:"duration"`
	Transcript  []store.TranscriptEntry `json:"transcript"`
	AudioURL    string                  `json:"audioUrl"`
	Context     string                  `json:"context"`
	Timestamp   time.Time               `json:"timestamp"`
}

// Notifier delivers end-of-call webhooks. Delivery is a single attempt:
// the integrator owns retries, and a slow endpoint must never hold call
// teardown hostage.
type Notifier struct {
	httpClient *http.Client
	log        *logger.Logger
}

// NewNotifier creates a webhook notifier with the default timeout.
func NewNotifier() *Notifier {
	return &Notifier{
		httpClient: &http.Client{Timeout: webhookTimeout},
		log:        logger.WithPrefix("Webhook"),
	}
}

// Send posts the payload to url. Failures are logged, not returned.
func (n *Notifier) Send(ctx context.Context, url string, payload WebhookPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.log.Error("marshal payload for %s: %v", payload.CallID, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.log.Error("build request for %s: %v", payload.CallID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-LigAI-Event", payload.Event)
	req.Header.Set("X-LigAI-CallId", payload.CallID)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.log.Warn("deliver %s to %s: %v", payload.Event, url, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.log.Warn("deliver %s to %s: status %d", payload.Event, url, resp.StatusCode)
		return
	}
	n.log.Info("delivered %s for call %s", payload.Event, payload.CallID)
}
