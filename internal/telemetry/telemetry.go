// Package telemetry implements the A3 telemetry transport (spec.md §4/§6):
// webhook POST of analysis events carrying a static X-Shared-Secret
// header, with a 5-second timeout and silent skip when either the
// collector URL or the shared secret is absent. Grounded on the
// teacher's internal/alert/webhook.go (WebhookSender.Send/computeHMAC),
// generalized from AgentWarden alert payloads to analysis telemetry
// events -- the teacher's HMAC signing is kept available as an opt-in
// SignedSend for transports that want a signed body, since spec.md §6
// specifies X-Shared-Secret as a static header rather than a digest.
package telemetry

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// EventType enumerates the telemetry events spec.md §5 defines.
type EventType string

const (
	EventAnalysisStart EventType = "analysisStart"
	EventAnalysisEnd   EventType = "analysisEnd"
	EventWarning       EventType = "warning"
	EventError         EventType = "error"
	EventFatality      EventType = "fatality"
	EventExempt        EventType = "exempt"
	EventViolation     EventType = "violation"
)

// Event is one telemetry payload posted to the collector.
type Event struct {
	EventType EventType      `json:"eventType"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp time.Time      `json:"timestamp"`
}

// Client posts Events to a configured collector URL. A Client with no
// collector URL or no shared secret is valid and every Send call on it
// is a silent no-op, matching spec.md §4's "silently skipped when
// endpoint or shared secret is absent".
type Client struct {
	collectorURL string
	sharedSecret string
	httpClient   *http.Client
	logger       *slog.Logger
}

// New creates a telemetry Client. collectorURL and sharedSecret may both
// be empty, in which case Send is a no-op.
func New(collectorURL, sharedSecret string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		collectorURL: collectorURL,
		sharedSecret: sharedSecret,
		httpClient:   &http.Client{Timeout: 5 * time.Second},
		logger:       logger.With("component", "telemetry.Client"),
	}
}

// Send posts an Event to the collector with the raw shared secret in
// X-Shared-Secret, per spec.md §6. The POST is synchronous, bounded by the
// client's 5-second timeout, and silent on failure: a missing collector or
// secret, a network error, or a non-2xx response are all logged at most
// and never returned to the caller, per
// spec.md §4's "failures are non-fatal".
func (c *Client) Send(eventType EventType, metadata map[string]any) {
	if c.collectorURL == "" || c.sharedSecret == "" {
		return
	}
	c.post(eventType, metadata, c.sharedSecret)
}

// SignedSend posts an Event the same way Send does, except the
// X-Shared-Secret header carries an HMAC-SHA256 digest of the JSON body
// keyed by the shared secret, rather than the raw secret value. Opt-in
// for telemetry collectors that want payload integrity over the static
// shared-secret contract spec.md §6 requires by default.
func (c *Client) SignedSend(eventType EventType, metadata map[string]any) {
	if c.collectorURL == "" || c.sharedSecret == "" {
		return
	}
	body, err := json.Marshal(Event{EventType: eventType, Metadata: metadata, Timestamp: time.Now()})
	if err != nil {
		c.logger.Warn("telemetry event marshal failed, skipping", "eventType", eventType, "error", err)
		return
	}
	c.doPost(eventType, body, computeHMAC(body, []byte(c.sharedSecret)))
}

func (c *Client) post(eventType EventType, metadata map[string]any, secretHeader string) {
	body, err := json.Marshal(Event{EventType: eventType, Metadata: metadata, Timestamp: time.Now()})
	if err != nil {
		c.logger.Warn("telemetry event marshal failed, skipping", "eventType", eventType, "error", err)
		return
	}
	c.doPost(eventType, body, secretHeader)
}

func (c *Client) doPost(eventType EventType, body []byte, secretHeader string) {
	req, err := http.NewRequest(http.MethodPost, c.collectorURL, bytes.NewReader(body))
	if err != nil {
		c.logger.Warn("telemetry request build failed, skipping", "eventType", eventType, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shared-Secret", secretHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("telemetry POST failed, continuing", "eventType", eventType, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		c.logger.Warn("telemetry collector rejected event, continuing", "eventType", eventType, "status", resp.StatusCode)
	}
}

func computeHMAC(data, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
