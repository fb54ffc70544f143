package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jonesrussell/linkscan/internal/logger"
)

// Channel names.
const (
	ChannelEmail      = "email"
	ChannelWebhook    = "webhook"
	ChannelEscalation = "escalation"
)

// Dispatch statuses.
const (
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
	StatusThrottled = "throttled"
)

// Stable machine-readable skip reasons.
const (
	ReasonBelowSeverity        = "below_severity"
	ReasonMissingConfiguration = "missing_configuration"
	ReasonDuplicateSignature   = "duplicate_signature"
)

// defaultThrottleWindow suppresses identical notifications inside it.
const defaultThrottleWindow = time.Hour

// Summary is the per-run notification input.
type Summary struct {
	Severity     Severity
	Subject      string
	Message      string
	Context      string
	TotalChecked int
	BrokenCount  int
}

// Result is the per-channel dispatch outcome.
type Result struct {
	Channel        string
	Status         string
	Reason         string
	RecipientCount int
	WebhookCode    int
	Err            string
}

// Mailer delivers the email channel. Transport is deployment-specific.
type Mailer interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}

// Config configures the notification manager.
type Config struct {
	WebhookURL          string
	WebhookThreshold    string
	WebhookTemplate     string
	EscalationEnabled   bool
	EscalationURL       string
	EscalationThreshold string
	ThrottleWindow      time.Duration
}

// Manager fans summaries out to the email, webhook and escalation channels
// with throttling and bounded persisted history.
type Manager struct {
	cfg           Config
	history       History
	mailer        Mailer
	webhookClient *http.Client
	log           logger.Logger
	now           func() time.Time
}

// NewManager creates a notification manager. mailer may be nil when the
// email channel is unconfigured.
func NewManager(cfg Config, history History, mailer Mailer, log logger.Logger) *Manager {
	if cfg.ThrottleWindow <= 0 {
		cfg.ThrottleWindow = defaultThrottleWindow
	}
	if cfg.WebhookThreshold == "" {
		cfg.WebhookThreshold = SeverityWarning.String()
	}
	if cfg.EscalationThreshold == "" {
		cfg.EscalationThreshold = SeverityCritical.String()
	}

	return &Manager{
		cfg:           cfg,
		history:       history,
		mailer:        mailer,
		webhookClient: newWebhookClient(),
		log:           log,
		now:           time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// SendSummaryNotifications dispatches the run summary to every configured
// channel and persists the resulting history entries in one batched write.
func (m *Manager) SendSummaryNotifications(
	ctx context.Context,
	datasetType string,
	summary Summary,
	recipients []string,
	args map[string]string,
) ([]Result, error) {
	prior, err := m.history.Load(ctx)
	if err != nil {
		m.log.Warn("notification history unavailable, throttling disabled for this call",
			logger.Error(err))
		prior = nil
	}

	var results []Result
	var entries []HistoryEntry

	record := func(channel string, result Result, signature, threshold string) {
		results = append(results, result)
		entries = append(entries, HistoryEntry{
			Channel:           channel,
			DatasetType:       datasetType,
			Context:           summary.Context,
			Status:            result.Status,
			Timestamp:         m.now(),
			Signature:         signature,
			Severity:          summary.Severity.String(),
			SeverityThreshold: threshold,
			RecipientCount:    result.RecipientCount,
			WebhookCode:       result.WebhookCode,
			Error:             result.Err,
			Reason:            result.Reason,
		})
	}

	emailSig := m.signature(ChannelEmail, datasetType, summary, args, strings.Join(recipients, ","))
	record(ChannelEmail, m.sendEmail(ctx, summary, recipients, prior, emailSig), emailSig, "")

	webhookSig := m.signature(ChannelWebhook, datasetType, summary, args, m.cfg.WebhookURL)
	record(ChannelWebhook,
		m.sendWebhook(ctx, ChannelWebhook, datasetType, summary, prior, webhookSig,
			m.cfg.WebhookURL, ParseSeverity(m.cfg.WebhookThreshold)),
		webhookSig, m.cfg.WebhookThreshold)

	if m.cfg.EscalationEnabled {
		escalationSig := m.signature(ChannelEscalation, datasetType, summary, args, m.cfg.EscalationURL)
		record(ChannelEscalation,
			m.sendEscalation(ctx, datasetType, summary, prior, escalationSig),
			escalationSig, m.cfg.EscalationThreshold)
	}

	if err := m.history.Append(ctx, entries); err != nil {
		m.log.Error("notification history write failed", logger.Error(err))
	}

	return results, nil
}

// sendEmail dispatches the email channel. Email has no severity threshold:
// it is always attempted when recipients exist.
func (m *Manager) sendEmail(
	ctx context.Context,
	summary Summary,
	recipients []string,
	prior []HistoryEntry,
	signature string,
) Result {
	if len(recipients) == 0 || m.mailer == nil {
		return Result{Channel: ChannelEmail, Status: StatusSkipped, Reason: ReasonMissingConfiguration}
	}

	if m.throttled(prior, signature) {
		return Result{Channel: ChannelEmail, Status: StatusThrottled, Reason: ReasonDuplicateSignature}
	}

	if err := m.mailer.Send(ctx, recipients, summary.Subject, summary.Message); err != nil {
		return Result{Channel: ChannelEmail, Status: StatusFailed, Err: err.Error()}
	}

	return Result{Channel: ChannelEmail, Status: StatusSent, RecipientCount: len(recipients)}
}

// sendWebhook dispatches a webhook-shaped channel with severity gating.
func (m *Manager) sendWebhook(
	ctx context.Context,
	channel, datasetType string,
	summary Summary,
	prior []HistoryEntry,
	signature, url string,
	threshold Severity,
) Result {
	if url == "" {
		return Result{Channel: channel, Status: StatusSkipped, Reason: ReasonMissingConfiguration}
	}

	if summary.Severity < threshold {
		return Result{Channel: channel, Status: StatusSkipped, Reason: ReasonBelowSeverity}
	}

	if m.throttled(prior, signature) {
		return Result{Channel: channel, Status: StatusThrottled, Reason: ReasonDuplicateSignature}
	}

	payload := webhookPayload{
		DatasetType:  datasetType,
		Severity:     summary.Severity.String(),
		Subject:      summary.Subject,
		Message:      renderMessage(m.cfg.WebhookTemplate, summary),
		Context:      summary.Context,
		TotalChecked: summary.TotalChecked,
		BrokenCount:  summary.BrokenCount,
		Timestamp:    m.now(),
	}

	code, err := m.postWebhook(ctx, url, payload)
	if err != nil {
		return Result{Channel: channel, Status: StatusFailed, WebhookCode: code, Err: err.Error()}
	}
	return Result{Channel: channel, Status: StatusSent, WebhookCode: code}
}

// sendEscalation dispatches the escalation channel. It only fires when it
// points at a distinct, independently configured endpoint.
func (m *Manager) sendEscalation(
	ctx context.Context,
	datasetType string,
	summary Summary,
	prior []HistoryEntry,
	signature string,
) Result {
	if m.cfg.EscalationURL == "" || m.cfg.EscalationURL == m.cfg.WebhookURL {
		return Result{Channel: ChannelEscalation, Status: StatusSkipped, Reason: ReasonMissingConfiguration}
	}

	return m.sendWebhook(ctx, ChannelEscalation, datasetType, summary, prior, signature,
		m.cfg.EscalationURL, ParseSeverity(m.cfg.EscalationThreshold))
}

// throttled reports whether an entry with the same signature exists within
// the throttle window.
func (m *Manager) throttled(prior []HistoryEntry, signature string) bool {
	cutoff := m.now().Add(-m.cfg.ThrottleWindow)
	for _, entry := range prior {
		if entry.Signature == signature && entry.Timestamp.After(cutoff) &&
			(entry.Status == StatusSent || entry.Status == StatusThrottled) {
			return true
		}
	}
	return false
}

// signature builds the deterministic identity hash used for throttling.
func (m *Manager) signature(channel, datasetType string, summary Summary, args map[string]string, meta string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s",
		channel, datasetType, summary.Context, summary.Subject, summary.Message, meta)
	for _, k := range sortedKeys(args) {
		fmt.Fprintf(h, "|%s=%s", k, args[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
