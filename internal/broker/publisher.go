package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"captable/internal/events"
)

// Publisher serializes wire messages onto the broker with persistent
// delivery. The connection is established lazily and re-established when the
// previous one is closed.
//
// Publish never returns an error to the caller: losing an audit record is
// preferable to failing a completed business transaction, so transport
// failures are logged and reported as false.
//
// The underlying channel is not safe for concurrent use; a mutex serializes
// access, so concurrent publishers should each hold their own Publisher.
type Publisher struct {
	url    string
	logger *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel

	metrics *Metrics
	tracer  trace.Tracer
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherMetrics attaches Prometheus instrumentation.
func WithPublisherMetrics(m *Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// NewPublisher creates a publisher for the broker at url. No connection is
// made until the first Publish.
func NewPublisher(url string, logger *slog.Logger, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		url:    url,
		logger: logger,
		tracer: otel.Tracer("captable/broker"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ensureChannel connects and declares topology if the current connection is
// absent or closed. Callers must hold p.mu.
func (p *Publisher) ensureChannel() error {
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed() {
		return nil
	}

	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	p.conn = conn
	p.ch = ch
	p.logger.Info("broker connection established", "exchange", Exchange)
	return nil
}

// Publish sends one wire message with the given routing key. Returns whether
// the message reached the broker.
func (p *Publisher) Publish(ctx context.Context, routingKey string, msg Message) bool {
	ctx, span := p.tracer.Start(ctx, "broker.publish", trace.WithAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.destination", Exchange),
		attribute.String("messaging.rabbitmq.routing_key", routingKey),
		attribute.String("event.type", msg.EventType),
	))
	defer span.End()

	body, err := msg.Encode()
	if err != nil {
		p.logger.Error("failed to encode wire message",
			"event_type", msg.EventType,
			"error", err,
		)
		span.RecordError(err)
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannel(); err != nil {
		p.logger.Error("broker unreachable, dropping event",
			"routing_key", routingKey,
			"event_type", msg.EventType,
			"event_id", msg.EventID,
			"error", err,
		)
		span.RecordError(err)
		if p.metrics != nil {
			p.metrics.PublishFailures.Inc()
		}
		return false
	}

	err = p.ch.PublishWithContext(ctx,
		Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    msg.EventID,
			Type:         msg.EventType,
			Timestamp:    msg.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		p.logger.Error("failed to publish event",
			"routing_key", routingKey,
			"event_type", msg.EventType,
			"event_id", msg.EventID,
			"error", err,
		)
		span.RecordError(err)
		if p.metrics != nil {
			p.metrics.PublishFailures.Inc()
		}
		return false
	}

	p.logger.Debug("event published",
		"routing_key", routingKey,
		"event_type", msg.EventType,
		"event_id", msg.EventID,
	)
	if p.metrics != nil {
		p.metrics.Published.Inc()
	}
	return true
}

// Close shuts down the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			lastErr = err
		}
		p.ch = nil
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			lastErr = err
		}
		p.conn = nil
	}
	return lastErr
}

// newMessage wraps a payload in a fresh envelope.
func newMessage(eventType string, payload map[string]any) Message {
	if payload == nil {
		payload = map[string]any{}
	}
	return Message{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// -----------------------------------------------------------------------------
// Specialized publishers
// -----------------------------------------------------------------------------

// AuditPublisher publishes domain events onto the audit queue. The routing
// key is derived from the event kind: "share.issued" travels as
// "audit.share.issued".
type AuditPublisher struct {
	*Publisher
}

func NewAuditPublisher(p *Publisher) *AuditPublisher {
	return &AuditPublisher{Publisher: p}
}

// PublishEvent publishes a domain event of the given kind. Unknown kinds are
// rejected without touching the broker.
func (a *AuditPublisher) PublishEvent(ctx context.Context, kind events.Kind, payload map[string]any) bool {
	if !kind.Valid() {
		a.logger.Error("refusing to publish unknown event kind", "kind", kind)
		return false
	}
	return a.Publish(ctx, "audit."+kind.String(), newMessage(kind.String(), payload))
}

// PublishUserLogin records a successful login.
func (a *AuditPublisher) PublishUserLogin(ctx context.Context, userID, email, role, ipAddress, userAgent string) bool {
	return a.PublishEvent(ctx, events.KindUserLogin, map[string]any{
		"user_id":    userID,
		"user_email": email,
		"user_role":  role,
		"ip_address": ipAddress,
		"user_agent": userAgent,
	})
}

// PublishUserLogout records the end of a session.
func (a *AuditPublisher) PublishUserLogout(ctx context.Context, userID, email string, sessionDuration time.Duration) bool {
	return a.PublishEvent(ctx, events.KindUserLogout, map[string]any{
		"user_id":          userID,
		"user_email":       email,
		"session_duration": int64(sessionDuration.Seconds()),
	})
}

// PublishShareholderCreated records a new shareholder record.
func (a *AuditPublisher) PublishShareholderCreated(ctx context.Context, userID string, shareholder map[string]any) bool {
	return a.PublishEvent(ctx, events.KindShareholderCreated, map[string]any{
		"user_id":          userID,
		"shareholder_data": shareholder,
	})
}

// PublishShareholderUpdated records an update, carrying the prior state so
// the audit trail can reconstruct the change.
func (a *AuditPublisher) PublishShareholderUpdated(ctx context.Context, userID, shareholderID string, previous, updated map[string]any) bool {
	return a.PublishEvent(ctx, events.KindShareholderUpdated, map[string]any{
		"user_id":        userID,
		"shareholder_id": shareholderID,
		"previous_data":  previous,
		"new_data":       updated,
	})
}

// PublishShareIssued records a share issuance.
func (a *AuditPublisher) PublishShareIssued(ctx context.Context, userID, shareholderID string, share map[string]any) bool {
	return a.PublishEvent(ctx, events.KindShareIssued, map[string]any{
		"user_id":        userID,
		"shareholder_id": shareholderID,
		"share_data":     share,
	})
}

// PublishCertificateGenerated records a generated certificate file.
func (a *AuditPublisher) PublishCertificateGenerated(ctx context.Context, userID, shareholderID, certificatePath string) bool {
	return a.PublishEvent(ctx, events.KindCertificateGenerated, map[string]any{
		"user_id":          userID,
		"shareholder_id":   shareholderID,
		"certificate_path": certificatePath,
	})
}

// PublishPermissionChanged records a role change performed by an admin.
func (a *AuditPublisher) PublishPermissionChanged(ctx context.Context, adminUserID, targetUserID, oldRole, newRole string) bool {
	return a.PublishEvent(ctx, events.KindPermissionChanged, map[string]any{
		"admin_user_id":  adminUserID,
		"target_user_id": targetUserID,
		"old_role":       oldRole,
		"new_role":       newRole,
	})
}

// PublishDataExport records a bulk data export.
func (a *AuditPublisher) PublishDataExport(ctx context.Context, userID, exportType, exportFormat string, recordCount int) bool {
	return a.PublishEvent(ctx, events.KindDataExport, map[string]any{
		"user_id":       userID,
		"export_type":   exportType,
		"export_format": exportFormat,
		"record_count":  recordCount,
	})
}

// PublishSystemError records an application error worth auditing.
func (a *AuditPublisher) PublishSystemError(ctx context.Context, errorType, errorMessage, stackTrace string) bool {
	return a.PublishEvent(ctx, events.KindSystemError, map[string]any{
		"error_type":    errorType,
		"error_message": errorMessage,
		"stack_trace":   stackTrace,
	})
}

// NotificationPublisher publishes user-facing notifications. The event_type
// is always "notification"; the payload's notification_type selects the
// concrete handler on the consumer side.
type NotificationPublisher struct {
	*Publisher
}

func NewNotificationPublisher(p *Publisher) *NotificationPublisher {
	return &NotificationPublisher{Publisher: p}
}

func (n *NotificationPublisher) publishNotification(ctx context.Context, routingKey string, payload map[string]any) bool {
	return n.Publish(ctx, routingKey, newMessage(events.KindNotification.String(), payload))
}

// PublishShareIssuance notifies a user about a new share issuance.
func (n *NotificationPublisher) PublishShareIssuance(ctx context.Context, userID, shareholderName string, shareCount int, totalAmount float64) bool {
	return n.publishNotification(ctx, "notification.share.issuance", map[string]any{
		"user_id":           userID,
		"notification_type": "share_issuance",
		"title":             "New share issuance",
		"message":           "An issuance of shares has been recorded for " + shareholderName,
		"metadata": map[string]any{
			"shareholder_name": shareholderName,
			"share_count":      shareCount,
			"total_amount":     totalAmount,
		},
	})
}

// PublishCertificateGenerated notifies a user that their certificate is ready.
func (n *NotificationPublisher) PublishCertificateGenerated(ctx context.Context, userID, certificatePath string) bool {
	return n.publishNotification(ctx, "notification.certificate.generated", map[string]any{
		"user_id":           userID,
		"notification_type": "certificate_generated",
		"title":             "Share certificate generated",
		"message":           "Your share certificate has been generated successfully",
		"metadata": map[string]any{
			"certificate_path": certificatePath,
		},
	})
}

// PublishSystemAlert sends an operator alert to a user.
func (n *NotificationPublisher) PublishSystemAlert(ctx context.Context, userID, alertType, alertMessage string) bool {
	return n.publishNotification(ctx, "notification.system.alert", map[string]any{
		"user_id":           userID,
		"notification_type": "system_alert",
		"title":             "System alert - " + alertType,
		"message":           alertMessage,
		"metadata": map[string]any{
			"alert_type": alertType,
		},
	})
}

// SystemPublisher publishes process lifecycle events. The event_type is
// always "system"; the payload's event field selects the concrete handler.
type SystemPublisher struct {
	*Publisher
}

func NewSystemPublisher(p *Publisher) *SystemPublisher {
	return &SystemPublisher{Publisher: p}
}

// PublishApplicationStartup announces a process start.
func (s *SystemPublisher) PublishApplicationStartup(ctx context.Context, version, environment string) bool {
	return s.Publish(ctx, "events.application.startup", newMessage("system", map[string]any{
		"event":       "application_startup",
		"version":     version,
		"environment": environment,
	}))
}

// PublishDatabaseBackup announces a completed database backup.
func (s *SystemPublisher) PublishDatabaseBackup(ctx context.Context, backupPath string, backupSize int64) bool {
	return s.Publish(ctx, "events.database.backup", newMessage("system", map[string]any{
		"event":       "database_backup",
		"backup_path": backupPath,
		"backup_size": backupSize,
	}))
}
