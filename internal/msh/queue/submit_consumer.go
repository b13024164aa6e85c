package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/openmsh/as4gateway/internal/msh/app"
	"github.com/openmsh/as4gateway/internal/msh/domain"
	"github.com/openmsh/as4gateway/internal/platform/messagebroker"
)

var submitCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "msh_submissions_total",
		Help: "Total number of backend message submissions consumed.",
	},
	[]string{"outcome"},
)

// SubmitPart is one payload part of a backend submission. Payload bytes
// travel base64-encoded.
type SubmitPart struct {
	Href        string            `json:"href"`
	Length      int64             `json:"length"`
	ContentType string            `json:"content_type"`
	InBody      bool              `json:"in_body"`
	Properties  map[string]string `json:"properties"`
	Data        string            `json:"data"`
}

// SubmitRequest is the wire form a backend uses to hand a message over.
type SubmitRequest struct {
	Tenant         string       `json:"tenant"`
	MessageID      string       `json:"message_id"`
	RefToMessageID string       `json:"ref_to_message_id"`
	ConversationID string       `json:"conversation_id"`
	Service        string       `json:"service"`
	Action         string       `json:"action"`
	AgreementRef   string       `json:"agreement_ref"`
	FromPartyID    string       `json:"from_party_id"`
	FromRole       string       `json:"from_role"`
	ToPartyID      string       `json:"to_party_id"`
	ToRole         string       `json:"to_role"`
	MPC            string       `json:"mpc"`
	FinalRecipient string       `json:"final_recipient"`
	OriginalUser   string       `json:"original_user"`
	SourceMessage  bool         `json:"source_message"`
	BackendName    string       `json:"backend_name"`
	Parts          []SubmitPart `json:"parts"`
}

// SubmitConsumer consumes backend submissions from the broker and feeds
// them into the messaging service.
type SubmitConsumer struct {
	client    *messagebroker.NATSClient
	messaging *app.MessagingService
	logRepo   domain.MessageLogRepository
	scheduler *app.DispatchScheduler
	legs      domain.LegConfigurationProvider
	logger    *slog.Logger
}

func NewSubmitConsumer(
	client *messagebroker.NATSClient,
	messaging *app.MessagingService,
	logRepo domain.MessageLogRepository,
	scheduler *app.DispatchScheduler,
	legs domain.LegConfigurationProvider,
	logger *slog.Logger,
) *SubmitConsumer {
	return &SubmitConsumer{
		client:    client,
		messaging: messaging,
		logRepo:   logRepo,
		scheduler: scheduler,
		legs:      legs,
		logger:    logger.With("component", "submit_consumer"),
	}
}

// Start subscribes to the submission subject with a shared queue group so
// multiple gateway instances split the load.
func (c *SubmitConsumer) Start(ctx context.Context, subject string) (*nats.Subscription, error) {
	return c.client.Subscribe(subject, "msh-submit-workers", func(m *nats.Msg) {
		c.handle(ctx, m.Data)
	})
}

func (c *SubmitConsumer) handle(ctx context.Context, data []byte) {
	var req SubmitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.logger.ErrorContext(ctx, "Error decoding submission", "error", err)
		submitCounter.WithLabelValues("decode_error").Inc()
		return
	}

	tenant := domain.Tenant(req.Tenant)
	msg, err := req.toMessage()
	if err != nil {
		c.logger.ErrorContext(ctx, "Error building message from submission", "error", err, "message_id", req.MessageID)
		submitCounter.WithLabelValues("decode_error").Inc()
		return
	}

	leg, err := c.legs.GetLegConfiguration(ctx, tenant, msg.MessageID, msg.Role)
	if err != nil {
		c.logger.ErrorContext(ctx, "Error resolving leg for submission", "error", err, "message_id", msg.MessageID)
		submitCounter.WithLabelValues("error").Inc()
		return
	}

	if err := c.messaging.StoreMessage(ctx, tenant, msg, leg, req.BackendName); err != nil {
		c.logger.ErrorContext(ctx, "Error storing submitted message", "error", err, "message_id", msg.MessageID, "tenant", tenant)
		submitCounter.WithLabelValues("error").Inc()
		return
	}

	now := time.Now().UTC()
	log := &domain.MessageLog{
		MessageID:          msg.MessageID,
		Tenant:             tenant,
		Role:               msg.Role,
		Status:             domain.StatusSendEnqueued,
		NotificationStatus: domain.NotificationStatusRequired,
		BackendName:        req.BackendName,
		MPC:                msg.MPC,
		Received:           now,
		SendAttemptsMax:    leg.MaxAttempts,
	}
	if err := c.logRepo.Create(ctx, tenant, log); err != nil {
		c.logger.ErrorContext(ctx, "Error creating message log for submission", "error", err, "message_id", msg.MessageID)
		submitCounter.WithLabelValues("error").Inc()
		return
	}

	// Source messages are scheduled by the payload store path once their
	// payloads are written; everything else dispatches right away.
	if !msg.SourceMessage {
		if err := c.scheduler.ScheduleSending(ctx, tenant, msg, log); err != nil {
			c.logger.ErrorContext(ctx, "Error scheduling submitted message", "error", err, "message_id", msg.MessageID)
		}
	}
	submitCounter.WithLabelValues("success").Inc()
}

func (r *SubmitRequest) toMessage() (*domain.Message, error) {
	msg := &domain.Message{
		MessageID:      r.MessageID,
		RefToMessageID: r.RefToMessageID,
		Tenant:         domain.Tenant(r.Tenant),
		Role:           domain.RoleSending,
		ConversationID: r.ConversationID,
		Service:        r.Service,
		Action:         r.Action,
		AgreementRef:   r.AgreementRef,
		From:           domain.Party{PartyID: r.FromPartyID, Role: r.FromRole},
		To:             domain.Party{PartyID: r.ToPartyID, Role: r.ToRole},
		MPC:            r.MPC,
		FinalRecipient: r.FinalRecipient,
		OriginalUser:   r.OriginalUser,
		SourceMessage:  r.SourceMessage,
		Created:        time.Now().UTC(),
	}
	for _, p := range r.Parts {
		raw, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			return nil, err
		}
		length := p.Length
		if length == 0 {
			length = int64(len(raw))
		}
		msg.Parts = append(msg.Parts, domain.PartInfo{
			Href:        p.Href,
			Length:      length,
			ContentType: p.ContentType,
			InBody:      p.InBody,
			Properties:  p.Properties,
			Data:        raw,
		})
	}
	return msg, nil
}
