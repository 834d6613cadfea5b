package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rpg-portal/logger"
	"rpg-portal/metrics"
	"rpg-portal/models"

	"github.com/google/uuid"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"gorm.io/gorm"
)

// Mailer delivers a plain-text email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SendGridMailer sends through the SendGrid v3 API.
type SendGridMailer struct {
	fromEmail string
	fromName  string
	client    *sendgrid.Client
}

func NewSendGridMailer(apiKey, fromEmail, fromName string) *SendGridMailer {
	return &SendGridMailer{
		fromEmail: fromEmail,
		fromName:  fromName,
		client:    sendgrid.NewSendClient(apiKey),
	}
}

func (m *SendGridMailer) Send(ctx context.Context, to, subject, body string) error {
	message := mail.NewSingleEmail(mail.NewEmail(m.fromName, m.fromEmail), subject, mail.NewEmail("", to), body, "")
	resp, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid error: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// NopMailer is used when no provider is configured.
type NopMailer struct{}

func (NopMailer) Send(context.Context, string, string, string) error { return nil }

// MessageInput addresses a message to explicit users, to every user of a
// plan, or to everybody.
type MessageInput struct {
	UserIDs []string `json:"user_ids"`
	Plan    string   `json:"plan"`
	All     bool     `json:"all"`
	Subject string   `json:"subject" validate:"required,max=200"`
	Body    string   `json:"body" validate:"required,max=10000"`
	Email   bool     `json:"email"` // also deliver by email
}

type SendReport struct {
	Stored      int `json:"stored"`
	Emailed     int `json:"emailed"`
	EmailFailed int `json:"email_failed"`
}

type MessageService struct {
	DB     *gorm.DB
	Mailer Mailer
	now    func() time.Time
}

func NewMessageService(db *gorm.DB, mailer Mailer) *MessageService {
	if mailer == nil {
		mailer = NopMailer{}
	}
	return &MessageService{DB: db, Mailer: mailer, now: time.Now}
}

// Send stores one message per recipient and, when asked, emails it.
// Email failures are counted, logged and never undo the stored message.
func (s *MessageService) Send(ctx context.Context, sender string, in MessageInput) (SendReport, error) {
	var report SendReport
	in.Subject = strings.TrimSpace(in.Subject)
	in.Body = strings.TrimSpace(in.Body)
	if err := Validate.Struct(in); err != nil {
		return report, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	db := s.DB.WithContext(ctx)
	q := db.Model(&models.User{})
	switch {
	case len(in.UserIDs) > 0:
		q = q.Where("id IN ?", in.UserIDs)
	case in.Plan != "":
		if !IsValidPlan(in.Plan) {
			return report, fmt.Errorf("%w: %s", ErrUnknownPlan, in.Plan)
		}
		q = q.Where("plan = ?", NormalizePlan(in.Plan))
	case in.All:
	default:
		return report, fmt.Errorf("%w: no recipients selected", ErrValidation)
	}
	var recipients []models.User
	if err := q.Find(&recipients).Error; err != nil {
		return report, fmt.Errorf("load recipients: %w", err)
	}
	if len(recipients) == 0 {
		return report, fmt.Errorf("%w: no matching recipients", ErrNotFound)
	}

	messages := make([]models.Message, 0, len(recipients))
	for _, u := range recipients {
		messages = append(messages, models.Message{
			ID:          uuid.NewString(),
			SenderEmail: NormalizeEmail(sender),
			UserID:      u.ID,
			Subject:     in.Subject,
			Body:        in.Body,
			CreatedAt:   s.now(),
		})
	}
	if err := db.CreateInBatches(messages, 100).Error; err != nil {
		return report, fmt.Errorf("store messages: %w", err)
	}
	report.Stored = len(messages)

	for i, u := range recipients {
		if !in.Email {
			metrics.MessagesSent.WithLabelValues("stored").Inc()
			continue
		}
		if err := s.Mailer.Send(ctx, u.Email, in.Subject, in.Body); err != nil {
			report.EmailFailed++
			metrics.MessagesSent.WithLabelValues("email_failed").Inc()
			logger.Warn().Err(err).Str("user_id", u.ID).Msg("❌ Failed to email message")
			continue
		}
		now := s.now()
		if err := db.Model(&models.Message{}).Where("id = ?", messages[i].ID).Update("emailed_at", now).Error; err != nil {
			logger.Warn().Err(err).Str("message_id", messages[i].ID).Msg("⚠️ Failed to record email delivery")
		}
		report.Emailed++
		metrics.MessagesSent.WithLabelValues("emailed").Inc()
	}
	logger.Info().Str("sender", sender).Int("stored", report.Stored).Int("emailed", report.Emailed).Msg("✉️ Messages sent")
	return report, nil
}

// ForUser lists a user's inbox, newest first.
func (s *MessageService) ForUser(ctx context.Context, userID string) ([]models.Message, error) {
	var msgs []models.Message
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&msgs).Error
	return msgs, err
}

// MarkRead flags a message read; only its recipient may do so. changed
// reports whether the message was unread before.
func (s *MessageService) MarkRead(ctx context.Context, userID, messageID string) (msg *models.Message, changed bool, err error) {
	var m models.Message
	err = s.DB.WithContext(ctx).First(&m, "id = ?", messageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("%w: message %s", ErrNotFound, messageID)
	}
	if err != nil {
		return nil, false, err
	}
	if m.UserID != userID {
		return nil, false, ErrForbidden
	}
	if m.Read {
		return &m, false, nil
	}
	m.Read = true
	if err := s.DB.WithContext(ctx).Model(&m).Update("read", true).Error; err != nil {
		return nil, false, err
	}
	return &m, true, nil
}
