// Package notify delivers caregiver escalations over Telegram.
package notify

import (
	"context"
	"fmt"
	"io"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"careplus/internal/reminder"
)

// telegramSender is the slice of the bot API the notifier needs.
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// CaregiverNotifier sends a message to the configured caregiver chat
// when a reminder alert stays unacknowledged past the timeout.
type CaregiverNotifier struct {
	sender telegramSender
	chatID int64
	logger *zerolog.Logger
}

// New creates a notifier from a bot token and chat id.
func New(botToken string, chatID int64, logger *zerolog.Logger) (*CaregiverNotifier, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &CaregiverNotifier{sender: api, chatID: chatID, logger: logger}, nil
}

// NotifyMissedAlert implements reminder.EscalationNotifier.
func (n *CaregiverNotifier) NotifyMissedAlert(ctx context.Context, principal string, alert reminder.PendingAlert) error {
	text := formatMissedAlert(principal, alert)
	msg := tgbotapi.NewMessage(n.chatID, text)

	if _, err := n.sender.Send(msg); err != nil {
		return fmt.Errorf("send caregiver message: %w", err)
	}

	n.logger.Info().Str("principal", principal).Int("reminder_id", alert.Reminder.ID).
		Msg("caregiver notified about missed alert")
	return nil
}

// SendDocument sends a file to the caregiver chat, satisfying
// audit.DocumentSender.
func (n *CaregiverNotifier) SendDocument(ctx context.Context, filename string, data io.Reader, caption string) error {
	doc := tgbotapi.NewDocument(n.chatID, tgbotapi.FileReader{Name: filename, Reader: data})
	doc.Caption = caption

	if _, err := n.sender.Send(doc); err != nil {
		return fmt.Errorf("send caregiver document: %w", err)
	}

	n.logger.Info().Str("filename", filename).Msg("document sent to caregiver")
	return nil
}

func formatMissedAlert(principal string, alert reminder.PendingAlert) string {
	return fmt.Sprintf("Unacknowledged reminder for %s: %q (%s, scheduled %s). Shown at %s and still pending.",
		principal,
		alert.Reminder.Title,
		reminder.Label(alert.Reminder.Type, reminder.LangEnglish),
		alert.Reminder.Time,
		alert.ShownAt.Format("15:04"),
	)
}

var _ reminder.EscalationNotifier = (*CaregiverNotifier)(nil)
