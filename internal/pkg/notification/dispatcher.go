package notification

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
	"github.com/ManuelReschke/billingsync/internal/pkg/mail"
)

// Dispatcher stores every notice in the user's inbox and, when a mailer is
// configured, emails it as well. Mail failures are logged only.
type Dispatcher struct {
	db     *gorm.DB
	mailer mail.Sender
}

var _ billing.Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher. mailer may be nil.
func NewDispatcher(db *gorm.DB, mailer mail.Sender) *Dispatcher {
	return &Dispatcher{db: db, mailer: mailer}
}

// Message is the rendered form of a notice
type Message struct {
	Subject string
	Plain   string
	HTML    string
}

func (d *Dispatcher) Notify(ctx context.Context, n billing.Notice) error {
	msg, err := Render(n)
	if err != nil {
		return err
	}

	db := d.db.WithContext(ctx)
	if _, err := models.CreateNotification(db, n.UserID, n.Type, msg.Plain, n.ReferenceType, n.ReferenceID); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}

	if d.mailer == nil {
		return nil
	}

	var user models.User
	if err := db.Select("id", "email").First(&user, n.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Notify] User %d not found, %s email skipped", n.UserID, n.Type)
			return nil
		}
		log.Errorf("[Notify] Failed to load user %d: %v", n.UserID, err)
		return nil
	}
	if user.Email == "" {
		return nil
	}
	if err := d.mailer.Send(user.Email, msg.Subject, msg.HTML, msg.Plain); err != nil {
		log.Errorf("[Notify] %s email to user %d failed: %v", n.Type, n.UserID, err)
		return nil
	}
	log.Infof("[Notify] %s email sent to user %d", n.Type, n.UserID)
	return nil
}

// Render turns a notice into subject and bodies.
func Render(n billing.Notice) (Message, error) {
	plan := n.PlanKey
	if plan == "" {
		plan = "your plan"
	}

	var subject, body string
	switch n.Type {
	case models.NotificationSubscriptionStarted:
		subject = "Your subscription is active"
		body = fmt.Sprintf("Your subscription to %s is now active.", plan)
	case models.NotificationSubscriptionCancelled:
		subject = "Your subscription was cancelled"
		if n.EndsAt != nil {
			body = fmt.Sprintf("Your subscription to %s was cancelled. You keep access until %s.", plan, n.EndsAt.UTC().Format("2006-01-02"))
		} else {
			body = fmt.Sprintf("Your subscription to %s was cancelled.", plan)
		}
	case models.NotificationPaymentSucceeded:
		subject = "Payment received"
		body = fmt.Sprintf("We received your payment of %s for %s.", FormatAmount(n.Amount, n.Currency), plan)
	default:
		return Message{}, fmt.Errorf("unknown notification type %q", n.Type)
	}

	return Message{
		Subject: subject,
		Plain:   body,
		HTML:    "<html><body><p>" + html.EscapeString(body) + "</p></body></html>",
	}, nil
}

// FormatAmount prints minor units as "12.34 EUR".
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return strings.TrimSpace(fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, strings.ToUpper(currency)))
}
