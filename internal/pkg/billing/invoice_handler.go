package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/billingsync/app/models"
)

func (h *handlerRun) applyInvoice(ev *CanonicalEvent) error {
	if ev.ProviderEntityID == "" {
		return malformed("%s invoice event without id", ev.Provider)
	}
	existing, err := h.repo.FindInvoiceByProviderID(ev.Provider, ev.ProviderEntityID)
	if err != nil {
		return err
	}
	if existing != nil && isFinalInvoiceStatus(existing.Status) && !isFinalInvoiceStatus(ev.Status) {
		log.Infof("[Billing] Keeping %s invoice %s at %s, ignoring late %s", ev.Provider, ev.ProviderEntityID, existing.Status, ev.Status)
		return nil
	}

	var ownerID uint
	if existing != nil {
		ownerID = existing.UserID
	}
	if ownerID == 0 && ev.ProviderSubscriptionID != "" {
		sub, err := h.repo.FindSubscriptionByProviderID(ev.Provider, ev.ProviderSubscriptionID)
		if err != nil {
			return err
		}
		if sub != nil {
			ownerID = sub.UserID
		}
	}
	userID, err := h.resolveUser(ev, ownerID)
	if err != nil {
		if errors.Is(err, ErrUserNotResolved) {
			// Invoices routinely arrive before their subscription; let the
			// queue retry instead of parking the event.
			return fmt.Errorf("owner of %s invoice %s not known yet (subscription %q)", ev.Provider, ev.ProviderEntityID, ev.ProviderSubscriptionID)
		}
		return err
	}

	next := nextInvoiceState(existing, ev, userID, h.now)
	if existing == nil {
		created, err := h.repo.CreateInvoice(&next)
		if err != nil {
			return fmt.Errorf("create invoice %s: %w", ev.ProviderEntityID, err)
		}
		if !created {
			return fmt.Errorf("invoice %s/%s was created concurrently", ev.Provider, ev.ProviderEntityID)
		}
		return nil
	}
	if err := h.repo.UpdateInvoice(&next); err != nil {
		return fmt.Errorf("update invoice %d: %w", next.ID, err)
	}
	return nil
}

func nextInvoiceState(existing *models.Invoice, ev *CanonicalEvent, userID uint, now time.Time) models.Invoice {
	var next models.Invoice
	if existing != nil {
		next = *existing
	} else {
		next = models.Invoice{
			Provider:   ev.Provider,
			ProviderID: ev.ProviderEntityID,
			CreatedAt:  now,
		}
	}
	next.UserID = userID
	if ev.ProviderSubscriptionID != "" {
		next.ProviderSubscriptionID = ev.ProviderSubscriptionID
	}
	if ev.ProviderCustomerID != "" {
		next.ProviderCustomerID = ev.ProviderCustomerID
	}
	if ev.Number != "" {
		next.Number = ev.Number
	}
	if ev.Status != "" {
		next.Status = ev.Status
	}
	if ev.Currency != "" {
		next.Currency = ev.Currency
	}
	next.AmountDue = ev.AmountDue
	next.AmountPaid = ev.AmountPaid
	if ev.IssuedAt != nil {
		next.IssuedAt = ev.IssuedAt
	}
	if ev.PaidAt != nil {
		next.PaidAt = ev.PaidAt
	}
	if ev.HostedURL != "" {
		next.HostedURL = ev.HostedURL
	}
	if ev.PDFURL != "" {
		next.PDFURL = ev.PDFURL
	}
	next.UpdatedAt = now
	return next
}

func isFinalInvoiceStatus(status string) bool {
	switch strings.ToLower(status) {
	case "paid", "void", "uncollectible":
		return true
	default:
		return false
	}
}
