package billing

import (
	"fmt"
	"time"

	"github.com/ManuelReschke/billingsync/app/models"
)

// handlerRun carries the state of applying one canonical event inside a
// transaction. Notices collected here are dispatched after commit.
type handlerRun struct {
	repo    Repository
	bc      *BillingContext
	now     time.Time
	notices []Notice
	linked  []string
}

// resolveUser finds the local user for an event: payload metadata first,
// then the user of the row being updated, then the customer mapping.
func (h *handlerRun) resolveUser(ev *CanonicalEvent, existingUserID uint) (uint, error) {
	userID := ev.UserID
	if userID == 0 {
		userID = existingUserID
	}
	if userID == 0 && ev.ProviderCustomerID != "" {
		id, err := h.repo.FindCustomerUserID(ev.Provider, ev.ProviderCustomerID)
		if err != nil {
			return 0, err
		}
		userID = id
	}
	if userID == 0 {
		return 0, fmt.Errorf("%w: %s %s %s", ErrUserNotResolved, ev.Entity, ev.ProviderEntityID, customerRef(ev.ProviderCustomerID))
	}
	if ev.ProviderCustomerID != "" {
		if err := h.linkCustomer(ev.Provider, ev.ProviderCustomerID, userID); err != nil {
			return 0, err
		}
	}
	return userID, nil
}

func (h *handlerRun) linkCustomer(provider, customerID string, userID uint) error {
	err := h.repo.UpsertCustomer(&models.BillingCustomer{
		UserID:             userID,
		Provider:           provider,
		ProviderCustomerID: customerID,
		CreatedAt:          h.now,
		UpdatedAt:          h.now,
	})
	if err != nil {
		return fmt.Errorf("link customer %s/%s: %w", provider, customerID, err)
	}
	h.linked = append(h.linked, customerID)
	return nil
}

// customerRef is how failure messages name a provider customer. Failed rows
// are matched on it once the customer gets linked.
func customerRef(customerID string) string {
	return fmt.Sprintf("(customer %q)", customerID)
}

// applyCustomer records the customer to user link announced by a
// subscription checkout.
func (h *handlerRun) applyCustomer(ev *CanonicalEvent) error {
	if ev.UserID == 0 || ev.ProviderCustomerID == "" {
		return nil
	}
	return h.linkCustomer(ev.Provider, ev.ProviderCustomerID, ev.UserID)
}

func (h *handlerRun) notify(n Notice) {
	h.notices = append(h.notices, n)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
