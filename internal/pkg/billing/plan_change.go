package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/ManuelReschke/billingsync/app/models"
)

// RequestPlanChange records a locally requested switch to priceKey. The
// subscription keeps its current plan until a webhook reports the new
// provider price id.
func (s *Service) RequestPlanChange(ctx context.Context, subscriptionID uint, priceKey string) (*models.Subscription, error) {
	key := strings.TrimSpace(priceKey)
	if key == "" {
		return nil, fmt.Errorf("%w: empty price key", ErrPriceNotFound)
	}

	var out *models.Subscription
	err := s.repo.Transaction(ctx, func(repo Repository) error {
		sub, err := repo.GetSubscription(subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status == models.SubscriptionStatusCanceled || sub.Status == models.SubscriptionStatusExpired {
			return fmt.Errorf("%w: subscription %d is %s", ErrSubscriptionEnded, sub.ID, sub.Status)
		}

		price, err := repo.FindPriceByKey(key)
		if err != nil {
			return err
		}
		if price == nil {
			return fmt.Errorf("%w: %s", ErrPriceNotFound, key)
		}
		mapping, err := repo.FindPriceMappingForPrice(price.ID, sub.Provider)
		if err != nil {
			return err
		}
		if mapping == nil {
			return fmt.Errorf("%w: %s on %s", ErrPriceNotMapped, key, sub.Provider)
		}

		now := s.clock()
		meta := datatypes.JSONMap{}
		for k, v := range sub.Metadata {
			meta[k] = v
		}
		meta[models.MetaPendingPlanKey] = price.Product.Key
		meta[models.MetaPendingPriceKey] = price.Key
		meta[models.MetaPendingProviderPriceID] = mapping.ProviderPriceID
		meta[models.MetaPendingPlanChangeRequestedAt] = now.Format(time.RFC3339)

		if err := repo.UpdateSubscriptionMetadata(sub.ID, meta, now); err != nil {
			return fmt.Errorf("record plan change for subscription %d: %w", sub.ID, err)
		}
		sub.Metadata = meta
		sub.UpdatedAt = now
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
