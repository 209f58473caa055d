package billing

import (
	"context"
	"strings"
)

// PlanHints carries plan/price keys found in payload metadata. They are the
// fallback only; a mapped provider price id always wins.
type PlanHints struct {
	PlanKey  string
	PriceKey string
}

// PlanResolution is the outcome of ResolvePlan.
type PlanResolution struct {
	PlanKey         string
	PriceKey        string
	ProviderPriceID string
	FromMapping     bool
}

func (r PlanResolution) IsEmpty() bool {
	return r.PlanKey == ""
}

// ResolvePlan derives the local plan for a set of provider price ids. The
// first price id with an active mapping decides; stale metadata on long-lived
// subscriptions must never override it. Only when nothing maps are the hints
// consulted: first the price key (through the local catalog), then the raw
// plan key.
func (s *Service) ResolvePlan(ctx context.Context, provider string, priceIDs []string, hints PlanHints) (PlanResolution, error) {
	return resolvePlan(s.repo.WithContext(ctx), provider, priceIDs, hints)
}

func resolvePlan(repo Repository, provider string, priceIDs []string, hints PlanHints) (PlanResolution, error) {
	seen := make(map[string]struct{}, len(priceIDs))
	firstPriceID := ""
	for _, raw := range priceIDs {
		ref := strings.TrimSpace(raw)
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		if firstPriceID == "" {
			firstPriceID = ref
		}

		m, err := repo.FindActivePriceMapping(provider, ref)
		if err != nil {
			return PlanResolution{}, err
		}
		if m == nil || m.Price.Product.Key == "" {
			continue
		}
		return PlanResolution{
			PlanKey:         m.Price.Product.Key,
			PriceKey:        m.Price.Key,
			ProviderPriceID: ref,
			FromMapping:     true,
		}, nil
	}

	if key := strings.TrimSpace(hints.PriceKey); key != "" {
		price, err := repo.FindPriceByKey(key)
		if err != nil {
			return PlanResolution{}, err
		}
		if price != nil && price.Product.Key != "" {
			return PlanResolution{
				PlanKey:         price.Product.Key,
				PriceKey:        price.Key,
				ProviderPriceID: firstPriceID,
			}, nil
		}
	}

	if key := strings.TrimSpace(hints.PlanKey); key != "" {
		return PlanResolution{
			PlanKey:         key,
			PriceKey:        strings.TrimSpace(hints.PriceKey),
			ProviderPriceID: firstPriceID,
		}, nil
	}

	return PlanResolution{ProviderPriceID: firstPriceID}, nil
}
