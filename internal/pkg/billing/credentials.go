package billing

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ManuelReschke/billingsync/app/models"
)

const (
	defaultStripeAPIBaseURL = "https://api.stripe.com"
	defaultPaddleAPIBaseURL = "https://api.paddle.com"
)

// EnvLookup resolves an environment value with a default, e.g. env.GetEnv.
type EnvLookup func(key, def string) string

// ResolvedCredentials is the merged view of a provider's secrets. Values from
// the payment_providers row win over environment fallbacks when non-empty.
type ResolvedCredentials struct {
	Provider      string `validate:"required,oneof=stripe paddle"`
	WebhookSecret string
	SecretKey     string
	APIBaseURL    string `validate:"required,url"`
}

type credentialKeys struct {
	webhookSecret string
	secretKey     string
	apiBaseURL    string
	defaultBase   string
}

var envCredentialKeys = map[string]credentialKeys{
	models.ProviderStripe: {
		webhookSecret: "STRIPE_WEBHOOK_SECRET",
		secretKey:     "STRIPE_SECRET_KEY",
		apiBaseURL:    "STRIPE_API_BASE_URL",
		defaultBase:   defaultStripeAPIBaseURL,
	},
	models.ProviderPaddle: {
		webhookSecret: "PADDLE_WEBHOOK_SECRET",
		secretKey:     "PADDLE_API_KEY",
		apiBaseURL:    "PADDLE_API_BASE_URL",
		defaultBase:   defaultPaddleAPIBaseURL,
	},
}

// ResolveCredentials merges provider configuration over environment values.
func ResolveCredentials(provider *models.PaymentProvider, lookup EnvLookup) (ResolvedCredentials, error) {
	if provider == nil {
		return ResolvedCredentials{}, ErrUnknownProvider
	}
	slug := strings.ToLower(strings.TrimSpace(provider.Slug))
	keys, ok := envCredentialKeys[slug]
	if !ok {
		return ResolvedCredentials{}, fmt.Errorf("%w: %s", ErrUnknownProvider, slug)
	}
	if lookup == nil {
		lookup = func(_, def string) string { return def }
	}

	pick := func(configKey, envKey, def string) string {
		if v := provider.ConfigString(configKey); v != "" {
			return v
		}
		return strings.TrimSpace(lookup(envKey, def))
	}

	creds := ResolvedCredentials{
		Provider:      slug,
		WebhookSecret: pick("webhook_secret", keys.webhookSecret, ""),
		SecretKey:     pick("secret_key", keys.secretKey, ""),
		APIBaseURL:    strings.TrimRight(pick("api_base_url", keys.apiBaseURL, keys.defaultBase), "/"),
	}
	if err := validator.New().Struct(creds); err != nil {
		return ResolvedCredentials{}, fmt.Errorf("invalid %s credentials: %w", slug, err)
	}
	return creds, nil
}
