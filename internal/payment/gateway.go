package payment

import (
	"fmt"

	"storefront-checkout/internal/config"
)

// New returns the single provider configured for this deployment.
func New(cfg *config.Config) (Gateway, error) {
	switch cfg.PaymentGateway {
	case zarinpalProvider:
		return NewZarinpalGateway(ZarinpalConfig{
			MerchantID: cfg.ZarinpalMerchantID,
			BaseURL:    cfg.ZarinpalBaseURL,
			Timeout:    cfg.GatewayTimeout,
		}), nil
	case mellatProvider:
		return NewMellatGateway(MellatConfig{
			TerminalID: cfg.MellatTerminalID,
			Username:   cfg.MellatUsername,
			Password:   cfg.MellatPassword,
			BaseURL:    cfg.MellatBaseURL,
			Timeout:    cfg.GatewayTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGateway, cfg.PaymentGateway)
	}
}
