package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"call-price-tracker/internal/alerting"
)

// SimulateAlert pushes a synthetic new-ATH notification through the
// configured channels. Useful to verify Telegram wiring.
func (a *App) SimulateAlert(ctx context.Context, assetID string, entry, ath, current decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	now := time.Now().UTC()
	note := alerting.Notification{
		AssetID:       assetID,
		CalledAt:      now.Add(-24 * time.Hour),
		PriceAtCall:   &entry,
		ATHPrice:      ath,
		ATHAt:         &now,
		CurrentPrice:  current,
		Channels:      a.Config.Alerting.Channels,
		AdditionalMsg: "(simulated)",
	}
	return notifier.Notify(ctx, note)
}
