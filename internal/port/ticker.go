package port

import "wallet_aggregator/internal/domain/entity"

// TickerSource is a live map from (contract, chain) to price ticker.
type TickerSource interface {
	// Ticker returns the current ticker for the token, if one is known.
	Ticker(key entity.TokenKey) (entity.TickerInfo, bool)

	// OnUpdate registers a callback fired after the source refreshes its map.
	// The callback must be cheap; heavy work belongs on the caller's side.
	OnUpdate(fn func())
}
