package domain

// Topic names a cache change. Notifications carry no payload; subscribers
// re-read the cache they care about.
type Topic string

const (
	TopicTrackerRatesUpdated    Topic = "rates.tracker.updated"
	TopicExchangeRatesUpdated   Topic = "rates.exchange.updated"
	TopicProductionRatesUpdated Topic = "rates.production.updated"
	TopicProductionRatesFailed  Topic = "rates.production.failed"
	TopicGasPriceUpdated        Topic = "gas.current.updated"
	TopicMaxGasPriceUpdated     Topic = "gas.max.updated"
	TopicGasFallbackUsed        Topic = "gas.fallback.used"
)

// AllTopics lists every topic, in a stable order.
var AllTopics = []Topic{
	TopicTrackerRatesUpdated,
	TopicExchangeRatesUpdated,
	TopicProductionRatesUpdated,
	TopicProductionRatesFailed,
	TopicGasPriceUpdated,
	TopicMaxGasPriceUpdated,
	TopicGasFallbackUsed,
}

// Feed names, used for metrics and logs.
const (
	FeedTracker     = "tracker"
	FeedExchangeETH = "exchange_eth"
	FeedExchangeUSD = "exchange_usd"
	FeedProduction  = "production"
	FeedGasCurrent  = "gas_current"
	FeedGasMax      = "gas_max"
	FeedGasNode     = "gas_node"
)
