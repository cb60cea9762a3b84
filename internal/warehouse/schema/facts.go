package schema

// FactEventTag is the N:N bridge between events and tags.
type FactEventTag struct {
	ID      int64  `gorm:"column:id;primaryKey;autoIncrement"`
	EventID string `gorm:"column:event_id;not null;type:text;index:idx_event_tag_event"`
	TagID   int    `gorm:"column:tag_id;not null;index:idx_event_tag_tag"`
}

// TableName specifies the table name for the FactEventTag model
func (FactEventTag) TableName() string {
	return "fact_event_tag"
}

// FactMarketEvent is the N:N bridge between markets and events.
type FactMarketEvent struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	MarketID string `gorm:"column:market_id;not null;type:text;index:idx_market_event_market"`
	EventID  string `gorm:"column:event_id;not null;type:text;index:idx_market_event_event"`
}

// TableName specifies the table name for the FactMarketEvent model
func (FactMarketEvent) TableName() string {
	return "fact_market_event"
}

// FactMarketMetrics holds one metric observation per market per observed
// date. The date comes from the record's update timestamp; rows are never
// fabricated for dates without an observation.
type FactMarketMetrics struct {
	ID             int64    `gorm:"column:id;primaryKey;autoIncrement"`
	MarketID       string   `gorm:"column:market_id;not null;type:text;index:idx_market_metrics_market"`
	DateID         int      `gorm:"column:date_id;not null;index:idx_market_metrics_date"`
	Volume         *float64 `gorm:"column:volume"`
	Liquidity      *float64 `gorm:"column:liquidity"`
	LastTradePrice *float64 `gorm:"column:last_trade_price"`
	Spread         *float64 `gorm:"column:spread"`
}

// TableName specifies the table name for the FactMarketMetrics model
func (FactMarketMetrics) TableName() string {
	return "fact_market_metrics"
}

// FactEventMetrics holds per-event aggregates computed from child markets.
type FactEventMetrics struct {
	ID             int64    `gorm:"column:id;primaryKey;autoIncrement"`
	EventID        string   `gorm:"column:event_id;not null;type:text;index:idx_event_metrics_event"`
	DateID         int      `gorm:"column:date_id;not null;index:idx_event_metrics_date"`
	TotalMarkets   int      `gorm:"column:total_markets;not null;default:0"`
	ActiveMarkets  int      `gorm:"column:active_markets;not null;default:0"`
	ClosedMarkets  int      `gorm:"column:closed_markets;not null;default:0"`
	TotalVolume    *float64 `gorm:"column:total_volume"`
	TotalLiquidity *float64 `gorm:"column:total_liquidity"`
}

// TableName specifies the table name for the FactEventMetrics model
func (FactEventMetrics) TableName() string {
	return "fact_event_metrics"
}

// AllModels returns every warehouse model in dependency order, dimensions
// before the facts that reference them.
func AllModels() []interface{} {
	return []interface{}{
		&DimDate{},
		&DimEvent{},
		&DimMarket{},
		&DimSeries{},
		&DimTag{},
		&FactEventTag{},
		&FactMarketEvent{},
		&FactMarketMetrics{},
		&FactEventMetrics{},
	}
}
