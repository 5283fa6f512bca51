package storage

// PriceRecord is one finalized minute quote. Timestamp is an ISO-8601 string
// with a fixed +08:00 offset, so lexical order is chronological order.
type PriceRecord struct {
	Metal      string   `gorm:"column:metal;type:text;primaryKey"`
	Timestamp  string   `gorm:"column:timestamp;type:text;primaryKey"`
	PriceCNY   float64  `gorm:"column:price_cny;not null"`
	USDCNYRate *float64 `gorm:"column:usd_cny_rate"`
}

// TableName overrides the default table name for GORM.
func (PriceRecord) TableName() string {
	return "prices"
}

// QuotaRecord counts calls made to the rate source on one UTC day.
type QuotaRecord struct {
	Date  string `gorm:"column:date;type:text;primaryKey"`
	Count int    `gorm:"column:alpha_vantage_count;not null;default:0"`
}

// TableName overrides the default table name for GORM.
func (QuotaRecord) TableName() string {
	return "api_requests"
}
