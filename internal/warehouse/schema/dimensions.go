// Package schema defines the star-schema tables of the analytical warehouse:
// five dimensions and four facts, rebuilt wholesale on every pipeline run.
package schema

import (
	"time"
)

// DimDate is the synthesized calendar dimension. DateID encodes the calendar
// date as YYYYMMDD so fact rows stay readable without a join.
type DimDate struct {
	DateID    int       `gorm:"column:date_id;primaryKey"`
	Date      time.Time `gorm:"column:date;not null;uniqueIndex;type:date"`
	Year      int       `gorm:"column:year;not null"`
	Month     int       `gorm:"column:month;not null"`
	Day       int       `gorm:"column:day;not null"`
	Quarter   int       `gorm:"column:quarter;not null"`
	DayOfWeek int       `gorm:"column:day_of_week;not null"`
	IsWeekend bool      `gorm:"column:is_weekend;not null"`
}

// TableName specifies the table name for the DimDate model
func (DimDate) TableName() string {
	return "dim_date"
}

// DimEvent holds the descriptive attributes of a prediction-market event.
// EventID is the source-assigned identity.
type DimEvent struct {
	EventID      string     `gorm:"column:event_id;primaryKey;type:text"`
	Title        *string    `gorm:"column:title;type:text;index:idx_event_title"`
	Description  *string    `gorm:"column:description;type:text"`
	Category     *string    `gorm:"column:category;type:text;index:idx_event_category"`
	Subcategory  *string    `gorm:"column:subcategory;type:text"`
	Ticker       *string    `gorm:"column:ticker;type:text"`
	Slug         *string    `gorm:"column:slug;type:text"`
	IsActive     bool       `gorm:"column:is_active;not null;default:false"`
	IsClosed     bool       `gorm:"column:is_closed;not null;default:false"`
	IsFeatured   bool       `gorm:"column:is_featured;not null;default:false"`
	StartDate    time.Time  `gorm:"column:start_date;not null"`
	EndDate      *time.Time `gorm:"column:end_date"`
	CreationDate *time.Time `gorm:"column:creation_date"`
	LoadedAt     time.Time  `gorm:"column:loaded_at;not null;default:now()"`
}

// TableName specifies the table name for the DimEvent model
func (DimEvent) TableName() string {
	return "dim_event"
}

// DimMarket holds the descriptive attributes of an individual market.
// Outcomes keeps the ordered labels as a JSON array in text form; prices live
// in fact_market_metrics since they vary per observation date.
type DimMarket struct {
	MarketID    string     `gorm:"column:market_id;primaryKey;type:text"`
	Question    *string    `gorm:"column:question;type:text"`
	MarketType  *string    `gorm:"column:market_type;type:text;index:idx_market_type"`
	Slug        *string    `gorm:"column:slug;type:text"`
	Category    *string    `gorm:"column:category;type:text;index:idx_market_category"`
	Description *string    `gorm:"column:description;type:text"`
	IsActive    bool       `gorm:"column:is_active;not null;default:false"`
	IsClosed    bool       `gorm:"column:is_closed;not null;default:false"`
	IsFeatured  bool       `gorm:"column:is_featured;not null;default:false"`
	Outcomes    *string    `gorm:"column:outcomes;type:text"`
	EndDate     *time.Time `gorm:"column:end_date"`
	CreatedAt   *time.Time `gorm:"column:created_at"`
	UpdatedAt   *time.Time `gorm:"column:updated_at"`
	LoadedAt    time.Time  `gorm:"column:loaded_at;not null;default:now()"`
}

// TableName specifies the table name for the DimMarket model
func (DimMarket) TableName() string {
	return "dim_market"
}

// DimSeries holds recurring market groupings. Not referenced by facts.
type DimSeries struct {
	SeriesID    string  `gorm:"column:series_id;primaryKey;type:text"`
	Slug        *string `gorm:"column:slug;type:text"`
	Title       *string `gorm:"column:title;type:text"`
	Description *string `gorm:"column:description;type:text"`
}

// TableName specifies the table name for the DimSeries model
func (DimSeries) TableName() string {
	return "dim_series"
}

// DimTag holds the globally deduplicated tag names. TagID is a surrogate key
// assigned by the loader within the run, not by the database.
type DimTag struct {
	TagID   int    `gorm:"column:tag_id;primaryKey"`
	TagName string `gorm:"column:tag_name;not null;uniqueIndex;type:text"`
}

// TableName specifies the table name for the DimTag model
func (DimTag) TableName() string {
	return "dim_tag"
}
