package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QuotaCount returns the number of rate-source calls recorded for day
// (YYYY-MM-DD, UTC). A day with no record counts as zero.
func (c *Client) QuotaCount(ctx context.Context, day string) (int, error) {
	var rec QuotaRecord
	err := c.DB.WithContext(ctx).Where(`"date" = ?`, day).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota count %s: %w", day, err)
	}
	return rec.Count, nil
}

// IncrementQuota adds one call to day's counter, creating the record on first
// use.
func (c *Client) IncrementQuota(ctx context.Context, day string) error {
	err := c.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"alpha_vantage_count": gorm.Expr("api_requests.alpha_vantage_count + 1"),
		}),
	}).Create(&QuotaRecord{Date: day, Count: 1}).Error
	if err != nil {
		return fmt.Errorf("increment quota %s: %w", day, err)
	}
	return nil
}
