package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/neverMEH/amzatlas-sub009/internal/domain"
)

func TestTransformQueryRow(t *testing.T) {
	t.Run("DerivesSharesAndRates", func(t *testing.T) {
		src := domain.SourceQueryRow{
			StartDate:        "2025-06-01",
			EndDate:          "2025-06-07",
			ASIN:             "B00TEST01",
			SearchQuery:      "wireless earbuds",
			TotalImpressions: 2000,
			ASINImpressions:  500,
			TotalClicks:      100,
			ASINClicks:       25,
			TotalCartAdds:    40,
			ASINCartAdds:     10,
			TotalPurchases:   20,
			ASINPurchases:    5,
			MedianPrice:      29.99,
		}

		row := TransformQueryRow(src)

		assert.Equal(t, int64(500), row.Impressions)
		assert.Equal(t, int64(25), row.Clicks)
		assert.InDelta(t, 0.25, row.ImpressionShare, 1e-9)
		assert.InDelta(t, 0.25, row.ClickShare, 1e-9)
		assert.InDelta(t, 0.25, row.CartAddShare, 1e-9)
		assert.InDelta(t, 0.25, row.PurchaseShare, 1e-9)
		assert.InDelta(t, 0.05, row.ClickThroughRate, 1e-9)
		assert.InDelta(t, 0.2, row.ConversionRate, 1e-9)
		assert.Equal(t, 29.99, row.MedianPrice)
	})

	t.Run("ZeroDenominatorsYieldZeroRates", func(t *testing.T) {
		row := TransformQueryRow(domain.SourceQueryRow{
			ASIN:        "B00TEST02",
			SearchQuery: "obscure term",
		})

		assert.Zero(t, row.ImpressionShare)
		assert.Zero(t, row.ClickThroughRate)
		assert.Zero(t, row.ConversionRate)
	})
}

func TestTransformASINRow(t *testing.T) {
	row := TransformASINRow(domain.SourceASINRow{
		ASIN:        "B00TEST01",
		StartDate:   "2025-06-01",
		EndDate:     "2025-06-07",
		Impressions: 1000,
		Clicks:      50,
		CartAdds:    20,
		Purchases:   10,
	})

	assert.InDelta(t, 0.05, row.ClickThroughRate, 1e-9)
	assert.InDelta(t, 0.2, row.ConversionRate, 1e-9)
	assert.Equal(t, int64(20), row.CartAdds)
}
