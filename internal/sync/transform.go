package sync

import (
	"github.com/neverMEH/amzatlas-sub009/internal/domain"
)

// TransformQueryRow maps a BigQuery export row onto the analytics row shape:
// ASIN-level counts become the primary metrics, query totals become share
// denominators, and the click-through/conversion rates are derived here so
// the dashboard never divides in SQL.
func TransformQueryRow(src domain.SourceQueryRow) domain.SearchQueryRow {
	return domain.SearchQueryRow{
		ASIN:              src.ASIN,
		SearchQuery:       src.SearchQuery,
		StartDate:         src.StartDate,
		EndDate:           src.EndDate,
		SearchQueryScore:  src.SearchQueryScore,
		SearchQueryVolume: src.SearchQueryVolume,
		Impressions:       src.ASINImpressions,
		Clicks:            src.ASINClicks,
		CartAdds:          src.ASINCartAdds,
		Purchases:         src.ASINPurchases,
		ImpressionShare:   ratio(src.ASINImpressions, src.TotalImpressions),
		ClickShare:        ratio(src.ASINClicks, src.TotalClicks),
		CartAddShare:      ratio(src.ASINCartAdds, src.TotalCartAdds),
		PurchaseShare:     ratio(src.ASINPurchases, src.TotalPurchases),
		ClickThroughRate:  ratio(src.ASINClicks, src.ASINImpressions),
		ConversionRate:    ratio(src.ASINPurchases, src.ASINClicks),
		MedianPrice:       src.MedianPrice,
	}
}

// TransformASINRow maps a rolled-up per-ASIN row onto the rollup table shape.
func TransformASINRow(src domain.SourceASINRow) domain.ASINPerformanceRow {
	return domain.ASINPerformanceRow{
		ASIN:             src.ASIN,
		StartDate:        src.StartDate,
		EndDate:          src.EndDate,
		Impressions:      src.Impressions,
		Clicks:           src.Clicks,
		CartAdds:         src.CartAdds,
		Purchases:        src.Purchases,
		ClickThroughRate: ratio(src.Clicks, src.Impressions),
		ConversionRate:   ratio(src.Purchases, src.Clicks),
	}
}

// ratio guards against zero denominators from sparse weeks.
func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
