package domain

// SourceQueryRow is one row of the BigQuery search query performance export,
// decoded via bigquery struct tags. Counts are totals across all ASINs for
// the query alongside the ASIN-level counts.
type SourceQueryRow struct {
	StartDate         string  `bigquery:"start_date"`
	EndDate           string  `bigquery:"end_date"`
	ASIN              string  `bigquery:"child_asin"`
	SearchQuery       string  `bigquery:"search_query"`
	SearchQueryScore  float64 `bigquery:"search_query_score"`
	SearchQueryVolume int64   `bigquery:"search_query_volume"`
	TotalImpressions  int64   `bigquery:"total_query_impression_count"`
	ASINImpressions   int64   `bigquery:"asin_impression_count"`
	TotalClicks       int64   `bigquery:"total_click_count"`
	ASINClicks        int64   `bigquery:"asin_click_count"`
	TotalCartAdds     int64   `bigquery:"total_cart_add_count"`
	ASINCartAdds      int64   `bigquery:"asin_cart_add_count"`
	TotalPurchases    int64   `bigquery:"total_purchase_count"`
	ASINPurchases     int64   `bigquery:"asin_purchase_count"`
	MedianPrice       float64 `bigquery:"asin_median_purchase_price"`
}

// SourceASINRow is one row of the per-ASIN rollup query, grouped in BigQuery.
type SourceASINRow struct {
	StartDate   string `bigquery:"start_date"`
	EndDate     string `bigquery:"end_date"`
	ASIN        string `bigquery:"child_asin"`
	Impressions int64  `bigquery:"asin_impression_count"`
	Clicks      int64  `bigquery:"asin_click_count"`
	CartAdds    int64  `bigquery:"asin_cart_add_count"`
	Purchases   int64  `bigquery:"asin_purchase_count"`
}

// SearchQueryRow is the transformed row upserted into Supabase. Natural key:
// (asin, search_query, start_date, end_date).
type SearchQueryRow struct {
	ASIN              string  `json:"asin"`
	SearchQuery       string  `json:"search_query"`
	StartDate         string  `json:"start_date"`
	EndDate           string  `json:"end_date"`
	SearchQueryScore  float64 `json:"search_query_score"`
	SearchQueryVolume int64   `json:"search_query_volume"`
	Impressions       int64   `json:"impressions"`
	Clicks            int64   `json:"clicks"`
	CartAdds          int64   `json:"cart_adds"`
	Purchases         int64   `json:"purchases"`
	ImpressionShare   float64 `json:"impression_share"`
	ClickShare        float64 `json:"click_share"`
	CartAddShare      float64 `json:"cart_add_share"`
	PurchaseShare     float64 `json:"purchase_share"`
	ClickThroughRate  float64 `json:"click_through_rate"`
	ConversionRate    float64 `json:"conversion_rate"`
	MedianPrice       float64 `json:"median_price"`
}

// ASINPerformanceRow is the per-ASIN rollup upserted alongside the query
// detail rows. Natural key: (asin, start_date, end_date).
type ASINPerformanceRow struct {
	ASIN             string  `json:"asin"`
	StartDate        string  `json:"start_date"`
	EndDate          string  `json:"end_date"`
	Impressions      int64   `json:"impressions"`
	Clicks           int64   `json:"clicks"`
	CartAdds         int64   `json:"cart_adds"`
	Purchases        int64   `json:"purchases"`
	ClickThroughRate float64 `json:"click_through_rate"`
	ConversionRate   float64 `json:"conversion_rate"`
}
