package shopping

import "github.com/shopspring/decimal"

// EstimateBudget sums unit price × native quantity over priced items. When
// only some items are priced the subtotal is extrapolated to the whole list
// as subtotal / (priced / total) and the estimate is flagged as such.
func EstimateBudget(items []AggregatedItem) BudgetEstimate {
	est := BudgetEstimate{TotalItems: len(items)}

	subtotal := decimal.Zero
	for _, it := range items {
		if it.UnitPrice == nil {
			continue
		}
		est.PricedItems++
		price := decimal.NewFromFloat(*it.UnitPrice)
		subtotal = subtotal.Add(price.Mul(decimal.NewFromFloat(it.BaseQuantity)))
	}

	if est.PricedItems == 0 {
		return est
	}

	total := subtotal
	if est.PricedItems < est.TotalItems {
		// subtotal / (priced/total), rearranged to keep the division last
		total = subtotal.Mul(decimal.NewFromInt(int64(est.TotalItems))).Div(decimal.NewFromInt(int64(est.PricedItems)))
		est.Extrapolated = true
	}

	f := total.Round(2).InexactFloat64()
	est.Total = &f
	return est
}
