package domain

import "math"

// PricingBreakdown captures the monetary results of pricing a manual order.
type PricingBreakdown struct {
	Subtotal float64
	Tax      float64
	Shipping float64
	Discount float64
	Total    float64
	Items    []ItemPricingBreakdown
}

// ItemPricingBreakdown stores the per-line pricing outputs.
type ItemPricingBreakdown struct {
	ProductID string
	Quantity  int
	UnitPrice float64
	Total     float64
}

// PriceOrder computes line totals, subtotal, tax and grand total.
// tax = subtotal * taxRate and total = subtotal + tax + shipping - discount, each rounded to cents,
// so tax can differ from the unrounded product by up to half a cent.
func PriceOrder(items []ItemPricingBreakdown, taxRate, shipping, discount float64) PricingBreakdown {
	out := PricingBreakdown{
		Shipping: RoundMoney(shipping),
		Discount: RoundMoney(discount),
		Items:    make([]ItemPricingBreakdown, len(items)),
	}
	for i, item := range items {
		item.Total = RoundMoney(item.UnitPrice * float64(item.Quantity))
		out.Items[i] = item
		out.Subtotal += item.Total
	}
	out.Subtotal = RoundMoney(out.Subtotal)
	out.Tax = RoundMoney(out.Subtotal * taxRate)
	out.Total = RoundMoney(out.Subtotal + out.Tax + out.Shipping - out.Discount)
	return out
}

// RoundMoney rounds a monetary amount to two decimal places, half away from zero.
func RoundMoney(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}
