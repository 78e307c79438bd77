package service

import (
	"github.com/shopspring/decimal"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

// Prices carry two decimal places.
const minorUnitShift = 2

// MinorUnits converts a price to the integer amount payment providers expect.
func MinorUnits(price decimal.Decimal) int64 {
	return price.Round(minorUnitShift).Shift(minorUnitShift).IntPart()
}

// SnapshotLine captures the product's current name and price for an order line.
func SnapshotLine(p *models.Product, quantity int) models.OrderItem {
	return models.OrderItem{
		ProductID:       p.ID,
		ProductName:     p.Name,
		Quantity:        quantity,
		PriceAtPurchase: p.Price,
	}
}

// subtractPurchased removes purchased quantities from cart lines. Lines left
// with nothing are dropped.
func subtractPurchased(items []models.CartItem, purchased []models.OrderItem) []models.CartItem {
	bought := make(map[string]int, len(purchased))
	for _, line := range purchased {
		bought[line.ProductID] += line.Quantity
	}

	remaining := make([]models.CartItem, 0, len(items))
	for _, item := range items {
		left := item.Quantity - bought[item.ProductID]
		if left > 0 {
			remaining = append(remaining, models.CartItem{ProductID: item.ProductID, Quantity: left})
		}
	}
	return remaining
}
