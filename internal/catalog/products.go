package catalog

import "github.com/shopspring/decimal"

// Product is a read-only catalog entry. The catalog is a fixed demo data set;
// prices here are informational and checkout totals are always recomputed
// server side from the submitted line items.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Image       string          `json:"image"`
	Category    string          `json:"category"`
	Stock       int             `json:"stock"`
}

// Products returns the demo storefront catalog.
func Products() []Product {
	return []Product{
		{
			ID:          "prod_001",
			Name:        "Premium Wireless Headphones",
			Description: "High-quality sound with active noise cancellation",
			Price:       decimal.RequireFromString("199.99"),
			Image:       "https://images.unsplash.com/photo-1505740420928-5e560c06d30e?w=800&h=800&fit=crop",
			Category:    "Electronics",
			Stock:       45,
		},
		{
			ID:          "prod_002",
			Name:        "Smart Watch Pro",
			Description: "Fitness tracking, heart rate monitor, GPS",
			Price:       decimal.RequireFromString("349.99"),
			Image:       "https://images.unsplash.com/photo-1523275335684-37898b6baf30?w=800&h=800&fit=crop",
			Category:    "Electronics",
			Stock:       32,
		},
		{
			ID:          "prod_003",
			Name:        "Leather Messenger Bag",
			Description: "Handcrafted genuine leather, perfect for work",
			Price:       decimal.RequireFromString("129.99"),
			Image:       "https://images.unsplash.com/photo-1553062407-98eeb64c6a62?w=800&h=800&fit=crop",
			Category:    "Accessories",
			Stock:       18,
		},
		{
			ID:          "prod_004",
			Name:        "Mechanical Keyboard",
			Description: "Cherry MX switches, RGB backlight, aluminum frame",
			Price:       decimal.RequireFromString("159.99"),
			Image:       "https://images.unsplash.com/photo-1511467687858-23d96c32e4ae?w=800&h=800&fit=crop",
			Category:    "Electronics",
			Stock:       27,
		},
		{
			ID:          "prod_005",
			Name:        "Running Shoes Elite",
			Description: "Lightweight, breathable, superior cushioning",
			Price:       decimal.RequireFromString("89.99"),
			Image:       "https://images.unsplash.com/photo-1542291026-7eec264c27ff?w=800&h=800&fit=crop",
			Category:    "Sports",
			Stock:       56,
		},
		{
			ID:          "prod_006",
			Name:        "Portable Bluetooth Speaker",
			Description: "Waterproof, 20-hour battery, premium sound",
			Price:       decimal.RequireFromString("79.99"),
			Image:       "https://images.unsplash.com/photo-1608043152269-423dbba4e7e1?w=800&h=800&fit=crop",
			Category:    "Electronics",
			Stock:       41,
		},
	}
}

// FindProduct returns the catalog entry by id, or false when unknown.
func FindProduct(id string) (Product, bool) {
	for _, p := range Products() {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}
