package domain

import "time"

type Item struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

// StockLevel is an item's stock after a fulfillment adjusted it by Delta.
type StockLevel struct {
	ItemID string `json:"item_id"`
	Name   string `json:"name"`
	Stock  int    `json:"stock"`
	Delta  int    `json:"delta"`
}

type InventorySnapshot struct {
	Items      []Item    `json:"items"`
	CrowdLevel *float64  `json:"crowd_level"` // nil when the estimator failed
	TakenAt    time.Time `json:"taken_at"`
}
