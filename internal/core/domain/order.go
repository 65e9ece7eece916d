package domain

import "time"

// OriginPOS marks an order placed in store, without a contact address.
const OriginPOS = "POS"

type Order struct {
	ID          string     `json:"id"`
	DisplayCode string     `json:"display_code"`
	Origin      string     `json:"origin"`
	Fulfilled   bool       `json:"fulfilled"`
	CreatedAt   time.Time  `json:"created_at"`
	FulfilledAt *time.Time `json:"fulfilled_at,omitempty"`
}

type OrderLine struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// LineRequest is one requested line of an intake, as the client sent it.
type LineRequest struct {
	Contact  string `json:"mail,omitempty"`
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
}

type FulfillmentResult struct {
	Order Order        `json:"order"`
	Stock []StockLevel `json:"stock"`
}

// IsMobile reports whether any line carries a contact address.
func IsMobile(lines []LineRequest) bool {
	for _, l := range lines {
		if l.Contact != "" {
			return true
		}
	}
	return false
}

// Origin returns the first contact address among lines, or OriginPOS.
func Origin(lines []LineRequest) string {
	for _, l := range lines {
		if l.Contact != "" {
			return l.Contact
		}
	}
	return OriginPOS
}
