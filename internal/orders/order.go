// Package orders holds the minimal order model the checkout flow settles
// against. Orders are created upstream; this service only reads totals and
// confirms them once payment completes.
package orders

import (
	"time"

	"commercegate/internal/common/money"
)

// OrderStatus is the order lifecycle as far as checkout is concerned.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is the persisted order header.
type Order struct {
	ID          string         `json:"id"`
	CustomerID  string         `json:"customer_id"`
	TotalMinor  int64          `json:"total_minor"`
	Currency    money.Currency `json:"currency"`
	Status      OrderStatus    `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ConfirmedAt *time.Time     `json:"confirmed_at,omitempty"`
}

// Total returns the order total as Money.
func (o *Order) Total() money.Money {
	return money.Money{AmountMinor: o.TotalMinor, Currency: o.Currency}
}
