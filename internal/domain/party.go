package domain

// Customer identifies the paying customer as sent to providers.
type Customer struct {
	ID    string `json:"id" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone,omitempty"`
	Name  string `json:"name" validate:"required"`
}

// Address is a postal address. Country is an ISO country-style code and
// drives region resolution.
type Address struct {
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required,len=2"`
}

// LineItem is a single order line as sent to providers.
type LineItem struct {
	SKU       string `json:"sku" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
	UnitMinor int64  `json:"unit_minor" validate:"gte=0"`
}
