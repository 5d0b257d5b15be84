package model

import "time"

// TentType is a rentable tent model with a finite stock.  StockAvailable
// is the only hot shared counter in the system and must stay within
// [0, StockInitial].
type TentType struct {
	ID             uint64 `json:"id"`              // tent_types.id
	Label          string `json:"label"`           // tent_types.label
	Capacity       int    `json:"capacity"`        // tent_types.capacity (people per tent)
	Price          int64  `json:"price"`           // tent_types.price (minor units)
	StockInitial   int    `json:"stock_initial"`   // tent_types.stock_initial
	StockAvailable int    `json:"stock_available"` // tent_types.stock_available
}

// TentReservation is a soft hold on tent stock that expires unless the
// registration is confirmed in time.
type TentReservation struct {
	ID             uint64    `json:"id"`              // tent_reservations.id
	RegistrationID uint64    `json:"registration_id"` // tent_reservations.registration_id
	TentTypeID     uint64    `json:"tent_type_id"`    // tent_reservations.tent_type_id
	Quantity       int       `json:"quantity"`        // tent_reservations.quantity
	ExpiresAt      time.Time `json:"expires_at"`      // tent_reservations.expires_at
	CreatedAt      time.Time `json:"created_at"`      // tent_reservations.created_at
}

// TentBooking is the permanent record created from a reservation when the
// registration is confirmed.  It never expires.
type TentBooking struct {
	ID             uint64    `json:"id"`              // tent_bookings.id
	RegistrationID uint64    `json:"registration_id"` // tent_bookings.registration_id
	TentTypeID     uint64    `json:"tent_type_id"`    // tent_bookings.tent_type_id
	Quantity       int       `json:"quantity"`        // tent_bookings.quantity
	CreatedAt      time.Time `json:"created_at"`      // tent_bookings.created_at
}

// TentLine is a requested quantity of one tent type.
type TentLine struct {
	TentTypeID uint64 `json:"tent_type_id"`
	Quantity   int    `json:"quantity"`
}
