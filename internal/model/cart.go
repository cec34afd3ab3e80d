package model

// CartItem is one seat the buyer intends to purchase.  The price is pinned
// at selection time and never re-derived at checkout, so a price template
// change between selection and payment cannot silently alter the total.
type CartItem struct {
    FuncionID  uint64 `json:"funcion_id"`
    SeatID     uint64 `json:"seat_id"`
    RowLabel   string `json:"row_label"`
    Number     uint32 `json:"number"`
    PriceCents uint32 `json:"price_cents"`
}

// Cart is the ordered set of seats a session intends to purchase plus the
// remaining countdown.  Consumers outside the core (map editor, CRM,
// billing) read it through the aggregator's getters only.
type Cart struct {
    Items           []CartItem `json:"items"`
    TotalCents      uint64     `json:"total_cents"`
    TimeLeftSeconds int        `json:"time_left_seconds"`
}
