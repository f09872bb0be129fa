package posts

import "time"

// Post is a locally persisted candidate for one generation request.
// At most one Post exists per (request_id, lot_id).
type Post struct {
	ID               int64
	LotID            int64
	Auction          string
	Title            string
	Odometer         int
	Year             int
	ReservePrice     *int64
	VIN              string
	Status           string
	AuctionDate      *time.Time
	DeliveryPrice    int64
	ShippingPrice    int64
	AverageSellPrice *int64
	IsPosted         bool
	ImageDescription *string
	ImageScore       *int
	Images           string // comma-separated URLs
	RequestID        int64
	CreatedAt        time.Time
}

// RequestFilters is the persisted search criteria of one generation request.
type RequestFilters struct {
	ID           int64
	UserUUID     string
	Site         string
	Make         string
	Model        string
	YearFrom     int
	YearTo       int
	OdoFrom      int
	OdoTo        int
	Document     string
	Transmission string
	Status       string
	CreatedAt    time.Time
}

// PostUpdate carries the mutable Post fields; nil means leave unchanged.
type PostUpdate struct {
	AverageSellPrice *int64
	ImageDescription *string
	ImageScore       *int
	IsPosted         *bool
}
