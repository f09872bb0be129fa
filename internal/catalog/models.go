package catalog

// Filters is the user search criteria forwarded to the auction catalog.
type Filters struct {
	Site         string `json:"site,omitempty"`
	Make         string `json:"make,omitempty"`
	Model        string `json:"model,omitempty"`
	YearFrom     int    `json:"year_from,omitempty"`
	YearTo       int    `json:"year_to,omitempty"`
	OdoFrom      int    `json:"odo_from,omitempty"`
	OdoTo        int    `json:"odo_to,omitempty"`
	Document     string `json:"document,omitempty"`
	Transmission string `json:"transmission,omitempty"`
	Status       string `json:"status,omitempty"`
}

// Lot is a catalog-owned listing; immutable value data for one pipeline run.
type Lot struct {
	LotID           int64    `json:"lot_id"`
	BaseSite        string   `json:"base_site"`
	Title           string   `json:"title"`
	Make            string   `json:"make"`
	Model           string   `json:"model"`
	Series          string   `json:"series"`
	Year            int      `json:"year"`
	Odometer        int      `json:"odometer"`
	OdoBrand        string   `json:"odobrand"`
	VIN             string   `json:"vin"`
	Status          string   `json:"status"`
	DamagePrimary   string   `json:"damage_pr"`
	DamageSecondary string   `json:"damage_sec"`
	Keys            bool     `json:"keys"`
	Seller          string   `json:"seller"`
	Document        string   `json:"document"`
	DocumentOld     string   `json:"document_old"`
	Transmission    string   `json:"transmission"`
	PriceReserve    int64    `json:"price_reserve"`
	AuctionDate     string   `json:"auction_date"`
	Location        string   `json:"location"`
	VehicleType     string   `json:"vehicle_type"`
	ImageURLs       []string `json:"link_img_hd"`
}

type Pagination struct {
	Page  int `json:"page"`
	Pages int `json:"pages"`
}

// SearchPage is one page of catalog search results.
type SearchPage struct {
	Lots       []Lot      `json:"lots"`
	Pagination Pagination `json:"pagination"`
}
