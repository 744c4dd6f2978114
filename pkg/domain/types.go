package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

type SearchMode string

const (
	ModeText  SearchMode = "text"
	ModeImage SearchMode = "image"
)

// Status is a user-facing status line emitted by the core.
type Status string

const (
	StatusSessionExpired Status = "Session expired. Please log in again."
	StatusLoggedIn       Status = "Logged in."
	StatusLoggedOut      Status = "Logged out."
)

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type User struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	UserID   string `json:"userId,omitempty"`
}

// AuthSession is the bearer token plus the identity it was issued to.
type AuthSession struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type QuerySession struct {
	SessionID string `json:"sessionId"`
}

type SearchRequest struct {
	Text      string `json:"text,omitempty"`
	ImageData []byte `json:"-"`
	Category  string `json:"category,omitempty"`
	Limit     int    `json:"limit"`
}

// Mode reports whether the request is an image or a text search.
func (r SearchRequest) Mode() SearchMode {
	if len(r.ImageData) > 0 {
		return ModeImage
	}
	return ModeText
}

// RawProduct is a backend record whose shape is not fixed.
type RawProduct map[string]any

// Price is a product price that may be unavailable.
type Price struct {
	Amount    float64
	Available bool
}

// PriceUnavailable marks a price that was absent or not numeric.
var PriceUnavailable = Price{}

func NewPrice(amount float64) Price {
	return Price{Amount: amount, Available: true}
}

func (p Price) String() string {
	if !p.Available {
		return "N/A"
	}
	return strconv.FormatFloat(p.Amount, 'f', 2, 64)
}

func (p Price) MarshalJSON() ([]byte, error) {
	if !p.Available {
		return []byte("null"), nil
	}
	return json.Marshal(p.Amount)
}

func (p *Price) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = PriceUnavailable
		return nil
	}
	var amount float64
	if err := json.Unmarshal(data, &amount); err != nil {
		return err
	}
	*p = NewPrice(amount)
	return nil
}

type NormalizedProduct struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Category        string   `json:"category"`
	Description     string   `json:"description"`
	Price           Price    `json:"price"`
	ImageSource     string   `json:"imageSource"`
	SimilarityScore *float64 `json:"similarityScore"`
}

type SearchResult struct {
	Results   []NormalizedProduct `json:"results"`
	Count     int                 `json:"count"`
	SessionID string              `json:"sessionId"`
	Mode      SearchMode          `json:"mode"`
}

// ProductPayload is a JSON array of products destined for /products/upload.
type ProductPayload struct {
	Filename string
	Data     []byte
}

type UploadResult struct {
	Filename      string `json:"filename"`
	InsertedCount int    `json:"insertedCount"`
}

// JournalEntry records a completed search.
type JournalEntry struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"sessionId"`
	Username    string     `json:"username"`
	Mode        SearchMode `json:"mode"`
	Query       string     `json:"query"`
	Category    string     `json:"category,omitempty"`
	Limit       int        `json:"limit"`
	ResultCount int        `json:"resultCount"`
	ProductIDs  []string   `json:"productIds"`
	CreatedAt   time.Time  `json:"createdAt"`
}
