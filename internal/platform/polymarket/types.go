package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

// flexBool accepts both JSON booleans and "true"/"false" strings; the Gamma
// API is not consistent about which it sends.
type flexBool bool

// UnmarshalJSON implements json.Unmarshaler.
func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	switch s {
	case "true", "1":
		*b = true
	default:
		*b = false
	}
	return nil
}

// APIMarket is one market as returned by the Gamma discovery API.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	ConditionID   string   `json:"conditionId"`
	Slug          string   `json:"slug"`
	Active        flexBool `json:"active"`
	Closed        bool     `json:"closed"`
	EndDateISO    string   `json:"endDateIso"`
	GameStartTime string   `json:"gameStartTime"`
	ClobTokenIDs  string   `json:"clobTokenIds"` // JSON-encoded: "[\"123\",\"456\"]"
}

// ToDomainInstrument converts an APIMarket to the domain representation.
func (m APIMarket) ToDomainInstrument(sport string) domain.MarketInstrument {
	inst := domain.MarketInstrument{
		ConditionID: m.ConditionID,
		Question:    m.Question,
		Slug:        m.Slug,
		Sport:       sport,
		Active:      bool(m.Active) && !m.Closed,
		FetchedAt:   time.Now().UTC(),
	}

	var tokenIDs []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokenIDs); err == nil {
		for i := 0; i < len(tokenIDs) && i < 2; i++ {
			inst.TokenIDs[i] = tokenIDs[i]
		}
	}

	if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
		inst.EndTime = t
	} else if t, err := time.Parse("2006-01-02", m.EndDateISO); err == nil {
		inst.EndTime = t
	}

	return inst
}

// APIOrderResult is the CLOB response to order submission.
type APIOrderResult struct {
	Success    bool   `json:"success"`
	ErrorMsg   string `json:"errorMsg,omitempty"`
	OrderID    string `json:"orderID,omitempty"`
	Status     string `json:"status,omitempty"`
	TransactID string `json:"transactID,omitempty"`
}

// ToDomainOrderResult maps the API result onto the domain order result.
func (r APIOrderResult) ToDomainOrderResult() domain.OrderResult {
	res := domain.OrderResult{
		Success: r.Success,
		OrderID: r.OrderID,
		Message: r.ErrorMsg,
	}
	switch strings.ToLower(r.Status) {
	case "matched", "filled":
		res.Status = domain.OrderStatusFilled
	case "delayed", "live", "open", "":
		res.Status = domain.OrderStatusPending
	default:
		res.Status = domain.OrderStatusRejected
	}
	if !r.Success && res.Status == domain.OrderStatusPending {
		res.Status = domain.OrderStatusRejected
	}
	return res
}

// priceResponse is the public price endpoint shape.
type priceResponse struct {
	Price string `json:"price"`
}

// midpointResponse is the public midpoint endpoint shape.
type midpointResponse struct {
	Mid string `json:"mid"`
}

// bookLevel is one price level in the public orderbook response.
type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// bookResponse is the public orderbook endpoint shape.
type bookResponse struct {
	AssetID string      `json:"asset_id"`
	Bids    []bookLevel `json:"bids"`
	Asks    []bookLevel `json:"asks"`
}

// Orderbook is the normalized public orderbook.
type Orderbook struct {
	TokenID string
	BestBid float64
	BestAsk float64
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// ---------------------------------------------------------------------------
// Streaming feed message shapes. The stream hub decodes these; the REST
// client never sees them.
// ---------------------------------------------------------------------------

// WSSubscribe is the subscribe/unsubscribe command sent on a stream
// connection. The market feed carries outcome-token identifiers with
// type "market"; the user feed carries condition identifiers with type
// "user" plus auth material.
type WSSubscribe struct {
	Type      string   `json:"type"` // "market" or "user"
	AssetIDs  []string `json:"assets_ids,omitempty"`
	Markets   []string `json:"markets,omitempty"`
	Operation string   `json:"operation,omitempty"` // "subscribe" or "unsubscribe"
	Auth      *WSAuth  `json:"auth,omitempty"`
}

// WSAuth is the credential envelope for the user feed.
type WSAuth struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// WSEnvelope identifies an inbound stream message before full decoding.
type WSEnvelope struct {
	EventType string `json:"event_type"` // "book", "price_change", "tick_size_change", "last_trade_price", "order", "trade"
	AssetID   string `json:"asset_id"`
}

// WSBookMessage is an orderbook snapshot or delta from the market feed.
type WSBookMessage struct {
	AssetID   string      `json:"asset_id"`
	Bids      []bookLevel `json:"bids"`
	Asks      []bookLevel `json:"asks"`
	Timestamp string      `json:"timestamp"`
}

// ToPriceUpdate reduces a book message to the normalized price update the
// engine consumes (midpoint of the best bid/ask when both sides exist).
func (m WSBookMessage) ToPriceUpdate() domain.PriceUpdate {
	up := domain.PriceUpdate{
		TokenID:   m.AssetID,
		Timestamp: parseMillis(m.Timestamp),
	}
	if len(m.Bids) > 0 {
		up.BestBid = parseFloat(m.Bids[len(m.Bids)-1].Price)
	}
	if len(m.Asks) > 0 {
		up.BestAsk = parseFloat(m.Asks[len(m.Asks)-1].Price)
	}
	switch {
	case up.BestBid > 0 && up.BestAsk > 0:
		up.Price = (up.BestBid + up.BestAsk) / 2
	case up.BestBid > 0:
		up.Price = up.BestBid
	default:
		up.Price = up.BestAsk
	}
	return up
}

// WSPriceChange is an incremental price level update from the market feed.
type WSPriceChange struct {
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Side      string `json:"side"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}

// ToPriceUpdate converts the change to a normalized price update.
func (m WSPriceChange) ToPriceUpdate() domain.PriceUpdate {
	return domain.PriceUpdate{
		TokenID:   m.AssetID,
		Price:     parseFloat(m.Price),
		Timestamp: parseMillis(m.Timestamp),
	}
}

// WSLastTradePrice is a last-trade-price message from the market feed.
type WSLastTradePrice struct {
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Timestamp string `json:"timestamp"`
}

// ToPriceUpdate converts the trade print to a normalized price update.
func (m WSLastTradePrice) ToPriceUpdate() domain.PriceUpdate {
	return domain.PriceUpdate{
		TokenID:   m.AssetID,
		Price:     parseFloat(m.Price),
		Timestamp: parseMillis(m.Timestamp),
	}
}

// WSOrderMessage is an order lifecycle event from the user feed.
type WSOrderMessage struct {
	ID          string `json:"id"`
	AssetID     string `json:"asset_id"`
	Status      string `json:"status"` // "LIVE", "MATCHED", "CANCELED", ...
	SizeMatched string `json:"size_matched"`
	Price       string `json:"price"`
	Timestamp   string `json:"timestamp"`
}

// ToOrderUpdate converts the order event to the normalized update.
func (m WSOrderMessage) ToOrderUpdate() domain.OrderUpdate {
	up := domain.OrderUpdate{
		OrderID:    m.ID,
		TokenID:    m.AssetID,
		FilledSize: parseFloat(m.SizeMatched),
		FillPrice:  parseFloat(m.Price),
		Timestamp:  parseMillis(m.Timestamp),
	}
	switch strings.ToUpper(m.Status) {
	case "MATCHED", "FILLED":
		up.Status = domain.OrderStatusFilled
	case "CANCELED", "CANCELLED":
		up.Status = domain.OrderStatusCancelled
	case "LIVE", "DELAYED":
		up.Status = domain.OrderStatusPending
	default:
		if up.FilledSize > 0 {
			up.Status = domain.OrderStatusPartiallyFilled
		} else {
			up.Status = domain.OrderStatusRejected
		}
	}
	return up
}

// parseMillis parses a millisecond unix timestamp string, falling back to
// the current time.
func parseMillis(s string) time.Time {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	return time.Now().UTC()
}
