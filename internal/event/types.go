package event

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Lifecycle channels, synthesized locally.
const (
	ChannelConnect    = "connect"
	ChannelDisconnect = "disconnect"
	ChannelError      = "error"
)

// Business channels forwarded from the backend stream.
const (
	ChannelPriceUpdate    = "price-update"
	ChannelMarketOverview = "market-overview"
	ChannelOptionChain    = "option-chain"
	ChannelInsiderTrade   = "insider-trade"
	ChannelBulkDeal       = "bulk-deal"
	ChannelBlockDeal      = "block-deal"
	ChannelSignalAlert    = "signal-alert"
)

// Errors
var (
	ErrMissingEvent    = errors.New("envelope has no event name")
	ErrReservedChannel = errors.New("reserved lifecycle channel")
)

// Envelope is the wire format of a single stream frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Event is a named message with a typed payload.
type Event struct {
	Channel    string
	Payload    Payload
	ReceivedAt time.Time
}

// Payload is implemented by every event payload type in this package.
type Payload interface {
	isPayload()
}

// -----------------------------------------------------------------------------
// Lifecycle payloads
// -----------------------------------------------------------------------------

// Connected is delivered on the connect channel once a session is established.
type Connected struct {
	SessionID string // Identifies the transport session in logs
}

// Disconnected is delivered on the disconnect channel when a live session drops.
type Disconnected struct {
	Reason string
}

// TransportError is delivered on the error channel for session-level failures.
type TransportError struct {
	Err error
}

// -----------------------------------------------------------------------------
// Market payloads
// -----------------------------------------------------------------------------

// PriceUpdate is a last-traded-price tick for one symbol.
type PriceUpdate struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Change    decimal.Decimal `json:"change"`
	ChangePct decimal.Decimal `json:"changePct"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// IndexQuote is one index row of a market overview.
type IndexQuote struct {
	Name      string          `json:"name"`
	Value     decimal.Decimal `json:"value"`
	Change    decimal.Decimal `json:"change"`
	ChangePct decimal.Decimal `json:"changePct"`
}

// MarketOverview summarises index levels and market breadth.
type MarketOverview struct {
	Indices   []IndexQuote `json:"indices"`
	Advances  int          `json:"advances"`
	Declines  int          `json:"declines"`
	Timestamp time.Time    `json:"timestamp"`
}

// OptionStrike is one strike row of an option chain.
type OptionStrike struct {
	Strike  decimal.Decimal `json:"strike"`
	CallOI  int64           `json:"callOI"`
	PutOI   int64           `json:"putOI"`
	CallLTP decimal.Decimal `json:"callLTP"`
	PutLTP  decimal.Decimal `json:"putLTP"`
}

// OptionChainUpdate carries a refreshed option chain with its put/call ratio.
type OptionChainUpdate struct {
	Symbol    string          `json:"symbol"`
	Expiry    string          `json:"expiry"` // YYYY-MM-DD
	Strikes   []OptionStrike  `json:"strikes"`
	PCR       decimal.Decimal `json:"pcr"`
	Timestamp time.Time       `json:"timestamp"`
}

// InsiderTrade is a disclosed insider transaction.
type InsiderTrade struct {
	Symbol          string          `json:"symbol"`
	Insider         string          `json:"insider"`
	Role            string          `json:"role"`
	TransactionType string          `json:"transactionType"` // "buy", "sell", "pledge", ...
	Quantity        int64           `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	Value           decimal.Decimal `json:"value"`
	TradeDate       string          `json:"tradeDate"` // YYYY-MM-DD
}

// DealKind distinguishes bulk deals from block deals.
type DealKind string

const (
	DealBulk  DealKind = "bulk"
	DealBlock DealKind = "block"
)

// Deal is a bulk or block deal. Kind is set from the channel, not the wire.
type Deal struct {
	Kind     DealKind        `json:"-"`
	Symbol   string          `json:"symbol"`
	Client   string          `json:"client"`
	Side     string          `json:"side"` // "buy" or "sell"
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	DealDate string          `json:"dealDate"` // YYYY-MM-DD
}

// SignalAlert is a server-scored trading signal.
type SignalAlert struct {
	Symbol    string          `json:"symbol"`
	Signal    string          `json:"signal"` // "bullish", "bearish", "neutral"
	Score     decimal.Decimal `json:"score"`
	Pattern   string          `json:"pattern"`
	Timeframe string          `json:"timeframe"`
	Timestamp time.Time       `json:"timestamp"`
}

// Unknown carries the raw data of a channel with no registered payload type.
type Unknown struct {
	Raw json.RawMessage
}

func (Connected) isPayload()         {}
func (Disconnected) isPayload()      {}
func (TransportError) isPayload()    {}
func (PriceUpdate) isPayload()       {}
func (MarketOverview) isPayload()    {}
func (OptionChainUpdate) isPayload() {}
func (InsiderTrade) isPayload()      {}
func (Deal) isPayload()              {}
func (SignalAlert) isPayload()       {}
func (Unknown) isPayload()           {}
