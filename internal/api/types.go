package api

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Instrument classes accepted by the upstream.
const (
	InstTypeSpot    = "SPOT"
	InstTypeMargin  = "MARGIN"
	InstTypeSwap    = "SWAP"
	InstTypeFutures = "FUTURES"
	InstTypeOption  = "OPTION"
	InstTypeAny     = "ANY" // private channels only
)

// Instrument is one tradeable instrument.
type Instrument struct {
	InstType   string `json:"instType"`
	InstID     string `json:"instId"`
	InstIDCode int64  `json:"instIdCode"`
	Uly        string `json:"uly"`
	BaseCcy    string `json:"baseCcy"`
	QuoteCcy   string `json:"quoteCcy"`
	SettleCcy  string `json:"settleCcy"`
	CtVal      string `json:"ctVal"`
	TickSz     string `json:"tickSz"`
	LotSz      string `json:"lotSz"`
	MinSz      string `json:"minSz"`
	State      string `json:"state"` // live, suspend, preopen, test
	ListTime   string `json:"listTime"`
	ExpTime    string `json:"expTime"`
}

// Ticker is the latest market snapshot for an instrument.
type Ticker struct {
	InstType  string `json:"instType"`
	InstID    string `json:"instId"`
	Last      string `json:"last"`
	LastSz    string `json:"lastSz"`
	AskPx     string `json:"askPx"`
	AskSz     string `json:"askSz"`
	BidPx     string `json:"bidPx"`
	BidSz     string `json:"bidSz"`
	Open24h   string `json:"open24h"`
	High24h   string `json:"high24h"`
	Low24h    string `json:"low24h"`
	SodUtc0   string `json:"sodUtc0"`
	VolCcy24h string `json:"volCcy24h"`
	Vol24h    string `json:"vol24h"`
	Ts        string `json:"ts"`
}

// Candle is one OHLCV bar. The wire form is a string array:
// [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm].
type Candle struct {
	Ts      int64 // bar open time, ms
	Open    decimal.Decimal
	High    decimal.Decimal
	Low     decimal.Decimal
	Close   decimal.Decimal
	Volume  decimal.Decimal
	Confirm bool // bar closed
}

// ParseCandle decodes the string-array wire form of a candle.
func ParseCandle(row []string) (Candle, error) {
	if len(row) < 6 {
		return Candle{}, fmt.Errorf("candle row has %d fields, want >= 6", len(row))
	}

	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("candle ts: %w", err)
	}

	var c Candle
	c.Ts = ts
	fields := []*decimal.Decimal{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
	for i, dst := range fields {
		v, err := decimal.NewFromString(row[i+1])
		if err != nil {
			return Candle{}, fmt.Errorf("candle field %d: %w", i+1, err)
		}
		*dst = v
	}
	if len(row) >= 9 {
		c.Confirm = row[8] == "1"
	}
	return c, nil
}

// Balance is the account-level balance summary.
type Balance struct {
	TotalEq string          `json:"totalEq"`
	AdjEq   string          `json:"adjEq"`
	Imr     string          `json:"imr"`
	Mmr     string          `json:"mmr"`
	Upl     string          `json:"upl"`
	UTime   string          `json:"uTime"`
	Details []BalanceDetail `json:"details"`
}

// BalanceDetail is the per-currency part of a Balance.
type BalanceDetail struct {
	Ccy       string `json:"ccy"`
	Eq        string `json:"eq"`
	EqUsd     string `json:"eqUsd"`
	CashBal   string `json:"cashBal"`
	AvailBal  string `json:"availBal"`
	AvailEq   string `json:"availEq"`
	FrozenBal string `json:"frozenBal"`
	Upl       string `json:"upl"`
	UTime     string `json:"uTime"`
}

// Position is one open derivatives or margin position.
type Position struct {
	InstType string `json:"instType"`
	InstID   string `json:"instId"`
	PosID    string `json:"posId"`
	PosSide  string `json:"posSide"` // long, short, net
	Pos      string `json:"pos"`
	AvailPos string `json:"availPos"`
	AvgPx    string `json:"avgPx"`
	Upl      string `json:"upl"`
	UplRatio string `json:"uplRatio"`
	MgnMode  string `json:"mgnMode"`
	Lever    string `json:"lever"`
	Last     string `json:"last"`
	Ccy      string `json:"ccy"`
	CTime    string `json:"cTime"`
	UTime    string `json:"uTime"`
}

// Order is an order as reported by REST and the private orders channel.
type Order struct {
	InstType   string `json:"instType"`
	InstID     string `json:"instId"`
	OrdID      string `json:"ordId"`
	ClOrdID    string `json:"clOrdId"`
	Tag        string `json:"tag"`
	Px         string `json:"px"`
	Sz         string `json:"sz"`
	OrdType    string `json:"ordType"` // market, limit, post_only, fok, ioc
	Side       string `json:"side"`
	TdMode     string `json:"tdMode"`
	State      string `json:"state"` // live, partially_filled, filled, canceled, mmp_canceled
	AccFillSz  string `json:"accFillSz"`
	AvgPx      string `json:"avgPx"`
	FillPx     string `json:"fillPx"`
	FillSz     string `json:"fillSz"`
	FillTime   string `json:"fillTime"`
	FillFee    string `json:"fillFee"`
	FillFeeCcy string `json:"fillFeeCcy"`
	ExecType   string `json:"execType"`
	TradeID    string `json:"tradeId"`
	CTime      string `json:"cTime"`
	UTime      string `json:"uTime"`
}

// Fill is one execution of an order.
type Fill struct {
	InstType string `json:"instType"`
	InstID   string `json:"instId"`
	TradeID  string `json:"tradeId"`
	OrdID    string `json:"ordId"`
	ClOrdID  string `json:"clOrdId"`
	FillPx   string `json:"fillPx"`
	FillSz   string `json:"fillSz"`
	Side     string `json:"side"`
	ExecType string `json:"execType"` // T taker, M maker
	Fee      string `json:"fee"`
	FeeCcy   string `json:"feeCcy"`
	Ts       string `json:"ts"`
}

// CandlesOptions selects a window of candles. After/Before are
// exclusive millisecond bounds; the upstream pages backwards from After.
type CandlesOptions struct {
	InstID string
	Bar    string
	After  int64
	Before int64
	Limit  int
}
