package model

import "github.com/shopspring/decimal"

// Format is the client-requested wire verbosity.
type Format string

const (
	FormatSimple Format = "Simple"
	FormatSlim   Format = "Slim"
	FormatHeavy  Format = "Heavy" // served as Simple
)

// ParseFormat normalizes a client format string. Unknown or empty values
// are Simple.
func ParseFormat(s string) Format {
	switch s {
	case "Slim", "slim", "SLIM":
		return FormatSlim
	}
	return FormatSimple
}

// -----------------------------------------------------------------------------
// Envelopes
// -----------------------------------------------------------------------------

// Ack acknowledges a request. httpCode 200 means success.
type Ack struct {
	Message     string `json:"message"`
	HTTPCode    int    `json:"httpCode"`
	RequestGUID string `json:"requestGuid"`
	OrderNumber string `json:"orderNumber,omitempty"`
}

// Envelope carries one data item for a subscription guid.
type Envelope struct {
	Data any    `json:"data"`
	GUID string `json:"guid"`
}

// ErrorData is the data of an error envelope.
type ErrorData struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// -----------------------------------------------------------------------------
// Market data
// -----------------------------------------------------------------------------

// Quote is the Simple quote record.
type Quote struct {
	Symbol             string          `json:"symbol"`
	Exchange           string          `json:"exchange"`
	Description        string          `json:"description"`
	PrevClosePrice     decimal.Decimal `json:"prev_close_price"`
	LastPrice          decimal.Decimal `json:"last_price"`
	LastPriceTimestamp int64           `json:"last_price_timestamp"` // seconds
	HighPrice          decimal.Decimal `json:"high_price"`
	LowPrice           decimal.Decimal `json:"low_price"`
	OpenPrice          decimal.Decimal `json:"open_price"`
	Volume             decimal.Decimal `json:"volume"`
	Ask                decimal.Decimal `json:"ask"`
	Bid                decimal.Decimal `json:"bid"`
	AskVol             decimal.Decimal `json:"ask_vol"`
	BidVol             decimal.Decimal `json:"bid_vol"`
	OBMsTimestamp      int64           `json:"ob_ms_timestamp"`
	Change             decimal.Decimal `json:"change"`
	ChangePercent      decimal.Decimal `json:"change_percent"`
}

// QuoteSlim is the Slim quote record.
type QuoteSlim struct {
	Sym  string          `json:"sym"`
	Ex   string          `json:"ex"`
	Desc string          `json:"desc"`
	Prev decimal.Decimal `json:"prev"`
	Last decimal.Decimal `json:"last"`
	LUT  int64           `json:"lut"`
	High decimal.Decimal `json:"high"`
	Low  decimal.Decimal `json:"low"`
	Open decimal.Decimal `json:"open"`
	Vol  decimal.Decimal `json:"vol"`
	Ask  decimal.Decimal `json:"ask"`
	Bid  decimal.Decimal `json:"bid"`
	AV   decimal.Decimal `json:"av"`
	BV   decimal.Decimal `json:"bv"`
	OBTS int64           `json:"obts"`
	Ch   decimal.Decimal `json:"ch"`
	ChP  decimal.Decimal `json:"chp"`
}

// BookLevel is one Simple order book level.
type BookLevel struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

// OrderBook is the Simple order book record.
type OrderBook struct {
	Snapshot    bool        `json:"snapshot"`
	Existing    bool        `json:"existing"`
	Bids        []BookLevel `json:"bids"`
	Asks        []BookLevel `json:"asks"`
	Timestamp   int64       `json:"timestamp"` // seconds
	MsTimestamp int64       `json:"ms_timestamp"`
}

// BookLevelSlim is one Slim order book level.
type BookLevelSlim struct {
	P decimal.Decimal `json:"p"`
	V decimal.Decimal `json:"v"`
}

// OrderBookSlim is the Slim order book record.
type OrderBookSlim struct {
	B []BookLevelSlim `json:"b"`
	A []BookLevelSlim `json:"a"`
	T int64           `json:"t"` // ms
	H bool            `json:"h"` // existing
}

// Bar is the Simple candle record.
type Bar struct {
	Time   int64           `json:"time"` // seconds
	Close  decimal.Decimal `json:"close"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Volume decimal.Decimal `json:"volume"`
}

// BarSlim is the Slim candle record.
type BarSlim struct {
	T int64           `json:"t"`
	C decimal.Decimal `json:"c"`
	O decimal.Decimal `json:"o"`
	H decimal.Decimal `json:"h"`
	L decimal.Decimal `json:"l"`
	V decimal.Decimal `json:"v"`
}

// Security describes one instrument.
type Security struct {
	Symbol            string          `json:"symbol"`
	ShortName         string          `json:"shortname"`
	Description       string          `json:"description"`
	Exchange          string          `json:"exchange"`
	Type              string          `json:"type"`
	LotSize           decimal.Decimal `json:"lotsize"`
	FaceValue         decimal.Decimal `json:"facevalue"`
	MinStep           decimal.Decimal `json:"minstep"`
	PriceStep         decimal.Decimal `json:"pricestep"`
	Currency          string          `json:"currency"`
	Board             string          `json:"board"`
	PrimaryBoard      string          `json:"primary_board"`
	Cancellation      string          `json:"cancellation,omitempty"`
	TradingStatus     int             `json:"tradingStatus"`
	TradingStatusInfo string          `json:"tradingStatusInfo"`
}

// -----------------------------------------------------------------------------
// Portfolio
// -----------------------------------------------------------------------------

// Order is the Simple order record.
type Order struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	BrokerSymbol   string          `json:"brokerSymbol"`
	Exchange       string          `json:"exchange"`
	Portfolio      string          `json:"portfolio"`
	Comment        string          `json:"comment"`
	Type           string          `json:"type"`   // market, limit
	Side           string          `json:"side"`   // buy, sell
	Status         string          `json:"status"` // working, filled, canceled, rejected
	TransTime      string          `json:"transTime"`
	UpdateTime     string          `json:"updateTime"`
	EndTime        string          `json:"endTime,omitempty"`
	QtyUnits       decimal.Decimal `json:"qtyUnits"`
	QtyBatch       decimal.Decimal `json:"qtyBatch"`
	Qty            decimal.Decimal `json:"qty"`
	FilledQtyUnits decimal.Decimal `json:"filledQtyUnits"`
	FilledQtyBatch decimal.Decimal `json:"filledQtyBatch"`
	Filled         decimal.Decimal `json:"filled"`
	Price          decimal.Decimal `json:"price"`
	Existing       bool            `json:"existing"`
	TimeInForce    string          `json:"timeInForce"`
	Volume         decimal.Decimal `json:"volume"`
}

// OrderSlim is the Slim order record.
type OrderSlim struct {
	ID    string          `json:"id"`
	Sym   string          `json:"sym"`
	Tic   string          `json:"tic"`
	P     string          `json:"p"`
	Ex    string          `json:"ex"`
	Cmt   string          `json:"cmt"`
	T     string          `json:"t"`
	S     string          `json:"s"`
	St    string          `json:"st"`
	TT    string          `json:"tt"`
	UT    string          `json:"ut"`
	ET    string          `json:"et,omitempty"`
	QtyU  decimal.Decimal `json:"qtyu"`
	QtyB  decimal.Decimal `json:"qtyb"`
	FQtyU decimal.Decimal `json:"fqtyu"`
	FQtyB decimal.Decimal `json:"fqtyb"`
	Px    decimal.Decimal `json:"px"`
	H     bool            `json:"h"`
	TF    string          `json:"tf"`
	Vol   decimal.Decimal `json:"vol"`
}

// Trade is the Simple own-trade record.
type Trade struct {
	ID           string          `json:"id"`
	OrderNo      string          `json:"orderno"`
	Comment      string          `json:"comment"`
	Symbol       string          `json:"symbol"`
	BrokerSymbol string          `json:"brokerSymbol"`
	Exchange     string          `json:"exchange"`
	Date         string          `json:"date"`
	Board        string          `json:"board"`
	QtyUnits     decimal.Decimal `json:"qtyUnits"`
	QtyBatch     decimal.Decimal `json:"qtyBatch"`
	Qty          decimal.Decimal `json:"qty"`
	Price        decimal.Decimal `json:"price"`
	Side         string          `json:"side"`
	Existing     bool            `json:"existing"`
	Commission   decimal.Decimal `json:"commission"`
	Volume       decimal.Decimal `json:"volume"`
	Value        decimal.Decimal `json:"value"`
}

// TradeSlim is the Slim own-trade record.
type TradeSlim struct {
	ID   string          `json:"id"`
	ONo  string          `json:"ono"`
	Cmt  string          `json:"cmt"`
	Sym  string          `json:"sym"`
	Tic  string          `json:"tic"`
	Ex   string          `json:"ex"`
	D    string          `json:"d"`
	B    string          `json:"b"`
	QtyU decimal.Decimal `json:"qtyu"`
	QtyB decimal.Decimal `json:"qtyb"`
	Px   decimal.Decimal `json:"px"`
	S    string          `json:"s"`
	H    bool            `json:"h"`
	Vol  decimal.Decimal `json:"vol"`
}

// Position is the Simple position record.
type Position struct {
	Symbol        string          `json:"symbol"`
	BrokerSymbol  string          `json:"brokerSymbol"`
	Portfolio     string          `json:"portfolio"`
	Exchange      string          `json:"exchange"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	QtyUnits      decimal.Decimal `json:"qtyUnits"`
	OpenUnits     decimal.Decimal `json:"openUnits"`
	LotSize       decimal.Decimal `json:"lotSize"`
	ShortName     string          `json:"shortName"`
	Qty           decimal.Decimal `json:"qty"`
	Open          decimal.Decimal `json:"open"`
	UnrealisedPl  decimal.Decimal `json:"unrealisedPl"`
	IsCurrency    bool            `json:"isCurrency"`
	Existing      bool            `json:"existing"`
	Volume        decimal.Decimal `json:"volume"`
	CurrentVolume decimal.Decimal `json:"currentVolume"`
}

// PositionSlim is the Slim position record.
type PositionSlim struct {
	Sym   string          `json:"sym"`
	Tic   string          `json:"tic"`
	P     string          `json:"p"`
	Ex    string          `json:"ex"`
	PxAvg decimal.Decimal `json:"pxavg"`
	QtyU  decimal.Decimal `json:"qtyu"`
	OpnU  decimal.Decimal `json:"opnu"`
	Lot   decimal.Decimal `json:"lot"`
	N     string          `json:"n"`
	Qty   decimal.Decimal `json:"qty"`
	Opn   decimal.Decimal `json:"opn"`
	UPL   decimal.Decimal `json:"upl"`
	Cur   bool            `json:"cur"`
	H     bool            `json:"h"`
	Vol   decimal.Decimal `json:"vol"`
	CVol  decimal.Decimal `json:"cvol"`
}

// Summary is the Simple portfolio summary record.
type Summary struct {
	BuyingPowerAtMorning           decimal.Decimal `json:"buyingPowerAtMorning"`
	BuyingPower                    decimal.Decimal `json:"buyingPower"`
	Profit                         decimal.Decimal `json:"profit"`
	ProfitRate                     decimal.Decimal `json:"profitRate"`
	PortfolioEvaluation            decimal.Decimal `json:"portfolioEvaluation"`
	PortfolioLiquidationValue      decimal.Decimal `json:"portfolioLiquidationValue"`
	InitialMargin                  decimal.Decimal `json:"initialMargin"`
	RiskBeforeForcePositionClosing decimal.Decimal `json:"riskBeforeForcePositionClosing"`
	Commission                     decimal.Decimal `json:"commission"`
}

// SummarySlim is the Slim portfolio summary record.
type SummarySlim struct {
	BPM decimal.Decimal `json:"bpm"`
	BP  decimal.Decimal `json:"bp"`
	Pr  decimal.Decimal `json:"pr"`
	PrR decimal.Decimal `json:"prr"`
	Ev  decimal.Decimal `json:"ev"`
	LV  decimal.Decimal `json:"lv"`
	IM  decimal.Decimal `json:"im"`
	RPC decimal.Decimal `json:"rpc"`
	Cms decimal.Decimal `json:"cms"`
}
