// Package translate maps upstream records to client records.
//
// All functions are pure. Each record function takes the requested format
// and returns either the Simple or the Slim model type.
package translate

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/astras-gateway/internal/api"
	"github.com/rickgao/astras-gateway/internal/feed"
	"github.com/rickgao/astras-gateway/internal/model"
)

var ErrUnsupportedTimeframe = errors.New("unsupported timeframe")

// Meta carries the labels stamped on every record.
type Meta struct {
	Exchange  string
	Portfolio string
}

var timeframes = map[string]string{
	"1":       "1s",
	"60":      "1m",
	"180":     "3m",
	"300":     "5m",
	"900":     "15m",
	"1800":    "30m",
	"3600":    "1H",
	"7200":    "2H",
	"14400":   "4H",
	"D":       "1Dutc",
	"86400":   "1Dutc",
	"W":       "1Wutc",
	"604800":  "1Wutc",
	"M":       "1Mutc",
	"2592000": "1Mutc",
}

var bars = map[string]string{
	"1s":    "1",
	"1m":    "60",
	"3m":    "180",
	"5m":    "300",
	"15m":   "900",
	"30m":   "1800",
	"1H":    "3600",
	"2H":    "7200",
	"4H":    "14400",
	"1Dutc": "D",
	"1Wutc": "W",
	"1Mutc": "M",
}

// Timeframe maps a client timeframe to an upstream bar.
func Timeframe(tf string) (string, error) {
	bar, ok := timeframes[tf]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedTimeframe, tf)
	}
	return bar, nil
}

// ClientTimeframe maps an upstream bar back to a client timeframe.
func ClientTimeframe(bar string) (string, error) {
	tf, ok := bars[bar]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedTimeframe, bar)
	}
	return tf, nil
}

// OrderStatus maps an upstream order state to a client status.
func OrderStatus(state string) string {
	switch state {
	case "live", "partially_filled":
		return "working"
	case "filled":
		return "filled"
	case "canceled", "mmp_canceled":
		return "canceled"
	default:
		return "rejected"
	}
}

func orderType(ordType string) string {
	if ordType == "market" {
		return "market"
	}
	return "limit"
}

func timeInForce(ordType string) string {
	switch ordType {
	case "fok":
		return "fillorkill"
	case "ioc", "optimal_limit_ioc":
		return "immediateorcancel"
	case "post_only":
		return "bookorcancel"
	default:
		return "goodtillcancelled"
	}
}

// dec parses an upstream decimal string. Empty or malformed is zero.
func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func millis(s string) int64 {
	ms, _ := strconv.ParseInt(s, 10, 64)
	return ms
}

// isoTime renders a millisecond timestamp as RFC 3339 UTC.
func isoTime(s string) string {
	ms := millis(s)
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}

// Quote translates a ticker. Change is measured against the UTC day open.
func Quote(t api.Ticker, meta Meta, format model.Format) any {
	last, prev := dec(t.Last), dec(t.SodUtc0)
	change := last.Sub(prev)
	changePct := decimal.Zero
	if !prev.IsZero() {
		changePct = change.Div(prev).Mul(decimal.NewFromInt(100)).Round(4)
	}
	ts := millis(t.Ts)

	if format == model.FormatSlim {
		return model.QuoteSlim{
			Sym:  t.InstID,
			Ex:   meta.Exchange,
			Desc: t.InstID,
			Prev: prev,
			Last: last,
			LUT:  ts / 1000,
			High: dec(t.High24h),
			Low:  dec(t.Low24h),
			Open: dec(t.Open24h),
			Vol:  dec(t.Vol24h),
			Ask:  dec(t.AskPx),
			Bid:  dec(t.BidPx),
			AV:   dec(t.AskSz),
			BV:   dec(t.BidSz),
			OBTS: ts,
			Ch:   change,
			ChP:  changePct,
		}
	}
	return model.Quote{
		Symbol:             t.InstID,
		Exchange:           meta.Exchange,
		Description:        t.InstID,
		PrevClosePrice:     prev,
		LastPrice:          last,
		LastPriceTimestamp: ts / 1000,
		HighPrice:          dec(t.High24h),
		LowPrice:           dec(t.Low24h),
		OpenPrice:          dec(t.Open24h),
		Volume:             dec(t.Vol24h),
		Ask:                dec(t.AskPx),
		Bid:                dec(t.BidPx),
		AskVol:             dec(t.AskSz),
		BidVol:             dec(t.BidSz),
		OBMsTimestamp:      ts,
		Change:             change,
		ChangePercent:      changePct,
	}
}

// Book translates a materialized order book view.
func Book(v feed.BookView, existing bool, format model.Format) any {
	if format == model.FormatSlim {
		out := model.OrderBookSlim{
			B: make([]model.BookLevelSlim, len(v.Bids)),
			A: make([]model.BookLevelSlim, len(v.Asks)),
			T: v.Ts,
			H: existing,
		}
		for i, l := range v.Bids {
			out.B[i] = model.BookLevelSlim{P: l.Price, V: l.Size}
		}
		for i, l := range v.Asks {
			out.A[i] = model.BookLevelSlim{P: l.Price, V: l.Size}
		}
		return out
	}

	out := model.OrderBook{
		Snapshot:    v.Snapshot,
		Existing:    existing,
		Bids:        make([]model.BookLevel, len(v.Bids)),
		Asks:        make([]model.BookLevel, len(v.Asks)),
		Timestamp:   v.Ts / 1000,
		MsTimestamp: v.Ts,
	}
	for i, l := range v.Bids {
		out.Bids[i] = model.BookLevel{Price: l.Price, Volume: l.Size}
	}
	for i, l := range v.Asks {
		out.Asks[i] = model.BookLevel{Price: l.Price, Volume: l.Size}
	}
	return out
}

// Bar translates a candle. Time is the bar open in seconds.
func Bar(c api.Candle, format model.Format) any {
	if format == model.FormatSlim {
		return model.BarSlim{T: c.Ts / 1000, C: c.Close, O: c.Open, H: c.High, L: c.Low, V: c.Volume}
	}
	return model.Bar{Time: c.Ts / 1000, Close: c.Close, Open: c.Open, High: c.High, Low: c.Low, Volume: c.Volume}
}

// Order translates an order. Volume is price times quantity; market orders
// without a price use the average fill price.
func Order(o api.Order, existing bool, meta Meta, format model.Format) any {
	qty, filled := dec(o.Sz), dec(o.AccFillSz)
	px := dec(o.Px)
	if px.IsZero() {
		px = dec(o.AvgPx)
	}
	status := OrderStatus(o.State)
	var end string
	if status != "working" {
		end = isoTime(o.UTime)
	}

	if format == model.FormatSlim {
		return model.OrderSlim{
			ID:    o.OrdID,
			Sym:   o.InstID,
			Tic:   meta.Exchange + ":" + o.InstID,
			P:     meta.Portfolio,
			Ex:    meta.Exchange,
			Cmt:   o.Tag,
			T:     orderType(o.OrdType),
			S:     o.Side,
			St:    status,
			TT:    isoTime(o.CTime),
			UT:    isoTime(o.UTime),
			ET:    end,
			QtyU:  qty,
			QtyB:  qty,
			FQtyU: filled,
			FQtyB: filled,
			Px:    px,
			H:     existing,
			TF:    timeInForce(o.OrdType),
			Vol:   px.Mul(qty),
		}
	}
	return model.Order{
		ID:             o.OrdID,
		Symbol:         o.InstID,
		BrokerSymbol:   meta.Exchange + ":" + o.InstID,
		Exchange:       meta.Exchange,
		Portfolio:      meta.Portfolio,
		Comment:        o.Tag,
		Type:           orderType(o.OrdType),
		Side:           o.Side,
		Status:         status,
		TransTime:      isoTime(o.CTime),
		UpdateTime:     isoTime(o.UTime),
		EndTime:        end,
		QtyUnits:       qty,
		QtyBatch:       qty,
		Qty:            qty,
		FilledQtyUnits: filled,
		FilledQtyBatch: filled,
		Filled:         filled,
		Price:          px,
		Existing:       existing,
		TimeInForce:    timeInForce(o.OrdType),
		Volume:         px.Mul(qty),
	}
}

// Trade translates an own fill. Upstream fees are negative; commission is
// reported as a positive amount.
func Trade(f api.Fill, existing bool, meta Meta, format model.Format) any {
	qty, px := dec(f.FillSz), dec(f.FillPx)
	volume := px.Mul(qty)

	if format == model.FormatSlim {
		return model.TradeSlim{
			ID:   f.TradeID,
			ONo:  f.OrdID,
			Cmt:  f.ClOrdID,
			Sym:  f.InstID,
			Tic:  meta.Exchange + ":" + f.InstID,
			Ex:   meta.Exchange,
			D:    isoTime(f.Ts),
			B:    f.InstType,
			QtyU: qty,
			QtyB: qty,
			Px:   px,
			S:    f.Side,
			H:    existing,
			Vol:  volume,
		}
	}
	return model.Trade{
		ID:           f.TradeID,
		OrderNo:      f.OrdID,
		Comment:      f.ClOrdID,
		Symbol:       f.InstID,
		BrokerSymbol: meta.Exchange + ":" + f.InstID,
		Exchange:     meta.Exchange,
		Date:         isoTime(f.Ts),
		Board:        f.InstType,
		QtyUnits:     qty,
		QtyBatch:     qty,
		Qty:          qty,
		Price:        px,
		Side:         f.Side,
		Existing:     existing,
		Commission:   dec(f.Fee).Abs(),
		Volume:       volume,
		Value:        volume,
	}
}

// Position translates a position. Short positions in long/short mode are
// reported with a negative quantity.
func Position(p api.Position, existing bool, meta Meta, format model.Format) any {
	qty := dec(p.Pos)
	if p.PosSide == "short" && qty.IsPositive() {
		qty = qty.Neg()
	}
	avg := dec(p.AvgPx)
	volume := avg.Mul(qty.Abs())
	current := dec(p.Last).Mul(qty.Abs())
	isCurrency := p.InstType == api.InstTypeMargin && p.InstID == ""
	symbol := p.InstID
	if symbol == "" {
		symbol = p.Ccy
	}

	if format == model.FormatSlim {
		return model.PositionSlim{
			Sym:   symbol,
			Tic:   meta.Exchange + ":" + symbol,
			P:     meta.Portfolio,
			Ex:    meta.Exchange,
			PxAvg: avg,
			QtyU:  qty,
			OpnU:  qty,
			Lot:   decimal.NewFromInt(1),
			N:     symbol,
			Qty:   qty,
			Opn:   qty,
			UPL:   dec(p.Upl),
			Cur:   isCurrency,
			H:     existing,
			Vol:   volume,
			CVol:  current,
		}
	}
	return model.Position{
		Symbol:        symbol,
		BrokerSymbol:  meta.Exchange + ":" + symbol,
		Portfolio:     meta.Portfolio,
		Exchange:      meta.Exchange,
		AvgPrice:      avg,
		QtyUnits:      qty,
		OpenUnits:     qty,
		LotSize:       decimal.NewFromInt(1),
		ShortName:     symbol,
		Qty:           qty,
		Open:          qty,
		UnrealisedPl:  dec(p.Upl),
		IsCurrency:    isCurrency,
		Existing:      existing,
		Volume:        volume,
		CurrentVolume: current,
	}
}

// Summary translates an account balance. Buying power is the adjusted
// equity when the account mode reports it, otherwise total equity.
func Summary(b api.Balance, format model.Format) any {
	total := dec(b.TotalEq)
	bp := dec(b.AdjEq)
	if bp.IsZero() {
		bp = total
	}
	upl := dec(b.Upl)
	profitRate := decimal.Zero
	if !total.IsZero() {
		profitRate = upl.Div(total).Mul(decimal.NewFromInt(100)).Round(4)
	}
	risk := bp.Sub(dec(b.Mmr))

	if format == model.FormatSlim {
		return model.SummarySlim{
			BPM: bp,
			BP:  bp,
			Pr:  upl,
			PrR: profitRate,
			Ev:  total,
			LV:  total,
			IM:  dec(b.Imr),
			RPC: risk,
			Cms: decimal.Zero,
		}
	}
	return model.Summary{
		BuyingPowerAtMorning:           bp,
		BuyingPower:                    bp,
		Profit:                         upl,
		ProfitRate:                     profitRate,
		PortfolioEvaluation:            total,
		PortfolioLiquidationValue:      total,
		InitialMargin:                  dec(b.Imr),
		RiskBeforeForcePositionClosing: risk,
		Commission:                     decimal.Zero,
	}
}

// Trading status codes reported for securities.
const (
	TradingStatusNormal = 17
	TradingStatusBreak  = 18
)

// Security translates an instrument.
func Security(i api.Instrument, meta Meta) model.Security {
	face := dec(i.CtVal)
	if face.IsZero() {
		face = decimal.NewFromInt(1)
	}
	currency := i.QuoteCcy
	if currency == "" {
		currency = i.SettleCcy
	}
	status := TradingStatusNormal
	if i.State != "live" {
		status = TradingStatusBreak
	}
	return model.Security{
		Symbol:            i.InstID,
		ShortName:         i.InstID,
		Description:       i.InstID,
		Exchange:          meta.Exchange,
		Type:              i.InstType,
		LotSize:           dec(i.LotSz),
		FaceValue:         face,
		MinStep:           dec(i.TickSz),
		PriceStep:         dec(i.TickSz),
		Currency:          currency,
		Board:             i.InstType,
		PrimaryBoard:      i.InstType,
		Cancellation:      isoTime(i.ExpTime),
		TradingStatus:     status,
		TradingStatusInfo: i.State,
	}
}
