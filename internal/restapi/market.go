package restapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/rickgao/astras-gateway/internal/model"
	"github.com/rickgao/astras-gateway/internal/translate"
)

const (
	defaultSecuritiesLimit = 25
	maxSecuritiesLimit     = 1000
)

// History is the body of a bar history response, oldest bar first.
type History struct {
	History []any `json:"history"`
}

// securities lists instruments, optionally filtered by a case-insensitive
// symbol substring.
func (s *Server) securities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if ex := q.Get("exchange"); ex != "" && !strings.EqualFold(ex, s.meta.Exchange) {
		writeJSON(w, http.StatusOK, []model.Security{})
		return
	}
	limit, err := intParam(q.Get("limit"), defaultSecuritiesLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit = min(limit, maxSecuritiesLimit)

	instruments, err := s.deps.Instruments.List(r.Context(), q.Get("instrumentGroup"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	needle := strings.ToUpper(q.Get("query"))
	out := make([]model.Security, 0, limit)
	skipped := 0
	for _, inst := range instruments {
		if needle != "" && !strings.Contains(inst.InstID, needle) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, translate.Security(inst, s.meta))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) security(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !strings.EqualFold(vars["exchange"], s.meta.Exchange) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown exchange %q", vars["exchange"]))
		return
	}
	inst, err := s.deps.Instruments.Resolve(r.Context(), r.URL.Query().Get("instrumentGroup"), vars["symbol"])
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, translate.Security(inst, s.meta))
}

// quotes returns one quote per comma-separated symbol. A symbol may carry
// its exchange as a prefix, as in OKX:BTC-USDT.
func (s *Server) quotes(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	format := model.ParseFormat(r.URL.Query().Get("format"))

	var out []any
	for _, sym := range strings.Split(vars["symbols"], ",") {
		exchange := vars["exchange"]
		if ex, rest, ok := strings.Cut(sym, ":"); ok {
			exchange, sym = ex, rest
		}
		if sym == "" {
			continue
		}
		if !strings.EqualFold(exchange, s.meta.Exchange) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown exchange %q", exchange))
			return
		}
		inst, err := s.deps.Instruments.Resolve(r.Context(), "", sym)
		if err != nil {
			writeFailure(w, err)
			return
		}
		ticker, err := s.deps.Market.GetTicker(r.Context(), inst.InstID)
		if err != nil {
			writeFailure(w, err)
			return
		}
		out = append(out, translate.Quote(*ticker, s.meta, format))
	}
	if out == nil {
		writeError(w, http.StatusBadRequest, "at least one symbol is required")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// history returns bars of one timeframe between from and to, both unix
// seconds and inclusive. A missing to means now.
func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if ex := q.Get("exchange"); ex != "" && !strings.EqualFold(ex, s.meta.Exchange) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown exchange %q", ex))
		return
	}
	bar, err := translate.Timeframe(q.Get("tf"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	from, err := int64Param(q.Get("from"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := int64Param(q.Get("to"), time.Now().Unix())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if from > to {
		writeError(w, http.StatusBadRequest, "from must not be after to")
		return
	}

	inst, err := s.deps.Instruments.Resolve(r.Context(), q.Get("instrumentGroup"), symbol)
	if err != nil {
		writeFailure(w, err)
		return
	}
	candles, err := s.deps.Market.GetCandlesSince(r.Context(), inst.InstID, bar, from*1000, s.cfg.HistoryPages)
	if err != nil {
		writeFailure(w, err)
		return
	}

	format := model.ParseFormat(q.Get("format"))
	resp := History{History: make([]any, 0, len(candles))}
	for _, c := range candles {
		if c.Ts > to*1000 {
			break
		}
		resp.History = append(resp.History, translate.Bar(c, format))
	}
	writeJSON(w, http.StatusOK, resp)
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid number %q", v)
	}
	return n, nil
}

func int64Param(v string, def int64) (int64, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid number %q", v)
	}
	return n, nil
}
