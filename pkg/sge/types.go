package sge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Instrument is one quoted contract on the exchange.
type Instrument struct {
	Metal  string // "gold" | "silver"
	InstID string // e.g. "Au(T+D)"
	Unit   string // "CNY/g" or "CNY/kg"
}

// DefaultInstruments are the two spot deferred contracts the collector tracks.
var DefaultInstruments = []Instrument{
	{Metal: "gold", InstID: "Au(T+D)", Unit: "CNY/g"},
	{Metal: "silver", InstID: "Ag(T+D)", Unit: "CNY/kg"},
}

// QuotationResponse is the raw graph/quotations payload.
type QuotationResponse struct {
	Times    []string    `json:"times"`    // "HH:MM" labels, oldest first
	Data     []flexPrice `json:"data"`     // parallel to Times
	Min      *flexPrice  `json:"min"`      // session low bound
	Max      *flexPrice  `json:"max"`      // session high bound
	Heyue    string      `json:"heyue"`    // contract name
	DelayStr string      `json:"delaystr"` // "YYYY年MM月DD日 HH:MM:SS"
}

// Quote is a decoded quotation batch. Prices that could not be parsed are NaN.
type Quote struct {
	Times    []string
	Prices   []float64
	Min      *float64
	Max      *float64
	Contract string
	DelayStr string
}

// toQuote pairs labels with prices; a trailing excess on either side is
// dropped.
func (r QuotationResponse) toQuote() Quote {
	n := min(len(r.Times), len(r.Data))
	q := Quote{
		Times:    r.Times[:n],
		Prices:   make([]float64, n),
		Contract: r.Heyue,
		DelayStr: r.DelayStr,
	}
	for i := 0; i < n; i++ {
		q.Prices[i] = float64(r.Data[i])
	}
	if r.Min != nil && !math.IsNaN(float64(*r.Min)) {
		v := float64(*r.Min)
		q.Min = &v
	}
	if r.Max != nil && !math.IsNaN(float64(*r.Max)) {
		v := float64(*r.Max)
		q.Max = &v
	}
	return q
}

// flexPrice accepts a JSON number, a numeric string or null. Anything that is
// not a number decodes to NaN rather than failing the whole payload.
type flexPrice float64

func (p *flexPrice) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*p = flexPrice(math.NaN())
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("price string: %w", err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*p = flexPrice(math.NaN())
			return nil
		}
		*p = flexPrice(v)
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		*p = flexPrice(math.NaN())
		return nil
	}
	*p = flexPrice(v)
	return nil
}
