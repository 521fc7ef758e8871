package models

import (
	"math"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Candle is one OHLCV bar, identified by its open timestamp within a
// (symbol, interval) series.
type Candle struct {
	OpenTime int64 // epoch milliseconds
	Open     float64
	High     float64
	Low      float64
	Close    float64
	// Volume is nil when the source does not report it or the reported
	// value does not parse. A bad volume never invalidates the candle.
	Volume *float64
}

// NewCandle validates the mandatory fields. Non-finite prices reject the
// whole candle.
func NewCandle(openTime int64, open, high, low, close float64, volume *float64) (Candle, error) {
	for _, v := range [...]float64{open, high, low, close} {
		if !finite(v) {
			return Candle{}, errors.New("candle: non-finite price field")
		}
	}
	c := Candle{OpenTime: openTime, Open: open, High: high, Low: low, Close: close}
	if volume != nil && finite(*volume) {
		v := *volume
		c.Volume = &v
	}
	return c, nil
}

// CandleFromStrings builds a Candle from string-encoded numerics, the wire
// shape both the GraphQL rows and the Binance payloads use. Any mandatory
// field that fails to parse rejects the candle; volume degrades to absent.
func CandleFromStrings(openTime int64, open, high, low, close, volume string) (Candle, error) {
	o, err := ParsePrice(open)
	if err != nil {
		return Candle{}, errors.Wrap(err, "open")
	}
	h, err := ParsePrice(high)
	if err != nil {
		return Candle{}, errors.Wrap(err, "high")
	}
	l, err := ParsePrice(low)
	if err != nil {
		return Candle{}, errors.Wrap(err, "low")
	}
	c, err := ParsePrice(close)
	if err != nil {
		return Candle{}, errors.Wrap(err, "close")
	}

	var vol *float64
	if v, err := ParsePrice(volume); err == nil {
		vol = &v
	}

	return NewCandle(openTime, o, h, l, c, vol)
}

// ParsePrice parses a string into a finite float64.
func ParsePrice(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parse price")
	}
	if !finite(f) {
		return 0, errors.New("parse price: not finite")
	}
	return f, nil
}

// ParseCandleTime accepts the timestamp encodings seen on the wire:
// RFC3339, "2006-01-02 15:04:05" and plain epoch milliseconds.
// Returns epoch milliseconds.
func ParseCandleTime(s string) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	for _, layout := range [...]string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, errors.Errorf("parse candle time %q", s)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
