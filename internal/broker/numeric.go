package broker

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Quotation is the units+nano fixed-point shape some venues use for prices
// and amounts: value = Units + Nano/1e9.
type Quotation struct {
	Units int64 `json:"units"`
	Nano  int32 `json:"nano"`
}

// Money is a Quotation tagged with a currency.
type Money struct {
	Currency string `json:"currency"`
	Units    int64  `json:"units"`
	Nano     int32  `json:"nano"`
}

// ToDecimal converts every venue numeric shape to a decimal. nil and nil
// pointers convert to zero. Unknown shapes and non-finite floats are errors.
func ToDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, nil
	case decimal.Decimal:
		return x, nil
	case *decimal.Decimal:
		if x == nil {
			return decimal.Zero, nil
		}
		return *x, nil
	case decimal.NullDecimal:
		if !x.Valid {
			return decimal.Zero, nil
		}
		return x.Decimal, nil
	case Quotation:
		return quotation(x.Units, x.Nano), nil
	case *Quotation:
		if x == nil {
			return decimal.Zero, nil
		}
		return quotation(x.Units, x.Nano), nil
	case Money:
		return quotation(x.Units, x.Nano), nil
	case *Money:
		if x == nil {
			return decimal.Zero, nil
		}
		return quotation(x.Units, x.Nano), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, fmt.Errorf("non-finite number %v", x)
		}
		return decimal.NewFromFloat(x), nil
	case float32:
		return ToDecimal(float64(x))
	case *float64:
		if x == nil {
			return decimal.Zero, nil
		}
		return ToDecimal(*x)
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int32:
		return decimal.NewFromInt32(x), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case uint32:
		return decimal.NewFromInt(int64(x)), nil
	case uint64:
		return parseDecimal(strconv.FormatUint(x, 10))
	case json.Number:
		return parseDecimal(x.String())
	case string:
		return parseDecimal(x)
	case *string:
		if x == nil {
			return decimal.Zero, nil
		}
		return parseDecimal(*x)
	case map[string]any:
		// Decoded JSON of a Quotation or Money object.
		units, err := ToDecimal(x["units"])
		if err != nil {
			return decimal.Zero, fmt.Errorf("units: %w", err)
		}
		nano, err := ToDecimal(x["nano"])
		if err != nil {
			return decimal.Zero, fmt.Errorf("nano: %w", err)
		}
		return units.Add(nano.Shift(-9)), nil
	}
	return decimal.Zero, fmt.Errorf("unsupported numeric type %T", v)
}

// ToFloat is ToDecimal followed by a float64 conversion.
func ToFloat(v any) (float64, error) {
	d, err := ToDecimal(v)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}

// Float converts v and returns 0 for anything ToFloat rejects.
func Float(v any) float64 {
	f, err := ToFloat(v)
	if err != nil {
		return 0
	}
	return f
}

func quotation(units int64, nano int32) decimal.Decimal {
	return decimal.NewFromInt(units).Add(decimal.New(int64(nano), -9))
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing %q: %w", s, err)
	}
	return d, nil
}
