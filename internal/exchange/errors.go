// Package exchange holds the wire types and error taxonomy shared by every
// component that talks to the venue's USDT-M futures API.
package exchange

import (
	"errors"
	"fmt"

	"github.com/adshao/go-binance/v2/common"
)

// Kind is the closed set of abstract error kinds. Components branch on
// Kind, never on the raw venue error code, so the retry/surface policy
// lives in one place.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotional
	KindPricePrecision
	KindQuantityPrecision
	KindInsufficientBalance
	KindRateLimit
	KindReduceOnlyReject
	KindPositionMode
	KindWouldImmediatelyTrigger
	KindTransport
	KindDataIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindNotional:
		return "Notional"
	case KindPricePrecision:
		return "PricePrecision"
	case KindQuantityPrecision:
		return "QuantityPrecision"
	case KindInsufficientBalance:
		return "InsufficientBalance"
	case KindRateLimit:
		return "RateLimit"
	case KindReduceOnlyReject:
		return "ReduceOnlyReject"
	case KindPositionMode:
		return "PositionMode"
	case KindWouldImmediatelyTrigger:
		return "WouldImmediatelyTrigger"
	case KindTransport:
		return "Transport"
	case KindDataIntegrity:
		return "DataIntegrity"
	default:
		return "Unknown"
	}
}

// APIError wraps a venue JSON error {"code": N, "msg": "..."} tagged with
// its abstract Kind. Fatal is set for errors Hunter must not retry with a
// market fallback (e.g. a deterministic precision rejection).
type APIError struct {
	Kind  Kind
	Code  int
	Msg   string
	Fatal bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (code %d): %s", e.Kind, e.Code, e.Msg)
}

// codeKind maps documented venue error codes to abstract kinds.
var codeKind = map[int]Kind{
	-1003: KindRateLimit,
	-2010: KindInsufficientBalance,
	-2019: KindInsufficientBalance,
	-2011: KindTransport, // "order not found" — treated as benign by callers that expect it
	-2021: KindWouldImmediatelyTrigger,
	-2022: KindReduceOnlyReject,
	-4061: KindPositionMode,
	-4164: KindNotional,
	-4120: KindPricePrecision,
	-5020: KindPositionMode,
	-5021: KindPositionMode,
	-1111: KindQuantityPrecision,
	-1112: KindPricePrecision,
}

// fatalKinds never get a market-fallback retry in Hunter; they are
// deterministic rejections that a resubmission at market wouldn't fix.
var fatalKinds = map[Kind]bool{
	KindNotional:          true,
	KindPricePrecision:    true,
	KindQuantityPrecision: true,
	KindDataIntegrity:     true,
}

// Parse classifies err into the closed taxonomy. nil in, nil out.
func Parse(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		code := int(apiErr.Code)
		kind, ok := codeKind[code]
		if !ok {
			kind = KindTransport
		}
		return &APIError{Kind: kind, Code: code, Msg: apiErr.Message, Fatal: fatalKinds[kind]}
	}
	return &APIError{Kind: KindTransport, Code: 0, Msg: err.Error(), Fatal: false}
}

// IsPositionMode reports whether err classifies as KindPositionMode: the
// −4061 position-side mismatch, or the −5020/−5021 mode-change rejections.
func IsPositionMode(err error) bool {
	ae := Parse(err)
	return ae != nil && ae.Kind == KindPositionMode
}

// IsOrderNotFound reports whether err is −2011, which Position Manager's
// cancel-with-retry path treats as a successful cancellation.
func IsOrderNotFound(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == -2011
	}
	return false
}
