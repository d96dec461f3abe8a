package exchange

import (
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
)

func TestParseKnownCodes(t *testing.T) {
	cases := []struct {
		code int64
		want Kind
	}{
		{-1003, KindRateLimit},
		{-2010, KindInsufficientBalance},
		{-2021, KindWouldImmediatelyTrigger},
		{-2022, KindReduceOnlyReject},
		{-4061, KindPositionMode},
		{-4164, KindNotional},
		{-5020, KindPositionMode},
	}
	for _, c := range cases {
		err := &common.APIError{Code: c.code, Message: "boom"}
		got := Parse(err)
		assert.Equal(t, c.want, got.Kind, "code %d", c.code)
	}
}

func TestParseUnknownCodeFallsBackToTransport(t *testing.T) {
	err := &common.APIError{Code: -9999, Message: "mystery"}
	got := Parse(err)
	assert.Equal(t, KindTransport, got.Kind)
}

func TestFatalKindsBlockMarketFallback(t *testing.T) {
	err := &common.APIError{Code: -4164, Message: "too small"}
	got := Parse(err)
	assert.True(t, got.Fatal)
}

func TestIsOrderNotFound(t *testing.T) {
	assert.True(t, IsOrderNotFound(&common.APIError{Code: -2011, Message: "Unknown order sent."}))
	assert.False(t, IsOrderNotFound(&common.APIError{Code: -2010, Message: "balance"}))
}

func TestParseNil(t *testing.T) {
	assert.Nil(t, Parse(nil))
}
