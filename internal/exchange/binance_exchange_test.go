package exchange

import (
	"errors"
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-trade-bot-go/internal/models"
)

func TestMapBinanceStatus(t *testing.T) {
	testCases := []struct {
		status string
		want   ExecStatus
	}{
		{"NEW", ExecNew},
		{"PARTIALLY_FILLED", ExecPartiallyFilled},
		{"FILLED", ExecFilled},
		{"CANCELED", ExecCanceled},
		// 撤单请求尚未生效，订单仍可能成交
		{"PENDING_CANCEL", ExecNew},
		{"REJECTED", ExecRejected},
		{"EXPIRED", ExecExpired},
	}
	for _, tc := range testCases {
		t.Run(tc.status, func(t *testing.T) {
			assert.Equal(t, tc.want, mapBinanceStatus(tc.status))
		})
	}
}

func TestToBinanceSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", toBinanceSymbol("BTC/USDT"))
	assert.Equal(t, "BTCUSDT", toBinanceSymbol("BTCUSDT"))
}

func TestBuildResult(t *testing.T) {
	r, err := buildResult(42, "k3_st1o2", "FILLED", "95.00", "2", "2", "190", 1700000000000)
	require.NoError(t, err)
	assert.Equal(t, "42", r.ExchangeOrderID)
	assert.Equal(t, ExecFilled, r.Status)
	assert.Equal(t, "95", r.FilledPrice.String())

	r, err = buildResult(43, "", "NEW", "95", "2", "", "", 0)
	require.NoError(t, err)
	assert.True(t, r.ExecutedQty.IsZero())
	assert.True(t, r.FilledPrice.IsZero())

	_, err = buildResult(44, "", "NEW", "abc", "2", "0", "0", 0)
	assert.Error(t, err)
}

func TestWrapBinanceError(t *testing.T) {
	err := wrapBinanceError("create order", &common.APIError{Code: -2010, Message: "Duplicate order sent."})
	assert.True(t, errors.Is(err, ErrOrderRejected))

	err = wrapBinanceError("get order", &common.APIError{Code: -2013, Message: "Order does not exist."})
	assert.True(t, errors.Is(err, ErrOrderNotFound))

	err = wrapBinanceError("get order", errors.New("connection reset"))
	assert.True(t, errors.Is(err, models.ErrExternal))
}
