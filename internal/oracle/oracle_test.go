package oracle

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestCoinPriceMissingConfig(t *testing.T) {
	o := New(Options{}, zerolog.Nop())
	if _, err := o.CoinPrice(context.Background()); err == nil {
		t.Fatal("未配置 RPC 时应报错")
	}

	o = New(Options{RPCURL: "http://localhost"}, zerolog.Nop())
	if _, err := o.CoinPrice(context.Background()); err == nil {
		t.Fatal("缺少聚合器地址应报错")
	}
}
