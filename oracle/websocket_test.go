package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFixedOracle(t *testing.T) {
	p, err := Fixed{Price: decimal.NewFromFloat(0.05)}.Sample(context.Background())
	assert.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromFloat(0.05)))

	_, err = Fixed{}.Sample(context.Background())
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestWSOracleSampleStates(t *testing.T) {
	w := &WSOracle{MaxAge: 100 * time.Millisecond}

	_, err := w.Sample(context.Background())
	assert.ErrorIs(t, err, ErrNoPrice, "no message received yet")

	w.handleMessage([]byte(`{"symbol":"SOLUSDC","price":"1.23"}`))
	p, err := w.Sample(context.Background())
	assert.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("1.23")))

	time.Sleep(150 * time.Millisecond)
	_, err = w.Sample(context.Background())
	assert.ErrorIs(t, err, ErrStalePrice)
}

func TestWSOracleDropsBadMessages(t *testing.T) {
	w := &WSOracle{MaxAge: time.Minute, Symbol: "SOLUSDC"}

	w.handleMessage([]byte(`not json`))
	w.handleMessage([]byte(`{"symbol":"SOLUSDC","price":"-4"}`))
	w.handleMessage([]byte(`{"symbol":"SOLUSDC","price":"abc"}`))
	w.handleMessage([]byte(`{"symbol":"ETHUSDC","price":"9.99"}`)) // other pair

	_, err := w.Sample(context.Background())
	assert.ErrorIs(t, err, ErrNoPrice)

	w.handleMessage([]byte(`{"symbol":"SOLUSDC","price":"0.05"}`))
	p, err := w.Sample(context.Background())
	assert.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("0.05")))
}
