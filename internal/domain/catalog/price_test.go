package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticPriceList(t *testing.T) {
	list := NewStaticPriceList(Product{
		ID:            "shirt",
		Name:          "Work Shirt",
		UnitPrice:     decimal.NewFromInt(20),
		VariantPrices: map[string]decimal.Decimal{"XXL": decimal.NewFromInt(24)},
	})

	p, err := list.Resolve(context.Background(), "shirt")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(20).Equal(p.PriceFor("M")))
	assert.True(t, decimal.NewFromInt(24).Equal(p.PriceFor("XXL")))

	_, err = list.Resolve(context.Background(), "boots")
	assert.True(t, errors.Is(err, ErrProductNotFound))

	list.Put(Product{ID: "boots", UnitPrice: decimal.NewFromInt(90)})
	p, err = list.Resolve(context.Background(), "boots")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(90).Equal(p.PriceFor("")))
}
