package report

import (
	"bytes"
	"testing"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx"
)

func TestWriteSales(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	r := &service.SalesReport{
		From: from,
		To:   from.AddDate(0, 0, 2),
		Days: []models.SalesDay{
			{Day: from, Orders: 2, Gross: decimal.NewFromInt(900), Discounts: decimal.NewFromInt(50), DeliveryFee: decimal.NewFromInt(80), Net: decimal.NewFromInt(930)},
			{Day: from.AddDate(0, 0, 1), Orders: 1, Gross: decimal.NewFromInt(460), Discounts: decimal.Zero, DeliveryFee: decimal.NewFromInt(40), Net: decimal.NewFromInt(500)},
		},
		Summary: service.SalesSummary{Orders: 3, Gross: decimal.NewFromInt(1360), Discounts: decimal.NewFromInt(50), DeliveryFee: decimal.NewFromInt(120), Net: decimal.NewFromInt(1430)},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteSales(&buf, r))

	file, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, file.Sheets, 1)

	sheet := file.Sheets[0]
	assert.Equal(t, "Sales", sheet.Name)
	require.Len(t, sheet.Rows, 4)
	assert.Equal(t, "Day", sheet.Rows[0].Cells[0].Value)
	assert.Equal(t, "2024-03-01", sheet.Rows[1].Cells[0].Value)
	assert.Equal(t, "2", sheet.Rows[1].Cells[1].Value)
	assert.Equal(t, "Total", sheet.Rows[3].Cells[0].Value)
	assert.Equal(t, "3", sheet.Rows[3].Cells[1].Value)
}

func TestFilename(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	r := &service.SalesReport{From: from, To: from.AddDate(0, 1, 0)}
	assert.Equal(t, "sales_2024-03-01_2024-04-01.xlsx", Filename(r))
}
