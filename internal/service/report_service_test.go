package service

import (
	"context"
	"testing"
	"time"

	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	now := time.Date(2024, 3, 15, 18, 30, 0, 0, time.UTC)
	day := func(s string) time.Time {
		d, err := time.Parse(ReportDateLayout, s)
		require.NoError(t, err)
		return d
	}

	tests := []struct {
		name      string
		from, to  string
		wantFrom  time.Time
		wantTo    time.Time
		wantError bool
	}{
		{name: "explicit", from: "2024-03-01", to: "2024-03-08", wantFrom: day("2024-03-01"), wantTo: day("2024-03-08")},
		{name: "single day", from: "2024-03-01", wantFrom: day("2024-03-01"), wantTo: day("2024-03-02")},
		{name: "only to", to: "2024-03-31", wantFrom: day("2024-03-01"), wantTo: day("2024-03-31")},
		{name: "default window", wantFrom: day("2024-02-15"), wantTo: day("2024-03-16")},
		{name: "reversed", from: "2024-03-08", to: "2024-03-01", wantError: true},
		{name: "empty range", from: "2024-03-08", to: "2024-03-08", wantError: true},
		{name: "malformed", from: "03/01/2024", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to, err := ParseRange(tt.from, tt.to, now)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.wantFrom.Equal(from), "from: want %s, got %s", tt.wantFrom, from)
			assert.True(t, tt.wantTo.Equal(to), "to: want %s, got %s", tt.wantTo, to)
		})
	}
}

type fixedSales []models.SalesDay

func (f fixedSales) SalesByDay(ctx context.Context, from, to time.Time) ([]models.SalesDay, error) {
	return f, nil
}

func TestSalesSummary(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	svc := NewReportService(fixedSales{
		{Day: from, Orders: 2, Gross: dec("920"), Discounts: dec("50"), DeliveryFee: dec("80"), Net: dec("950")},
		{Day: from.AddDate(0, 0, 1), Orders: 1, Gross: dec("460"), Discounts: dec("0"), DeliveryFee: dec("40"), Net: dec("500")},
	})

	report, err := svc.Sales(context.Background(), from, from.AddDate(0, 0, 2))
	require.NoError(t, err)

	assert.Len(t, report.Days, 2)
	assert.Equal(t, 3, report.Summary.Orders)
	assert.True(t, dec("1380").Equal(report.Summary.Gross))
	assert.True(t, dec("50").Equal(report.Summary.Discounts))
	assert.True(t, dec("120").Equal(report.Summary.DeliveryFee))
	assert.True(t, dec("1450").Equal(report.Summary.Net))
}
