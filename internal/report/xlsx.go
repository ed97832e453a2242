package report

import (
	"fmt"
	"io"

	"checkout-service/internal/service"

	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx"
)

const moneyFormat = "#,##0.00"

// ContentType is the MIME type of the workbook written by WriteSales.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var salesHeaders = []string{"Day", "Orders", "Gross", "Discounts", "Delivery Fees", "Net"}

// Filename returns the download name for a report.
func Filename(r *service.SalesReport) string {
	return fmt.Sprintf("sales_%s_%s.xlsx",
		r.From.Format(service.ReportDateLayout),
		r.To.Format(service.ReportDateLayout))
}

// WriteSales renders the report as a single-sheet workbook with one row per
// day and a closing totals row.
func WriteSales(w io.Writer, r *service.SalesReport) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Sales")
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	header := sheet.AddRow()
	for _, h := range salesHeaders {
		header.AddCell().SetString(h)
	}

	for _, d := range r.Days {
		row := sheet.AddRow()
		row.AddCell().SetString(d.Day.UTC().Format(service.ReportDateLayout))
		row.AddCell().SetInt(d.Orders)
		addMoney(row, d.Gross)
		addMoney(row, d.Discounts)
		addMoney(row, d.DeliveryFee)
		addMoney(row, d.Net)
	}

	total := sheet.AddRow()
	total.AddCell().SetString("Total")
	total.AddCell().SetInt(r.Summary.Orders)
	addMoney(total, r.Summary.Gross)
	addMoney(total, r.Summary.Discounts)
	addMoney(total, r.Summary.DeliveryFee)
	addMoney(total, r.Summary.Net)

	if err := file.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func addMoney(row *xlsx.Row, d decimal.Decimal) {
	f, _ := d.Round(2).Float64()
	row.AddCell().SetFloatWithFormat(f, moneyFormat)
}
