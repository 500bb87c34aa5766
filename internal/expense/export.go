package expense

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var exportHeaders = []string{"Date", "Vendor", "Category", "Amount", "Currency", "Payment Method", "Notes"}

const xlsxSheet = "Expenses"

func formatAmount(amount float64) string {
	return decimal.NewFromFloat(amount).StringFixed(2)
}

func exportRow(e *Expense) []string {
	return []string{
		e.Date,
		e.Vendor,
		string(e.Category),
		formatAmount(e.Amount),
		e.Currency,
		e.PaymentMethod,
		e.Notes,
	}
}

// quoteCSV always quotes, doubling embedded quotes
func quoteCSV(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}

// WriteCSV writes a header row and one row per expense with every field quoted.
// The header is left unquoted.
func WriteCSV(w io.Writer, expenses []*Expense) error {
	if _, err := io.WriteString(w, strings.Join(exportHeaders, ",")+"\n"); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, e := range expenses {
		row := exportRow(e)
		for i := range row {
			row[i] = quoteCSV(row[i])
		}
		if _, err := io.WriteString(w, strings.Join(row, ",")+"\n"); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	return nil
}

// WriteXLSX writes the same columns as WriteCSV to an Excel workbook
func WriteXLSX(w io.Writer, expenses []*Expense) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(xlsxSheet, cell, h)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4F46E5"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	f.SetCellStyle(xlsxSheet, "A1", "G1", headerStyle)

	// 2 = "0.00"
	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	if err != nil {
		return fmt.Errorf("creating amount style: %w", err)
	}

	for i, e := range expenses {
		row := i + 2
		amount, _ := decimal.NewFromFloat(e.Amount).Round(2).Float64()
		values := []any{e.Date, e.Vendor, string(e.Category), amount, e.Currency, e.PaymentMethod, e.Notes}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(xlsxSheet, cell, v)
		}
		amountCell := fmt.Sprintf("D%d", row)
		f.SetCellStyle(xlsxSheet, amountCell, amountCell, amountStyle)
	}

	f.SetColWidth(xlsxSheet, "A", "A", 12)
	f.SetColWidth(xlsxSheet, "B", "B", 30)
	f.SetColWidth(xlsxSheet, "C", "F", 15)
	f.SetColWidth(xlsxSheet, "G", "G", 40)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing xlsx: %w", err)
	}
	return nil
}

// ClipboardText renders expenses as tab separated lines for pasting into
// expense report forms.
func ClipboardText(expenses []*Expense) string {
	lines := make([]string, 0, len(expenses))
	for _, e := range expenses {
		lines = append(lines, strings.Join([]string{
			e.Date,
			e.Vendor,
			string(e.Category),
			"$" + formatAmount(e.Amount),
			e.PaymentMethod,
		}, "\t"))
	}
	return strings.Join(lines, "\n")
}
