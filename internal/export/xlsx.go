// Package export renders a saved purchase to an XLSX workbook.
package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"splitledger/internal/backend"
	"splitledger/internal/core"
)

const sheetName = "Purchase"

// Purchase writes one workbook: the purchase header, one row per item
// with its line total, and one share row per contributor.
func Purchase(rec *backend.PurchaseRecord, users []core.User) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", sheetName)

	names := make(map[int64]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}

	set := func(cell string, value any) error {
		return f.SetCellValue(sheetName, cell, value)
	}

	header := [][2]any{
		{"Purchase", rec.Purchase.Name},
		{"Date", rec.Purchase.Date.String()},
		{"Payer", displayName(names, rec.Purchase.PayerID)},
	}
	for i, kv := range header {
		if err := set(fmt.Sprintf("A%d", i+1), kv[0]); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
		if err := set(fmt.Sprintf("B%d", i+1), kv[1]); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}

	row := 5
	columns := []string{"Item", "Quantity", "Price", "Discount", "Tax rate", "Line total", "Contributors"}
	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		if err := set(cell, col); err != nil {
			return nil, fmt.Errorf("write column header: %w", err)
		}
	}
	row++

	shares := make(map[int64]float64)
	var shareOrder []int64
	var total float64

	for _, it := range rec.Items {
		lineTotal := it.Price*float64(it.Quantity)*(1+it.TaxRate/100) - it.Discount
		total += lineTotal

		contributors := make([]string, 0, len(it.Contributors))
		for _, id := range it.Contributors {
			contributors = append(contributors, displayName(names, id))
			if _, seen := shares[id]; !seen {
				shareOrder = append(shareOrder, id)
			}
			shares[id] += lineTotal / float64(len(it.Contributors))
		}

		name := it.FriendlyName
		if name == "" {
			name = it.OriginalName
		}
		values := []any{
			name,
			it.Quantity,
			it.Price,
			it.Discount,
			it.TaxRate,
			core.RoundDisplay(lineTotal),
			joinNames(contributors),
		}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			if err := set(cell, v); err != nil {
				return nil, fmt.Errorf("write item row: %w", err)
			}
		}
		row++
	}

	row++
	if err := set(fmt.Sprintf("A%d", row), "Total"); err != nil {
		return nil, fmt.Errorf("write total: %w", err)
	}
	if err := set(fmt.Sprintf("B%d", row), core.RoundDisplay(total)); err != nil {
		return nil, fmt.Errorf("write total: %w", err)
	}
	row += 2

	if err := set(fmt.Sprintf("A%d", row), "Contributor"); err != nil {
		return nil, fmt.Errorf("write share header: %w", err)
	}
	if err := set(fmt.Sprintf("B%d", row), "Share"); err != nil {
		return nil, fmt.Errorf("write share header: %w", err)
	}
	row++
	for _, id := range shareOrder {
		if err := set(fmt.Sprintf("A%d", row), displayName(names, id)); err != nil {
			return nil, fmt.Errorf("write share row: %w", err)
		}
		if err := set(fmt.Sprintf("B%d", row), core.RoundDisplay(shares[id])); err != nil {
			return nil, fmt.Errorf("write share row: %w", err)
		}
		row++
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func displayName(names map[int64]string, id int64) string {
	if name, ok := names[id]; ok {
		return name
	}
	return fmt.Sprintf("user %d", id)
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}
