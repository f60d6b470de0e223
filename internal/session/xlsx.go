package session

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/margolab/margo/internal/models"
)

// ExportXLSX renders an annotation summary spreadsheet: one row per record
// in append order.
func ExportXLSX(anns []models.Annotation) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Annotations"
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("remove default sheet: %w", err)
	}

	headers := []interface{}{"#", "Page", "Kind", "Captured Text", "Question", "Response", "Provider", "Note", "Created"}
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, a := range anns {
		row := []interface{}{
			i + 1,
			a.Page,
			string(a.Kind),
			a.Text,
			a.Question,
			a.Response,
			a.Provider,
			a.Note,
			a.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize spreadsheet: %w", err)
	}
	return buf.Bytes(), nil
}
