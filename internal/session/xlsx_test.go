package session

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestExportXLSX(t *testing.T) {
	data, err := ExportXLSX(sampleAnns())
	if err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rows, err := f.GetRows("Annotations")
	if err != nil {
		t.Fatal(err)
	}
	// Header plus one row per annotation.
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0][0] != "#" || rows[0][1] != "Page" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][2] != "text_highlight" || rows[1][5] != "an explanation" {
		t.Errorf("row 1 = %v", rows[1])
	}
	if rows[2][7] != "manual note" {
		t.Errorf("row 2 = %v", rows[2])
	}
}

func TestExportXLSXEmpty(t *testing.T) {
	data, err := ExportXLSX(nil)
	if err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := f.GetRows("Annotations")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Errorf("rows = %d, want header only", len(rows))
	}
}
