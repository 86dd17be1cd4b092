// Package export renders accumulated ad records as spreadsheet files.
package export

import (
	"bytes"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/use-agent/adscope/models"
)

const sheetName = "Ads"

var headers = []string{
	"Advertiser",
	"Headline",
	"Description",
	"Call To Action",
	"Details URL",
	"Destination URL",
	"Image URLs",
	"Format",
	"Date Range",
	"Regions",
	"Advertiser ID",
	"Creative ID",
	"Source",
	"Exported At",
}

// columnWidths in excelize units, one per header.
var columnWidths = []float64{24, 32, 48, 16, 40, 40, 40, 10, 22, 18, 16, 16, 12, 18}

// ToXLSX renders the records as a single-sheet workbook.
func ToXLSX(records []*models.AdRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeExportFailed, "create sheet", err)
	}
	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDE6F2"}},
	})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(headers), 1)
		_ = f.SetCellStyle(sheetName, "A1", last, headerStyle)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, models.NewScrapeError(models.ErrCodeExportFailed, "write header row", err)
		}
	}
	for i, w := range columnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(sheetName, col, col, w)
	}

	exportedAt := time.Now().Format("1/2/2006 15:04")
	for row, rec := range records {
		values := []any{
			rec.Advertiser,
			rec.Headline,
			rec.Description,
			rec.CallToAction,
			rec.DetailsLink,
			rec.DestinationURL,
			strings.Join(rec.Images, "\n"),
			string(rec.Format),
			rec.DateRange,
			strings.Join(rec.Regions, ", "),
			rec.AdvertiserID,
			rec.CreativeID,
			rec.Source,
			exportedAt,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return nil, models.NewScrapeError(models.ErrCodeExportFailed, "write record row", err)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeExportFailed, "serialize workbook", err)
	}
	return buf.Bytes(), nil
}
