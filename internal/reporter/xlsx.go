package reporter

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ppiankov/wphunter/internal/models"
)

const (
	resultsSheet = "Results"
	summarySheet = "Summary"
)

// XLSXReporter writes an Excel workbook with a results sheet and a summary sheet
type XLSXReporter struct {
	writer io.Writer
}

// NewXLSXReporter creates a new XLSX reporter
func NewXLSXReporter(writer io.Writer) *XLSXReporter {
	return &XLSXReporter{writer: writer}
}

// Generate writes the workbook
func (r *XLSXReporter) Generate(doc *Document) error {
	file := excelize.NewFile()
	defer func() { _ = file.Close() }()

	if err := file.SetSheetName("Sheet1", resultsSheet); err != nil {
		return err
	}
	for i, header := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := file.SetCellValue(resultsSheet, cell, header); err != nil {
			return err
		}
	}
	if style, err := file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		last, _ := excelize.CoordinatesToCellName(len(columns), 1)
		_ = file.SetCellStyle(resultsSheet, "A1", last, style)
	}

	for i, res := range doc.Results {
		if err := file.SetSheetRow(resultsSheet, fmt.Sprintf("A%d", i+2), &[]interface{}{
			res.Slug,
			res.Name,
			string(res.Kind),
			res.Version,
			res.Score,
			string(res.Severity()),
			res.ActiveInstalls,
			res.DaysSinceUpdate,
			formatDate(res),
			res.TestedWP,
			res.Author,
			res.AuthorTrusted,
			res.IsRiskyCategory,
			res.IsUserFacing,
			strings.Join(res.RiskTags, ";"),
			strings.Join(res.SecurityFlags, ";"),
			strings.Join(res.FeatureFlags, ";"),
			res.DownloadLink,
		}); err != nil {
			return err
		}
	}

	if doc.Summary != nil {
		if _, err := file.NewSheet(summarySheet); err != nil {
			return err
		}
		s := doc.Summary
		rows := [][]interface{}{
			{"session", doc.SessionID},
			{"generated_at", doc.GeneratedAt.Format("2006-01-02 15:04:05")},
			{"evaluated", s.Evaluated},
			{"emitted", s.Emitted},
			{"skipped", s.Skipped},
			{"downloads_failed", s.DownloadsFailed},
			{"high_risk", s.HighRisk},
			{"high_risk_threshold", s.HighRiskThreshold},
			{"max_score", s.MaxScore},
			{"average_score", s.AverageScore},
		}
		for i, rowData := range rows {
			if err := file.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+1), &rowData); err != nil {
				return err
			}
		}
	}

	return file.Write(r.writer)
}

func formatDate(r models.ScoredResult) string {
	if r.LastUpdated.IsZero() {
		return ""
	}
	return r.LastUpdated.Format("2006-01-02")
}
