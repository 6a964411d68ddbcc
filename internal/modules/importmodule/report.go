package importmodule

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/modelbay/modelbay/internal/database"
	"github.com/modelbay/modelbay/internal/modules/importmodule/importer"
)

const reportPageSize = 500

// buildReport renders a two-sheet XLSX workbook for one job: a summary
// sheet with counters and an items sheet with per-file outcomes.
func (m *Module) buildReport(jobID uint) (*excelize.File, error) {
	job, err := m.manager.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	counts, err := m.manager.ItemCounts(jobID)
	if err != nil {
		return nil, err
	}
	projects, err := m.manager.Projects(jobID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	if err := writeSummarySheet(f, job, counts); err != nil {
		f.Close()
		return nil, fmt.Errorf("report summary sheet: %w", err)
	}
	if err := m.writeItemsSheet(f, job, projects); err != nil {
		f.Close()
		return nil, fmt.Errorf("report items sheet: %w", err)
	}
	_ = f.DeleteSheet("Sheet1")
	if index, err := f.GetSheetIndex("Summary"); err == nil {
		f.SetActiveSheet(index)
	}
	return f, nil
}

func writeSummarySheet(f *excelize.File, job *database.ImportJob, counts map[importer.ItemStatus]int64) error {
	const sheet = "Summary"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	formatTime := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format(time.RFC3339)
	}

	rows := []struct {
		label string
		value interface{}
	}{
		{"Job ID", job.ID},
		{"Status", job.Status},
		{"Source type", job.SourceType},
		{"Source path", job.SourcePath},
		{"Created", job.CreatedAt.Format(time.RFC3339)},
		{"Started", formatTime(job.StartedAt)},
		{"Completed", formatTime(job.CompletedAt)},
		{"Progress", fmt.Sprintf("%.1f%%", importer.Progress(job))},
		{"Total files", job.TotalFiles},
		{"Processed", job.ProcessedFiles},
		{"Succeeded", job.SucceededFiles},
		{"Failed", job.FailedFiles},
		{"Skipped", job.SkippedFiles},
		{"Duplicates", counts[importer.ItemStatusDuplicate]},
	}
	if job.StartedAt != nil && job.CompletedAt != nil {
		rows = append(rows, struct {
			label string
			value interface{}
		}{"Duration", job.CompletedAt.Sub(*job.StartedAt).Round(time.Second).String()})
	}
	if job.ErrorMessage != "" {
		rows = append(rows, struct {
			label string
			value interface{}
		}{"Error", job.ErrorMessage})
	}

	for i, row := range rows {
		labelCell, _ := excelize.CoordinatesToCellName(1, i+1)
		valueCell, _ := excelize.CoordinatesToCellName(2, i+1)
		if err := f.SetCellValue(sheet, labelCell, row.label); err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, valueCell, row.value); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(sheet, "A", "A", 16)
	_ = f.SetColWidth(sheet, "B", "B", 60)
	return nil
}

func (m *Module) writeItemsSheet(f *excelize.File, job *database.ImportJob, projects []database.DetectedProject) error {
	const sheet = "Items"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	projectNames := make(map[uint]string, len(projects))
	for _, project := range projects {
		projectNames[project.ID] = project.Name
	}

	headers := []string{
		"ID", "Filename", "Source Path", "Type", "Size", "Status", "Role",
		"Project", "Retries", "Design ID", "Duplicate Of", "Similarity", "Error",
	}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return err
		}
	}

	write := func(col, row int, value interface{}) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, value)
	}

	row := 2
	offset := 0
	for {
		items, total, err := m.manager.ListItems(job.ID, "", reportPageSize, offset)
		if err != nil {
			return err
		}
		for _, item := range items {
			write(1, row, item.ID)
			write(2, row, item.Filename)
			write(3, row, item.SourcePath)
			write(4, row, item.FileType)
			write(5, row, item.FileSize)
			write(6, row, item.Status)
			write(7, row, string(item.ProjectRole))
			if item.DetectedProjectID != nil {
				write(8, row, projectNames[*item.DetectedProjectID])
			}
			write(9, row, item.RetryCount)
			if item.DesignID != nil {
				write(10, row, *item.DesignID)
			}
			if item.DuplicateOfID != nil {
				write(11, row, *item.DuplicateOfID)
			}
			if item.SimilarityScore != nil {
				write(12, row, *item.SimilarityScore)
			}
			if item.ErrorMessage != "" {
				write(13, row, item.ErrorMessage)
			}
			row++
		}
		offset += len(items)
		if len(items) == 0 || int64(offset) >= total {
			break
		}
	}

	_ = f.SetColWidth(sheet, "B", "C", 40)
	_ = f.SetColWidth(sheet, "F", "G", 12)
	_ = f.SetColWidth(sheet, "M", "M", 50)
	return nil
}
