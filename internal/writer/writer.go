package writer

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/go-scripts/examcrawl/internal/types"
)

var header = []string{"student_name", "blog_link"}

// FileWriter exports collected records into the output directory
type FileWriter struct {
	outputDir string
	logger    *log.Logger
	now       func() time.Time
}

// New creates a FileWriter, creating outputDir if needed
func New(outputDir string, logger *log.Logger) (*FileWriter, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &FileWriter{
		outputDir: outputDir,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Dir returns the output directory
func (w *FileWriter) Dir() string {
	return w.outputDir
}

// SetClock replaces the time source used for file names
func (w *FileWriter) SetClock(now func() time.Time) {
	w.now = now
}

// Filename returns the deterministic file name for an export
func (w *FileWriter) Filename(examID string, format types.Format) string {
	return fmt.Sprintf("exam_data_%s_%s.%s", examID, w.now().Format("20060102_150405"), format.Ext())
}

// WriteRecords exports records and returns the written path. It never
// returns an error: an empty record set, an unknown format or a failed
// write is logged and reported as ok=false.
func (w *FileWriter) WriteRecords(records []types.Record, examID string, format types.Format) (string, bool) {
	if len(records) == 0 {
		w.logger.Warn("no records to export", "exam_id", examID)
		return "", false
	}

	var write func(string, []types.Record) error
	switch format {
	case types.FormatCSV:
		write = writeCSV
	case types.FormatXLSX:
		write = writeXLSX
	case types.FormatJSON:
		write = writeJSON
	case types.FormatXML:
		write = writeXML
	default:
		w.logger.Error("unsupported file format", "format", format)
		return "", false
	}

	path := filepath.Join(w.outputDir, w.Filename(examID, format))
	if err := write(path, records); err != nil {
		w.logger.Error("export failed", "path", path, "err", err)
		_ = os.Remove(path)
		return "", false
	}

	w.logger.Info("export complete", "path", path, "records", len(records))
	return path, true
}

func createFile(path string, fn func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := fn(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// writeCSV writes UTF-8 with a byte-order mark so spreadsheet tools detect
// the encoding.
func writeCSV(path string, records []types.Record) error {
	return createFile(path, func(out io.Writer) error {
		bom := transform.NewWriter(out, unicode.UTF8BOM.NewEncoder())
		cw := csv.NewWriter(bom)
		if err := cw.Write(header); err != nil {
			return err
		}
		for _, r := range records {
			if err := cw.Write([]string{r.StudentName, r.BlogLink}); err != nil {
				return err
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return fmt.Errorf("failed to encode csv: %w", err)
		}
		return bom.Close()
	})
}

func writeXLSX(path string, records []types.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"
	row := []interface{}{header[0], header[1]}
	if err := f.SetSheetRow(sheet, "A1", &row); err != nil {
		return err
	}
	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{r.StudentName, r.BlogLink}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func writeJSON(path string, records []types.Record) error {
	return createFile(path, func(out io.Writer) error {
		encoder := json.NewEncoder(out)
		encoder.SetEscapeHTML(false)
		encoder.SetIndent("", "    ")
		if err := encoder.Encode(records); err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		return nil
	})
}

type xmlStudents struct {
	XMLName  xml.Name     `xml:"students"`
	Students []xmlStudent `xml:"student"`
}

type xmlStudent struct {
	Name     string `xml:"name"`
	BlogLink string `xml:"blog_link"`
}

func writeXML(path string, records []types.Record) error {
	doc := xmlStudents{Students: make([]xmlStudent, 0, len(records))}
	for _, r := range records {
		doc.Students = append(doc.Students, xmlStudent{Name: r.StudentName, BlogLink: r.BlogLink})
	}

	return createFile(path, func(out io.Writer) error {
		if _, err := io.WriteString(out, "<?xml version=\"1.0\" ?>\n"); err != nil {
			return err
		}
		encoder := xml.NewEncoder(out)
		encoder.Indent("", "  ")
		if err := encoder.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode xml: %w", err)
		}
		if err := encoder.Close(); err != nil {
			return err
		}
		_, err := io.WriteString(out, "\n")
		return err
	})
}
