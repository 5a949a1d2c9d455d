package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/ryabkov82/listing-ingest/internal/job"
)

// rowSource yields raw string rows, header first
type rowSource interface {
	next() ([]string, error)
	close() error
}

// Parser reads a delimited file or a spreadsheet and maps rows to the header
type Parser struct {
	job           *job.Job
	src           rowSource
	header        []string
	headerMap     map[string]int
	rowNo         int64
	errorsFile    *os.File
	errorsWriter  *bufio.Writer
	errorsEncoder *json.Encoder
}

// NewParser opens the job's input file. allowedBaseDir may be empty to skip
// the containment check.
func NewParser(j *job.Job, allowedBaseDir string) (*Parser, error) {
	resolvedPath, err := ResolveSource(j.InputPath, allowedBaseDir)
	if err != nil {
		return nil, err
	}

	var src rowSource
	if IsSpreadsheet(resolvedPath) {
		src, err = openSheet(resolvedPath, j.Source.Sheet)
	} else {
		src, err = openCSV(resolvedPath, j.Source)
	}
	if err != nil {
		return nil, err
	}

	p := &Parser{
		job:       j,
		src:       src,
		headerMap: make(map[string]int),
	}

	header, err := src.next()
	if err != nil {
		src.close()
		if errors.Is(err, io.EOF) {
			return nil, errors.New("source has no header row")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i, name := range header {
		name = strings.TrimSpace(name)
		p.header = append(p.header, name)
		if _, dup := p.headerMap[name]; !dup {
			p.headerMap[name] = i
		}
	}

	if j.Run.ErrorsJsonl != "" {
		p.errorsFile, err = os.OpenFile(j.Run.ErrorsJsonl, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			src.close()
			return nil, fmt.Errorf("failed to open errors file: %w", err)
		}
		p.errorsWriter = bufio.NewWriter(p.errorsFile)
		p.errorsEncoder = json.NewEncoder(p.errorsWriter)
	}

	return p, nil
}

// Close closes the parser and its resources
func (p *Parser) Close() error {
	var errs []error
	if p.errorsWriter != nil {
		if err := p.errorsWriter.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush errors writer: %w", err))
		}
	}
	if p.errorsFile != nil {
		if err := p.errorsFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.src != nil {
		if err := p.src.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Header returns the trimmed header row
func (p *Parser) Header() []string {
	return p.header
}

// ColumnIndex returns the position of a header column
func (p *Parser) ColumnIndex(name string) (int, bool) {
	idx, ok := p.headerMap[name]
	return idx, ok
}

// ReadRow reads the next non-empty row. It returns io.EOF at the end of the
// source and a *RowError for a single malformed line, after which reading
// may continue.
func (p *Parser) ReadRow(ctx context.Context) (SourceRow, error) {
	for {
		select {
		case <-ctx.Done():
			return SourceRow{}, ctx.Err()
		default:
		}

		record, err := p.src.next()
		if err == io.EOF {
			return SourceRow{}, io.EOF
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				p.rowNo++
				return SourceRow{}, &RowError{RowNo: p.rowNo, Err: err}
			}
			return SourceRow{}, fmt.Errorf("read error: %w", err)
		}

		p.rowNo++
		if isBlank(record) {
			continue
		}

		values := make([]any, len(p.header))
		for i := range values {
			if i < len(record) {
				values[i] = record[i]
			}
		}
		return SourceRow{RowNo: p.rowNo, Values: values}, nil
	}
}

// RowNo returns the number of data rows consumed so far
func (p *Parser) RowNo() int64 {
	return p.rowNo
}

// LogError appends an item to the errors JSONL file if one is configured
func (p *Parser) LogError(item ErrorItem) {
	if p.errorsEncoder == nil {
		return
	}
	if item.TS == "" {
		item.TS = time.Now().UTC().Format(time.RFC3339)
	}
	if err := p.errorsEncoder.Encode(item); err != nil {
		log.Warn().Err(err).Msg("Failed to write error log")
	}
}

// RowError is a single source line that could not be decoded
type RowError struct {
	RowNo int64
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.RowNo, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

type csvSource struct {
	file   *os.File
	reader *csv.Reader
}

func openCSV(path string, cfg job.SourceConfig) (*csvSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	enc, err := sourceEncoding(cfg.Encoding)
	if err != nil {
		file.Close()
		return nil, err
	}

	csvReader := csv.NewReader(enc.NewDecoder().Reader(file))
	if cfg.Delimiter != "" {
		csvReader.Comma = []rune(cfg.Delimiter)[0]
	} else if strings.EqualFold(filepath.Ext(path), ".tsv") {
		csvReader.Comma = '\t'
	}
	csvReader.LazyQuotes = true
	csvReader.FieldsPerRecord = -1

	return &csvSource{file: file, reader: csvReader}, nil
}

func (s *csvSource) next() ([]string, error) {
	return s.reader.Read()
}

func (s *csvSource) close() error {
	return s.file.Close()
}

// sourceEncoding maps a configured encoding name to a decoder. UTF-8 input
// always has a leading byte order mark stripped, as spreadsheet exports
// often carry one.
func sourceEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8", "utf-8-bom":
		return unicode.UTF8BOM, nil
	case "windows-1251", "cp1251":
		return charmap.Windows1251, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1, nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", name)
}

type sheetSource struct {
	file *excelize.File
	rows [][]string
	pos  int
}

func openSheet(path, sheet string) (*sheetSource, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			f.Close()
			return nil, errors.New("spreadsheet has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	return &sheetSource{file: f, rows: rows}, nil
}

func (s *sheetSource) next() ([]string, error) {
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

func (s *sheetSource) close() error {
	return s.file.Close()
}
