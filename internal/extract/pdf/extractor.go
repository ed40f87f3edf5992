// Package pdfextract pulls page text and simple grid tables out of PDF documents.
package pdfextract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/vinay10110/FinCompilance/internal/crawler"
)

// Config tunes how glyph runs are grouped into words and cells.
type Config struct {
	// WordGap is the horizontal gap, in multiples of the font size, that inserts a space.
	WordGap float64
	// CellGap is the gap, in multiples of the font size, that starts a new table cell.
	CellGap float64
	// MinTableRows is the shortest run of equal-width rows reported as a table.
	MinTableRows int
}

// Extractor implements crawler.Extractor.
type Extractor struct {
	cfg    Config
	logger *zap.Logger
}

// New builds an Extractor, filling zero config values with defaults.
func New(cfg Config, logger *zap.Logger) *Extractor {
	if cfg.WordGap <= 0 {
		cfg.WordGap = 0.15
	}
	if cfg.CellGap <= cfg.WordGap {
		cfg.CellGap = 1.5
	}
	if cfg.MinTableRows < 2 {
		cfg.MinTableRows = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, logger: logger}
}

// Extract returns one string per page plus every table detected across pages.
func (e *Extractor) Extract(ctx context.Context, data []byte) (extraction crawler.Extraction, err error) {
	if len(data) == 0 {
		return crawler.Extraction{}, errors.New("empty document")
	}
	// The reader panics on some malformed object streams.
	defer func() {
		if r := recover(); r != nil {
			extraction = crawler.Extraction{}
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return crawler.Extraction{}, fmt.Errorf("open pdf: %w", err)
	}
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return crawler.Extraction{}, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := e.pageRows(page)
		if err != nil {
			e.logger.Warn("skipping unreadable page", zap.Int("page", i), zap.Error(err))
			continue
		}
		extraction.Pages = append(extraction.Pages, pageText(rows))
		extraction.Tables = append(extraction.Tables, DetectTables(rows, e.cfg.MinTableRows)...)
	}
	return extraction, nil
}

// TextRun is a positioned piece of text on one baseline.
type TextRun struct {
	X        float64
	Y        float64
	W        float64
	FontSize float64
	S        string
}

func (e *Extractor) pageRows(page pdf.Page) (rows [][]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			rows, err = nil, fmt.Errorf("read page content: %v", r)
		}
	}()
	glyphs := page.Content().Text
	runs := make([]TextRun, 0, len(glyphs))
	for _, g := range glyphs {
		runs = append(runs, TextRun{X: g.X, Y: g.Y, W: g.W, FontSize: g.FontSize, S: g.S})
	}
	for _, line := range GroupLines(MergeGlyphs(runs)) {
		if cells := LayoutRow(line, e.cfg.WordGap, e.cfg.CellGap); len(cells) > 0 {
			rows = append(rows, cells)
		}
	}
	return rows, nil
}

func fontSize(r TextRun) float64 {
	if r.FontSize <= 0 {
		return 10
	}
	return r.FontSize
}

// MergeGlyphs joins glyphs drawn one after another on the same baseline into runs.
// Glyphs without a width, as produced by fonts lacking a Widths array, are given
// half the font size per rune.
func MergeGlyphs(glyphs []TextRun) []TextRun {
	const eps = 0.01
	var (
		runs  []TextRun
		cur   TextRun
		lastX float64
		open  bool
	)
	flush := func() {
		if open {
			runs = append(runs, cur)
		}
		open = false
	}
	for _, g := range glyphs {
		if g.S == "" || g.S == "\n" || g.S == "\r" {
			flush()
			continue
		}
		size := fontSize(g)
		w := g.W
		if w <= 0 {
			w = 0.5 * size * float64(utf8.RuneCountInString(g.S))
		}
		if open && math.Abs(g.Y-cur.Y) <= 0.1*size && g.X >= lastX-eps && g.X <= cur.X+cur.W+0.1*size {
			end := cur.X + cur.W
			if g.X <= lastX+eps {
				// Zero-advance glyphs stack on the same X; lay them out after the run.
				end += w
			} else {
				end = max(end, g.X+w)
			}
			cur.W = end - cur.X
			cur.S += g.S
			lastX = g.X
			continue
		}
		flush()
		cur = TextRun{X: g.X, Y: g.Y, W: w, FontSize: size, S: g.S}
		lastX = g.X
		open = true
	}
	flush()
	return runs
}

// GroupLines clusters runs whose baselines lie within a third of the font size and
// returns the lines top of the page first.
func GroupLines(runs []TextRun) [][]TextRun {
	if len(runs) == 0 {
		return nil
	}
	sorted := append([]TextRun(nil), runs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Y > sorted[j].Y })

	var lines [][]TextRun
	lineY := sorted[0].Y
	line := []TextRun{sorted[0]}
	for _, run := range sorted[1:] {
		if lineY-run.Y > fontSize(run)/3 {
			lines = append(lines, line)
			line = nil
			lineY = run.Y
		}
		line = append(line, run)
	}
	return append(lines, line)
}

// LayoutRow orders runs left to right and groups them into cells: gaps wider than
// cellGap*fontSize start a new cell, gaps wider than wordGap*fontSize insert a space.
func LayoutRow(runs []TextRun, wordGap, cellGap float64) []string {
	if len(runs) == 0 {
		return nil
	}
	sorted := append([]TextRun(nil), runs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	var (
		cells   []string
		current strings.Builder
		end     float64
	)
	flush := func() {
		if cell := strings.Join(strings.Fields(current.String()), " "); cell != "" {
			cells = append(cells, cell)
		}
		current.Reset()
	}
	for i, run := range sorted {
		size := run.FontSize
		if size <= 0 {
			size = 10
		}
		if i > 0 {
			gap := run.X - end
			switch {
			case gap > cellGap*size:
				flush()
			case gap > wordGap*size:
				current.WriteByte(' ')
			}
		}
		current.WriteString(run.S)
		end = max(end, run.X+run.W)
	}
	flush()
	return cells
}

// DetectTables reports every run of at least minRows consecutive rows that share the same
// cell count, when that count is two or more.
func DetectTables(rows [][]string, minRows int) []crawler.Table {
	if minRows < 2 {
		minRows = 2
	}
	var tables []crawler.Table
	start := 0
	for i := 1; i <= len(rows); i++ {
		if i < len(rows) && len(rows[i]) == len(rows[start]) {
			continue
		}
		if width := len(rows[start]); width >= 2 && i-start >= minRows {
			table := make(crawler.Table, 0, i-start)
			for _, row := range rows[start:i] {
				table = append(table, append([]string(nil), row...))
			}
			tables = append(tables, table)
		}
		start = i
	}
	return tables
}

func pageText(rows [][]string) string {
	lines := make([]string, 0, len(rows))
	for _, cells := range rows {
		lines = append(lines, strings.Join(cells, " "))
	}
	return strings.Join(lines, "\n")
}
