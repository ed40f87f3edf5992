package pdfextract

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vinay10110/FinCompilance/internal/crawler"
)

func TestLayoutRowGroupsWordsAndCells(t *testing.T) {
	t.Parallel()

	runs := []TextRun{
		{X: 200, W: 20, FontSize: 10, S: "5.00"},
		{X: 10, W: 30, FontSize: 10, S: "Alpha"},
		{X: 42, W: 40, FontSize: 10, S: "Bank"},
		{X: 82, W: 5, FontSize: 10, S: "s"},
	}
	require.Equal(t, []string{"Alpha Banks", "5.00"}, LayoutRow(runs, 0.15, 1.5))
	require.Nil(t, LayoutRow(nil, 0.15, 1.5))
	require.Empty(t, LayoutRow([]TextRun{{X: 1, W: 1, FontSize: 10, S: "  "}}, 0.15, 1.5))
}

func TestDetectTables(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"Reserve Bank of India imposes monetary penalty"},
		{"Name of the bank", "Penalty"},
		{"Alpha Bank", "1.00"},
		{"Beta Bank", "2.50"},
		{"The penalty has been imposed for deficiencies in regulatory compliance."},
		{"A", "B", "C"},
		{"Only one three-cell row is not a table"},
		{"x", "y"},
		{"p", "q"},
	}
	tables := DetectTables(rows, 2)
	require.Equal(t, []crawler.Table{
		{{"Name of the bank", "Penalty"}, {"Alpha Bank", "1.00"}, {"Beta Bank", "2.50"}},
		{{"x", "y"}, {"p", "q"}},
	}, tables)

	require.Empty(t, DetectTables([][]string{{"a"}, {"b"}, {"c"}}, 2))
	require.Len(t, DetectTables(rows, 3), 1)
}

func TestExtractRejectsInvalidDocuments(t *testing.T) {
	t.Parallel()

	e := New(Config{}, nil)
	_, err := e.Extract(context.Background(), nil)
	require.Error(t, err)

	_, err = e.Extract(context.Background(), []byte("<html>not a pdf</html>"))
	require.Error(t, err)
}

func TestPageText(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Circular\nA B", pageText([][]string{{"Circular"}, {"A", "B"}}))
}

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func TestExtractLineByLineLayout(t *testing.T) {
	t.Parallel()

	// Page one is prose advanced with Td and T*, page two a heading over a
	// three by three grid whose cells are placed with Td.
	extraction, err := New(Config{}, nil).Extract(context.Background(), readFixture(t, "circular.pdf"))
	require.NoError(t, err)

	require.Len(t, extraction.Pages, 2)
	require.Equal(t, "Master Direction on Interest Rate on Deposits\n"+
		"The Reserve Bank has issued revised directions to all regulated entities.\n"+
		"All banks shall comply with the revised norms from the next quarter.", extraction.Pages[0])
	require.Equal(t, []crawler.Table{{
		{"Category", "Rate", "Tenor"},
		{"Savings deposit", "3.50", "1 year"},
		{"Term deposit", "6.75", "5 years"},
	}}, extraction.Tables)
	require.Contains(t, extraction.Pages[1], "Schedule of interest rates\nCategory Rate Tenor\n")
}

func TestExtractAbsolutelyPositionedFragments(t *testing.T) {
	t.Parallel()

	// Every fragment is placed with Tm; split prose lines must not turn into tables.
	extraction, err := New(Config{}, nil).Extract(context.Background(), readFixture(t, "circular_tm.pdf"))
	require.NoError(t, err)

	require.Len(t, extraction.Pages, 2)
	require.Equal(t, "The Reserve Bank has issued revised directions.\nAll banks shall comply.", extraction.Pages[0])
	require.Equal(t, []crawler.Table{{
		{"Bank", "Penalty"},
		{"Alpha Bank", "1.00"},
		{"Beta Bank", "2.50"},
	}}, extraction.Tables)
}

func TestMergeGlyphs(t *testing.T) {
	t.Parallel()

	glyphs := []TextRun{
		{X: 10, Y: 700, W: 5, FontSize: 10, S: "R"},
		{X: 15, Y: 700, W: 5, FontSize: 10, S: "B"},
		{X: 20, Y: 700, W: 5, FontSize: 10, S: "I"},
		{S: "\n"},
		{X: 100, Y: 700, W: 5, FontSize: 10, S: "1"},
		{X: 10, Y: 680, W: 5, FontSize: 10, S: "x"},
		// Missing widths leave every glyph at the same X.
		{X: 50, Y: 660, FontSize: 10, S: "a"},
		{X: 50, Y: 660, FontSize: 10, S: "b"},
	}
	require.Equal(t, []TextRun{
		{X: 10, Y: 700, W: 15, FontSize: 10, S: "RBI"},
		{X: 100, Y: 700, W: 5, FontSize: 10, S: "1"},
		{X: 10, Y: 680, W: 5, FontSize: 10, S: "x"},
		{X: 50, Y: 660, W: 10, FontSize: 10, S: "ab"},
	}, MergeGlyphs(glyphs))
	require.Nil(t, MergeGlyphs(nil))
}

func TestGroupLines(t *testing.T) {
	t.Parallel()

	runs := []TextRun{
		{X: 10, Y: 680, FontSize: 10, S: "second"},
		{X: 200, Y: 700.5, FontSize: 10, S: "right"},
		{X: 10, Y: 700, FontSize: 10, S: "left"},
	}
	lines := GroupLines(runs)
	require.Len(t, lines, 2)
	require.Equal(t, []string{"left right"}, LayoutRow(lines[0], 0.15, 100))
	require.Equal(t, "second", lines[1][0].S)
	require.Nil(t, GroupLines(nil))
}
