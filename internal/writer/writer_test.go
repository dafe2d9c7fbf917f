package writer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/charmbracelet/log"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/go-scripts/examcrawl/internal/types"
)

var fixedTime = time.Date(2025, 3, 9, 14, 5, 7, 0, time.UTC)

func newTestWriter(t *testing.T) *FileWriter {
	t.Helper()
	w, err := New(t.TempDir(), log.New(&bytes.Buffer{}))
	require.NoError(t, err)
	w.SetClock(func() time.Time { return fixedTime })
	return w
}

func sampleRecords() []types.Record {
	return []types.Record{
		{StudentName: "김철수", BlogLink: "https://blog.example.com/a?x=1&y=<2>"},
		{StudentName: "Jane Doe", BlogLink: ""},
		{StudentName: "O'Brien, Pat", BlogLink: "https://velog.io/@pat/\"quoted\""},
	}
}

func TestFilename(t *testing.T) {
	w := newTestWriter(t)
	assert.Equal(t, "exam_data_1234_20250309_140507.xlsx", w.Filename("1234", types.FormatXLSX))
}

func TestWriteRecordsEmpty(t *testing.T) {
	for _, format := range types.Formats {
		t.Run(string(format), func(t *testing.T) {
			w := newTestWriter(t)
			path, ok := w.WriteRecords(nil, "1", format)
			assert.False(t, ok)
			assert.Empty(t, path)

			entries, err := os.ReadDir(w.Dir())
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestWriteRecordsUnsupportedFormat(t *testing.T) {
	w := newTestWriter(t)
	path, ok := w.WriteRecords(sampleRecords(), "1", types.Format("pdf"))
	assert.False(t, ok)
	assert.Empty(t, path)
}

func TestWriteRecordsFailureIsNotFatal(t *testing.T) {
	w := newTestWriter(t)
	require.NoError(t, os.RemoveAll(w.Dir()))

	path, ok := w.WriteRecords(sampleRecords(), "1", types.FormatJSON)
	assert.False(t, ok)
	assert.Empty(t, path)
}

func TestCSVRoundTrip(t *testing.T) {
	w := newTestWriter(t)
	records := sampleRecords()

	path, ok := w.WriteRecords(records, "77", types.FormatCSV)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(w.Dir(), "exam_data_77_20250309_140507.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}), "missing byte-order mark")

	rows, err := csv.NewReader(bytes.NewReader(data[3:])).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, len(records)+1)
	assert.Equal(t, []string{"student_name", "blog_link"}, rows[0])

	var got []types.Record
	for _, row := range rows[1:] {
		got = append(got, types.Record{StudentName: row[0], BlogLink: row[1]})
	}
	if diff := cmp.Diff(records, got); diff != "" {
		t.Errorf("csv round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	w := newTestWriter(t)
	records := sampleRecords()

	path, ok := w.WriteRecords(records, "77", types.FormatJSON)
	require.True(t, ok)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "김철수", "non-ASCII text should not be escaped")
	assert.Contains(t, string(data), "&y=<2>", "HTML characters should not be escaped")
	assert.Contains(t, string(data), "\n    {", "expected four-space indentation")

	var got []types.Record
	require.NoError(t, json.Unmarshal(data, &got))
	if diff := cmp.Diff(records, got); diff != "" {
		t.Errorf("json round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestXMLRoundTrip(t *testing.T) {
	w := newTestWriter(t)
	records := sampleRecords()

	path, ok := w.WriteRecords(records, "77", types.FormatXML)
	require.True(t, ok)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte(`<?xml version="1.0" ?>`)))
	assert.Contains(t, string(data), "\n  <student>\n    <name>")

	doc, err := xmlquery.Parse(bytes.NewReader(data))
	require.NoError(t, err)

	students := xmlquery.Find(doc, "//students/student")
	require.Len(t, students, len(records))

	var got []types.Record
	for _, s := range students {
		got = append(got, types.Record{
			StudentName: s.SelectElement("name").InnerText(),
			BlogLink:    s.SelectElement("blog_link").InnerText(),
		})
	}
	if diff := cmp.Diff(records, got); diff != "" {
		t.Errorf("xml round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestXLSXRoundTrip(t *testing.T) {
	w := newTestWriter(t)
	records := sampleRecords()

	path, ok := w.WriteRecords(records, "77", types.FormatXLSX)
	require.True(t, ok)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Sheet1")
	require.NoError(t, err)
	require.Len(t, rows, len(records)+1)
	assert.Equal(t, []string{"student_name", "blog_link"}, rows[0])
	assert.Equal(t, "김철수", rows[1][0])
	assert.Equal(t, "Jane Doe", rows[2][0])
}
