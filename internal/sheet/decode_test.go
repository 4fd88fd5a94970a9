package sheet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, f.SetSheetName("Sheet1", "Checklist"))
	require.NoError(t, f.SetSheetRow("Checklist", "A1", &[]interface{}{"", "No", "Item", "Delivery"}))
	require.NoError(t, f.SetSheetRow("Checklist", "A2", &[]interface{}{"", "1", "Platform", 0.5}))
	require.NoError(t, f.SetSheetRow("Checklist", "A3", &[]interface{}{"Ops", "1.1", "Provision", 1}))
	require.NoError(t, f.MergeCell("Checklist", "A3", "A5"))

	_, err := f.NewSheet("Notes")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Notes", "B2", "free text"))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestDecodeWorkbook(t *testing.T) {
	sheets, err := Decode("checklist.xlsx", buildWorkbook(t))
	require.NoError(t, err)
	require.Len(t, sheets, 2)

	checklist := sheets[0]
	assert.Equal(t, "Checklist", checklist.Name)
	require.GreaterOrEqual(t, len(checklist.Rows), 3)
	assert.Equal(t, Text("No"), checklist.Rows[0][1])
	assert.Equal(t, Text("1"), checklist.Rows[1][1], "string cells stay text even when numeric-looking")
	assert.Equal(t, Number(0.5), checklist.Rows[1][3])
	assert.Equal(t, Number(1), checklist.Rows[2][3])
	assert.Equal(t, []MergeRegion{{StartRow: 2, StartCol: 0, EndRow: 4, EndCol: 0}}, checklist.Merges)

	normalized := Normalize(checklist)
	require.Len(t, normalized.Rows, 4)
	assert.Equal(t, Text("Ops"), normalized.Rows[3][0])

	assert.Equal(t, "Notes", sheets[1].Name)
	assert.Equal(t, Text("free text"), sheets[1].Rows[1][1])
}

func TestDecodeCSV(t *testing.T) {
	data := []byte("No,Item,Delivery\n1,Platform,0.5\n1.1,\"Provision, hosts\",N/A\n")

	sheets, err := Decode("Release Plan.CSV", data)
	require.NoError(t, err)
	require.Len(t, sheets, 1)

	s := sheets[0]
	assert.Equal(t, "Release Plan", s.Name)
	assert.Empty(t, s.Merges)
	assert.Equal(t, []Cell{Number(1), Text("Platform"), Number(0.5)}, s.Rows[1])
	assert.Equal(t, []Cell{Number(1.1), Text("Provision, hosts"), Text("N/A")}, s.Rows[2])
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		data     []byte
	}{
		{name: "empty", filename: "a.xlsx", data: nil},
		{name: "not a workbook", filename: "a.xlsx", data: []byte("plain text, not a zip")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.filename, tc.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedUpload), "got %v", err)
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Number(3), classify("3", excelize.CellTypeUnset))
	assert.Equal(t, Number(0.25), classify("0.25", excelize.CellTypeNumber))
	assert.Equal(t, Text("NaN"), classify("NaN", excelize.CellTypeUnset))
	assert.Equal(t, Text("TRUE"), classify("1", excelize.CellTypeBool))
	assert.Equal(t, Text("42"), classify("42", excelize.CellTypeSharedString))
}
