package spreadsheet

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestReadCSV(t *testing.T) {
	input := "rollNumber,Physics,maxPhysics,date\n" +
		"R001, 78 ,100,2024-03-01\n" +
		",,,\n" +
		"R002,absent\n"

	rows, err := Read("marks.CSV", strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "R001", rows[0].Get("rollNumber"))
	assert.Equal(t, "78", rows[0].Get("physics"))
	assert.Equal(t, "2024-03-01", rows[0].Get("DATE"))
	assert.Equal(t, "absent", rows[1].Get("physics"))
	assert.Equal(t, "", rows[1].Get("maxPhysics"))

	assert.Equal(t, 1, rows[0].Line)
	assert.Equal(t, 3, rows[1].Line, "blank lines still count towards the row number")
}

func TestReadCSVCountsEmptyLines(t *testing.T) {
	input := "rollNumber,physics\n\nR001,50\n\n\nR002,60\n"

	rows, err := Read("marks.csv", strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, 5, rows[1].Line)
}

func TestNewRowLowercasesHeaders(t *testing.T) {
	row := NewRow(4, map[string]string{"RollNumber": " R9 "})
	assert.Equal(t, 4, row.Line)
	assert.Equal(t, "R9", row.Get("rollnumber"))
}

func TestReadWorkbook(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"rollNumber", "physics", "chemistry"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"R001", 81, "absent"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	rows, err := Read("marks.xlsx", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "R001", rows[0].Get("rollnumber"))
	assert.Equal(t, "81", rows[0].Get("physics"))
	assert.Equal(t, "absent", rows[0].Get("chemistry"))
	assert.Equal(t, 1, rows[0].Line)
}

func TestReadRejectsUnknownAndBrokenInput(t *testing.T) {
	_, err := Read("marks.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Read("marks.xlsx", strings.NewReader("not a zip"))
	assert.Error(t, err)

	_, err = Read("marks.csv", strings.NewReader(""))
	assert.Error(t, err)

	_, err = Read("marks.csv", strings.NewReader("a,\"b\n1,2"))
	assert.Error(t, err)
}
