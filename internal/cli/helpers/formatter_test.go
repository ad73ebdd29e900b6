package helpers

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestData is a test struct with header tags.
type TestData struct {
	Name    string `header:"Name" json:"name"`
	Value   int    `header:"Value" json:"value"`
	Address uint64 `header:"Address,hex" json:"address"`
	Extra   string `json:"-"` // No header tag, should be ignored
}

var testRows = []TestData{
	{Name: "test1", Value: 1, Address: 0x1000, Extra: "ignored"},
	{Name: "test2", Value: 2, Address: 0x2A, Extra: "also ignored"},
}

func TestNewFormatter(t *testing.T) {
	for _, format := range SupportedFormats {
		t.Run(string(format), func(t *testing.T) {
			f, err := NewFormatter(format)
			require.NoError(t, err)
			assert.NotNil(t, f)
		})
	}

	_, err := NewFormatter(OutputFormat("yaml"))
	assert.ErrorContains(t, err, "unsupported format: yaml")
}

func TestJSONFormatter_Format(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).Format(testRows, &buf))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "test1", got[0]["name"])
	assert.Equal(t, float64(0x1000), got[0]["address"])
}

func TestTableFormatter_Format(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&TableFormatter{}).Format(testRows, &buf))
	assert.Equal(t, "Name    Value   Address\n"+
		"test1   1       0x1000\n"+
		"test2   2       0x2A\n", buf.String())

	buf.Reset()
	require.NoError(t, (&TableFormatter{}).Format([]TestData{}, &buf))
	assert.Empty(t, buf.String())

	assert.ErrorContains(t, (&TableFormatter{}).Format(testRows[0], &buf), "data must be a slice")
	assert.ErrorContains(t, (&TableFormatter{}).Format([]int{1}, &buf), "slice of structs")
}

func TestCSVFormatter_Format(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&CSVFormatter{}).Format([]*TestData{&testRows[0], &testRows[1]}, &buf))
	assert.Equal(t, "Name,Value,Address\ntest1,1,0x1000\ntest2,2,0x2A\n", buf.String())

	assert.Error(t, (&CSVFormatter{}).Format(testRows[0], &buf))
}
