package util

import (
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	assert := assert_.New(t)

	for input, expected := range map[string]string{
		"report.csv":        "report.csv",
		"  padded.txt  ":    "padded.txt",
		"a/b.txt":           "a_b.txt",
		"a\\b.txt":          "a_b.txt",
		"drive:file":        "drive_file",
		"..hidden":          "hidden",
		"trailing.":         "trailing",
		"nul\x00byte":       "nulbyte",
		"ünïcödé file.data": "ünïcödé file.data",
	} {
		got, err := SanitizeFilename(input)
		assert.Nil(err, "input %q", input)
		assert.Equal(expected, got, "input %q", input)
	}

	for _, input := range []string{"", "   ", ".", "..", "..."} {
		_, err := SanitizeFilename(input)
		assert.ErrorIs(err, ErrNoFilename, "input %q", input)
	}
}

func TestFilenameFromPath(t *testing.T) {
	assert := assert_.New(t)

	for input, expected := range map[string]string{
		"data/2023/report.csv": "report.csv",
		"report.csv":           "report.csv",
		"/leading/slash.txt":   "slash.txt",
		"trailing/dir/":        "dir",
	} {
		got, err := FilenameFromPath(input)
		assert.Nil(err, "input %q", input)
		assert.Equal(expected, got, "input %q", input)
	}

	for _, input := range []string{"", "/", "//"} {
		_, err := FilenameFromPath(input)
		assert.ErrorIs(err, ErrNoFilename, "input %q", input)
	}
}
