package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidPathShape(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"2016/01/28/foo.tgz", true},
		{"2016/01/28/sub/dir/foo.tgz", true},
		{"2016/01/28", false},
		{"2016/1/28/foo.tgz", false},
		{"foo.tgz", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ValidPathShape(tc.path), tc.path)
	}
}

func TestFormatArchivedDate(t *testing.T) {
	d := time.Date(2016, time.January, 28, 3, 4, 0, 0, time.UTC)
	assert.Equal(t, "x2016-01-28", FormatArchivedDate(d))
}

func TestFormatCollectionAttempt(t *testing.T) {
	d := time.Date(2016, time.January, 28, 14, 5, 0, 0, time.UTC)
	assert.Equal(t, "x2016-01-28-14:05", FormatCollectionAttempt(d))
}
