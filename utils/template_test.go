package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"e6grab/internal"
)

func templatePost() internal.Post {
	return internal.Post{
		ID:     4211,
		Rating: "s",
		Score:  internal.Score{Up: 40, Down: -3, Total: 37},
		File: internal.File{
			Ext:  "png",
			Size: 123456,
			MD5:  "d41d8cd98f00b204e9800998ecf8427e",
		},
		Tags: internal.Tags{Artist: []string{"some_artist", "other"}},
	}
}

func TestExpandTemplate(t *testing.T) {
	cases := []struct {
		format string
		want   string
	}{
		{"$id.$ext", "4211.png"},
		{"$artist/$id.$ext", "some_artist/4211.png"},
		{"$md5.$ext", "d41d8cd98f00b204e9800998ecf8427e.png"},
		{"$rating-$filesize", "s-123456"},
		{"$score_up_$score_down_$score", "40_-3_37"},
	}
	for _, tc := range cases {
		got, err := ExpandTemplate(tc.format, templatePost())
		require.NoError(t, err, "format %q", tc.format)
		assert.Equal(t, tc.want, got, "format %q", tc.format)
	}
}

func TestExpandTemplateNoArtist(t *testing.T) {
	post := templatePost()
	post.Tags.Artist = nil

	got, err := ExpandTemplate("$artist/$id.$ext", post)
	require.NoError(t, err)
	assert.Equal(t, "unknown/4211.png", got)
}

func TestExpandTemplateRejectsEscapingPaths(t *testing.T) {
	post := templatePost()
	post.Tags.Artist = []string{"../../etc"}

	_, err := ExpandTemplate("$artist/$id.$ext", post)
	assert.Error(t, err)
}

func TestValidateRelPath(t *testing.T) {
	assert.NoError(t, ValidateRelPath("a/b.png"))
	assert.NoError(t, ValidateRelPath("plain.png"))

	assert.Error(t, ValidateRelPath(""))
	assert.Error(t, ValidateRelPath("/abs/path.png"))
	assert.Error(t, ValidateRelPath("../escape.png"))
	assert.Error(t, ValidateRelPath("a/../../escape.png"))
}
