package utils

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"e6grab/internal"
)

// ExpandTemplate renders the output filename template for a post and
// validates that the result is a safe relative path. Placeholders are
// replaced longest-first so $score_up is never read as $score.
func ExpandTemplate(format string, post internal.Post) (string, error) {
	artist := "unknown"
	if len(post.Tags.Artist) > 0 {
		artist = post.Tags.Artist[0]
	}

	values := map[string]string{
		"$id":         strconv.FormatInt(post.ID, 10),
		"$ext":        post.File.Ext,
		"$md5":        post.File.MD5,
		"$artist":     artist,
		"$rating":     post.Rating,
		"$score":      strconv.FormatInt(post.Score.Total, 10),
		"$score_up":   strconv.FormatInt(post.Score.Up, 10),
		"$score_down": strconv.FormatInt(post.Score.Down, 10),
		"$filesize":   strconv.FormatInt(post.File.Size, 10),
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	result := format
	for _, k := range keys {
		result = strings.ReplaceAll(result, k, values[k])
	}

	if err := ValidateRelPath(result); err != nil {
		return "", err
	}
	return result, nil
}

// ValidateRelPath rejects paths that would escape the download directory.
func ValidateRelPath(p string) error {
	if p == "" {
		return fmt.Errorf("empty destination path")
	}
	if filepath.IsAbs(p) {
		return fmt.Errorf("destination path %q is absolute", p)
	}
	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("destination path %q escapes the download directory", p)
	}
	return nil
}
