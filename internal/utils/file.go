package utils

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

// imageExts are the extensions the caption command picks up from a directory.
var imageExts = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true,
	"bmp": true, "tif": true, "tiff": true, "webp": true,
}

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// GetFileExtension returns the lowercased extension without the dot
func GetFileExtension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// IsImageFile checks if a file has an image extension
func IsImageFile(filename string) bool {
	return imageExts[GetFileExtension(filename)]
}

// CaptionedFilename names the annotated output for input, e.g.
// "photos/dog.jpg" -> "<outputDir>/dog_captioned.png". An empty outputDir
// keeps the input's directory.
func CaptionedFilename(input, outputDir, format string) string {
	if format == "" {
		format = "png"
	}
	if outputDir == "" {
		outputDir = filepath.Dir(input)
	}
	base := filepath.Base(input)
	if strings.Contains(input, "://") {
		// URLs may carry query strings after the last path element.
		base, _, _ = strings.Cut(base, "?")
	}
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." {
		name = "image"
	}
	return filepath.Join(outputDir, fmt.Sprintf("%s_captioned.%s", name, format))
}

// ListImageFiles walks dir and returns its image files in lexical order
func ListImageFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsImageFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// DirExists checks if a directory exists
func DirExists(dirname string) bool {
	info, err := os.Stat(dirname)
	return err == nil && info.IsDir()
}

// SanitizeFilename reduces an uploaded filename to a safe base name made of
// ASCII letters, digits, '.', '-' and '_'. Runs of whitespace become a
// single underscore. The result may be empty.
func SanitizeFilename(filename string) string {
	filename = strings.NewReplacer("/", " ", "\\", " ").Replace(filename)

	var b strings.Builder
	space := false
	for _, r := range filename {
		switch {
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		case r > unicode.MaxASCII:
			continue
		case r == '.' || r == '-' || r == '_' ||
			('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9'):
		default:
			continue
		}
		if space {
			b.WriteByte('_')
			space = false
		}
		b.WriteRune(r)
	}

	return strings.Trim(b.String(), "._")
}

// FormatFileSize formats file size in human-readable format
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}

	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
