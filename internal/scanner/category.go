package scanner

import (
	"path/filepath"
	"strings"
)

// Category groups files by media type for remote folder layout.
type Category string

const (
	CategoryImages    Category = "images"
	CategoryVideos    Category = "videos"
	CategoryAudio     Category = "audio"
	CategoryDocuments Category = "documents"
	CategoryOther     Category = "other"
)

var categoryByExtension = map[string]Category{}

func init() {
	table := map[Category][]string{
		CategoryImages:    {".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".webp", ".svg", ".heic", ".raw"},
		CategoryVideos:    {".mp4", ".avi", ".mkv", ".mov", ".wmv", ".flv", ".webm", ".m4v", ".3gp"},
		CategoryAudio:     {".mp3", ".wav", ".flac", ".aac", ".ogg", ".m4a", ".wma"},
		CategoryDocuments: {".pdf", ".doc", ".docx", ".txt", ".rtf", ".odt", ".xls", ".xlsx", ".ppt", ".pptx", ".csv", ".md"},
	}
	for category, exts := range table {
		for _, ext := range exts {
			categoryByExtension[ext] = category
		}
	}
}

// Categorize maps a file name to its category by extension, case-insensitively.
func Categorize(name string) Category {
	if category, ok := categoryByExtension[strings.ToLower(filepath.Ext(name))]; ok {
		return category
	}
	return CategoryOther
}
