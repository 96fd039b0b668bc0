package mirror

import (
	"path/filepath"
	"strings"
)

// defaultSkipDirs are directories that are never indexed regardless of
// descriptor configuration. They contain generated code, dependencies,
// or version control data.
var defaultSkipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	".cache":       true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"target":       true, // Rust/Java build output
}

// languageExtensions maps language names to their file extensions.
var languageExtensions = map[string][]string{
	"go":         {".go"},
	"python":     {".py"},
	"javascript": {".js", ".jsx"},
	"typescript": {".ts", ".tsx"},
	"java":       {".java"},
	"csharp":     {".cs"},
	"markdown":   {".md", ".markdown"},
}

// LanguageForPath returns the language name for a file path, or "" when the
// extension maps to no supported language.
func LanguageForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	for lang, exts := range languageExtensions {
		for _, e := range exts {
			if e == ext {
				return lang
			}
		}
	}
	return ""
}

// fileFilter decides which repository paths are eligible for indexing.
// Language filters and exclusion patterns apply here, before any file
// reaches the chunker.
type fileFilter struct {
	extensions      map[string]bool
	excludePatterns []string
}

func newFileFilter(languages, excludePatterns []string) *fileFilter {
	exts := make(map[string]bool)
	for _, lang := range languages {
		for _, ext := range languageExtensions[strings.ToLower(lang)] {
			exts[ext] = true
		}
	}
	return &fileFilter{
		extensions:      exts,
		excludePatterns: excludePatterns,
	}
}

// Match reports whether relPath should be indexed.
func (f *fileFilter) Match(relPath string) bool {
	relPath = filepath.ToSlash(relPath)

	for _, part := range strings.Split(relPath, "/") {
		if defaultSkipDirs[part] {
			return false
		}
	}

	if !f.extensions[strings.ToLower(filepath.Ext(relPath))] {
		return false
	}

	basename := filepath.Base(relPath)
	for _, pattern := range f.excludePatterns {
		if matched, _ := filepath.Match(pattern, basename); matched {
			return false
		}
		if matched, _ := filepath.Match(pattern, relPath); matched {
			return false
		}
		// Directory prefix match for patterns like "generated/**"
		if strings.Contains(pattern, "**") {
			prefix := strings.TrimSuffix(pattern, "/**")
			if strings.HasPrefix(relPath, prefix+"/") {
				return false
			}
		}
	}
	return true
}
