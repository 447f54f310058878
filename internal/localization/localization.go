// Package localization provides the user-facing texts of the support chat.
// Translations are JSON files named after their language code ("en.json").
// The built-in set is embedded; NewLocalizer can load an override directory.
package localization

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
)

//go:embed locales/*.json
var builtin embed.FS

// DefaultLanguage is used when a requested language or key is missing.
const DefaultLanguage = "en"

// Localizer manages the translations for the application.
// It holds a map of languages, each with its own map of translation keys and values.
type Localizer struct {
	translations map[string]map[string]string
	fallback     string
	mu           sync.RWMutex
}

// NewLocalizer loads all translations from the directory at path.
func NewLocalizer(dir string) (*Localizer, error) {
	return NewLocalizerFS(os.DirFS(dir), ".")
}

// NewBuiltinLocalizer returns the translations compiled into the binary.
func NewBuiltinLocalizer() *Localizer {
	l, err := NewLocalizerFS(builtin, "locales")
	if err != nil {
		// The embedded files are part of the build.
		panic(err)
	}
	return l
}

// NewLocalizerFS loads every *.json file in dir of fsys.
func NewLocalizerFS(fsys fs.FS, dir string) (*Localizer, error) {
	l := &Localizer{
		translations: make(map[string]map[string]string),
		fallback:     DefaultLanguage,
	}

	files, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read localization directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}

		lang := strings.TrimSuffix(file.Name(), ".json")
		data, err := fs.ReadFile(fsys, path.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read localization file %s: %w", file.Name(), err)
		}

		var translations map[string]string
		if err := json.Unmarshal(data, &translations); err != nil {
			return nil, fmt.Errorf("failed to parse localization file %s: %w", file.Name(), err)
		}

		l.translations[lang] = translations
	}

	return l, nil
}

// SetFallback changes the language consulted when a key is missing.
func (l *Localizer) SetFallback(lang string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fallback = lang
}

// Supports reports whether translations for lang are loaded.
func (l *Localizer) Supports(lang string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.translations[lang]
	return ok
}

// GetString returns the localized string for a given key and language.
// If the language or the key is not found, it returns the key itself as a fallback.
func (l *Localizer) GetString(lang, key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if langTranslations, ok := l.translations[normalize(lang)]; ok {
		if value, ok := langTranslations[key]; ok {
			return value
		}
	}

	if fb, ok := l.translations[l.fallback]; ok {
		if value, ok := fb[key]; ok {
			return value
		}
	}

	return key
}

// Format looks up key and fills its verbs with args.
func (l *Localizer) Format(lang, key string, args ...any) string {
	return fmt.Sprintf(l.GetString(lang, key), args...)
}

// normalize turns "uk-UA" or "UK" into "uk".
func normalize(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}
