package cropstore

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	cropExt     = ".jpg"
	tempPrefix  = ".crop-"
	tempSuffix  = ".tmp"
	tempPattern = tempPrefix + "*" + tempSuffix

	fallbackLabel = "object"
	maxLabelRunes = 64
)

// FileName returns the deterministic crop filename
// "{label}_{index}_{confidence:.2f}.jpg" with label sanitized.
func FileName(label string, index int, confidence float64) string {
	return fmt.Sprintf("%s_%d_%.2f%s", SanitizeLabel(label), index, confidence, cropExt)
}

// SanitizeLabel maps label to a single safe path element. Runes other than
// letters, digits, '-', '_' and '.' become '_', and a leading '.' is replaced
// so the result is never hidden and never "." or "..".
func SanitizeLabel(label string) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.TrimSpace(label) {
		if n == maxLabelRunes {
			break
		}
		switch {
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
		n++
	}

	s := b.String()
	if s == "" {
		return fallbackLabel
	}
	if s[0] == '.' {
		s = "_" + s[1:]
	}
	return s
}

// isCropName reports whether name looks like a file this store owns.
func isCropName(name string) bool {
	return strings.HasSuffix(name, cropExt) &&
		!strings.HasPrefix(name, ".") &&
		filepath.Base(name) == name
}

func isTempName(name string) bool {
	return strings.HasPrefix(name, tempPrefix) && strings.HasSuffix(name, tempSuffix)
}
