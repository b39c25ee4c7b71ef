package promptbuilder

import (
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// readWorkspaceFile reads path and decodes it as UTF-8, falling back
// through a small chain of legacy encodings (UTF-16, then Windows-1252)
// when the bytes are not valid UTF-8. A missing file
// returns ("", nil) rather than an error, since every static workspace
// file the prompt builder reads (SOUL.md, IDENTITY.md, ...) is optional.
func readWorkspaceFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return decodeSmart(raw), nil
}

func decodeSmart(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	if hasUTF16BOM(raw) {
		if decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder().Bytes(raw); err == nil {
			return string(decoded)
		}
	}
	if decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw); err == nil {
		return string(decoded)
	}
	// Last resort: keep the bytes as-is; Go strings are just byte slices,
	// so an undecodable file degrades to mojibake rather than an error.
	return string(raw)
}

func hasUTF16BOM(b []byte) bool {
	return len(b) >= 2 && ((b[0] == 0xFF && b[1] == 0xFE) || (b[0] == 0xFE && b[1] == 0xFF))
}
