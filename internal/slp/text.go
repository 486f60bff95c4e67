package slp

import (
	"bytes"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/width"
)

// decodeText decodes a fixed-size, null-terminated Shift-JIS field. The game
// stores the '#' of connect codes as a fullwidth character; folding maps it
// back to ASCII and leaves kana in their usual form.
func decodeText(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	if len(b) == 0 {
		return ""
	}
	decoded, err := japanese.ShiftJIS.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return width.Fold.String(string(decoded))
}
