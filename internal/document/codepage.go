package document

import (
	"fmt"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

const DefaultCodePage = "cp437"

// Thermal printers power up in a single-byte code page, so text must be
// transcoded before it hits the wire.
var codePages = map[string]*charmap.Charmap{
	"cp437":      charmap.CodePage437,
	"pc437":      charmap.CodePage437,
	"ibm437":     charmap.CodePage437,
	"cp850":      charmap.CodePage850,
	"pc850":      charmap.CodePage850,
	"cp858":      charmap.CodePage858,
	"pc858":      charmap.CodePage858,
	"cp866":      charmap.CodePage866,
	"cp1252":     charmap.Windows1252,
	"iso-8859-1": charmap.ISO8859_1,
	"latin1":     charmap.ISO8859_1,
}

// Same-width stand-ins for typography that shows up in menu names.
var punctuation = strings.NewReplacer(
	"‘", "'", "’", "'",
	"“", "\"", "”", "\"",
	"–", "-", "—", "-",
	"…", ".",
)

type Encoder struct {
	name string
	enc  encoding.Encoding
}

// NewEncoder resolves a code page name. "utf-8" passes text through
// untouched; anything unknown to the built-in table is looked up by its
// WHATWG label.
func NewEncoder(name string) (*Encoder, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = DefaultCodePage
	}
	if key == "utf-8" || key == "utf8" {
		return &Encoder{name: "utf-8"}, nil
	}
	if cm, ok := codePages[key]; ok {
		return &Encoder{name: key, enc: cm}, nil
	}
	enc, canonical := charset.Lookup(key)
	if enc == nil {
		return nil, fmt.Errorf("unsupported code page %q", name)
	}
	if canonical == "utf-8" {
		return &Encoder{name: canonical}, nil
	}
	return &Encoder{name: canonical, enc: enc}, nil
}

func (e *Encoder) Name() string {
	return e.name
}

// Encode transcodes text; runes the code page lacks become its substitute
// byte, so output length in characters never grows.
func (e *Encoder) Encode(text string) ([]byte, error) {
	if e.enc == nil {
		return []byte(text), nil
	}
	text = punctuation.Replace(text)
	out, err := encoding.ReplaceUnsupported(e.enc.NewEncoder()).String(text)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.name, err)
	}
	return []byte(out), nil
}

// CanEncode reports whether every rune of s exists in the code page.
func (e *Encoder) CanEncode(s string) bool {
	if e.enc == nil {
		return true
	}
	_, err := e.enc.NewEncoder().String(s)
	return err == nil
}

// CurrencyGlyph picks preferred when the code page can print it.
func (e *Encoder) CurrencyGlyph(preferred, fallback string) string {
	if e.CanEncode(preferred) {
		return preferred
	}
	return fallback
}
