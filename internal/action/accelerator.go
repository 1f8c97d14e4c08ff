// Package action collects keyboard-action declarations contributed by
// admitted plugins and exposes the activation switch for the focused
// plugin. The registry is an explicit object scoped to the application
// session, passed by reference to whoever needs it.
package action

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"
)

// Accelerator is a parsed keyboard shortcut: zero or more modifiers and a
// final key, e.g. ctrl+shift+p.
type Accelerator struct {
	Modifiers []string
	Key       string
}

// String renders the canonical lowercase form.
func (a Accelerator) String() string {
	if len(a.Modifiers) == 0 {
		return a.Key
	}
	return strings.Join(a.Modifiers, "+") + "+" + a.Key
}

// modifierNames are the recognized accelerator modifiers. cmdorctrl maps
// to cmd on macOS and ctrl elsewhere; the bridge passes it through.
var modifierNames = map[string]bool{
	"ctrl":      true,
	"cmd":       true,
	"cmdorctrl": true,
	"alt":       true,
	"shift":     true,
	"meta":      true,
}

// comboAST is the raw parse of an accelerator string.
type comboAST struct {
	Parts []string `parser:"@Ident ( Plus @Ident )*"`
}

var comboLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Ident", Pattern: `[A-Za-z][A-Za-z0-9]*`},
	{Name: "Plus", Pattern: `\+`},
})

var comboParser = participle.MustBuild[comboAST](
	participle.Lexer(comboLexer),
)

// ParseAccelerator parses an accelerator string. All parts but the last
// must be recognized modifiers; each modifier may appear once.
func ParseAccelerator(s string) (Accelerator, error) {
	ast, err := comboParser.ParseString("", strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return Accelerator{}, oops.Code("ACCELERATOR_INVALID").With("accelerator", s).Wrap(err)
	}

	parts := ast.Parts
	combo := Accelerator{Key: parts[len(parts)-1]}
	seen := make(map[string]bool)
	for _, mod := range parts[:len(parts)-1] {
		if !modifierNames[mod] {
			return Accelerator{}, oops.Code("ACCELERATOR_INVALID").
				With("accelerator", s).
				With("modifier", mod).
				New("unrecognized modifier")
		}
		if seen[mod] {
			return Accelerator{}, oops.Code("ACCELERATOR_INVALID").
				With("accelerator", s).
				With("modifier", mod).
				New("duplicate modifier")
		}
		seen[mod] = true
		combo.Modifiers = append(combo.Modifiers, mod)
	}
	if modifierNames[combo.Key] {
		return Accelerator{}, oops.Code("ACCELERATOR_INVALID").
			With("accelerator", s).
			New("accelerator ends with a modifier")
	}
	return combo, nil
}
