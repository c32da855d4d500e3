package scex

import (
	"strings"
)

// Preprocessed is the output of splitting a template into literal chunks and
// embedded expression holes (C1). Source is the single expression that is
// equivalent to the template; Offsets maps a byte offset in Source back to
// the corresponding byte offset in the original input, so diagnostics
// produced while compiling Source can be remapped to the user's own text.
type Preprocessed struct {
	Source   string
	Template bool

	// HoleCount is the number of "${...}" holes found while splitting the
	// original input, independent of how many offset marks that produced
	// (an input that is a single hole and nothing else produces none).
	// Setter-mode
	// arity validation counts this directly rather than inferring it from
	// len(offsets) (spec §4.1 "a setter template must contain exactly one
	// hole").
	HoleCount int

	offsets []offsetMark
}

// offsetMark records that, from ProcessedFrom onward, original offsets are
// ProcessedFrom-OriginalFrom apart (i.e. processed - delta == original).
type offsetMark struct {
	ProcessedFrom int
	Delta         int
}

// Remap translates a byte offset in Preprocessed.Source back to the
// corresponding byte offset in the original input text. Inside a literal
// chunk, a character whose encoding differs in length between the two
// texts (an escaped quote, backslash, newline or tab, or a "\$" escape)
// shifts the result for the rest of that chunk.
func (p *Preprocessed) Remap(processedOffset int) int {
	delta := 0

	for _, m := range p.offsets {
		if m.ProcessedFrom > processedOffset {
			break
		}

		delta = m.Delta
	}

	return processedOffset - delta
}

// RemapPosition translates a (line, column) position reported by expr-lang
// against Source back to a position against the original input text.
//
// expr-lang's ast.Node.Location() reports line/column, not a flat byte
// offset. Templates compiled by this package are, in practice, single-line
// interpolated strings (the common host use case per spec §4.1), so the
// approximation here is exact for line 1 and passes line/column through
// unchanged for any other line (e.g. a multi-line header/utilities source,
// which is diagnosed against itself, not against the template).
func (p *Preprocessed) RemapPosition(line, col int) (int, int) {
	if !p.Template || line != 1 {
		return line, col
	}

	return 1, p.Remap(col-1) + 1
}

// Preprocess splits input according to mode. In expression mode the input
// is returned unchanged (the identity case of C1). In template mode the
// input is treated as a string literal embedding ${...} holes, and the
// result is a single concatenation expression
// literal1 + string(sub1) + literal2 + string(sub2) + ... ; each hole goes
// through expr-lang's string() builtin, since expr-lang's "+" does not
// concatenate a string with a non-string value.
//
// Escaping: "\$" in template mode is a literal "$". An unbalanced "${" is
// reported as ErrParseHole located at the offending "${". If the entire
// input is a single "${expr}" with no surrounding text, expr is returned
// unchanged (so a pure-expression template compiles exactly like
// expression mode, with no concatenation or string-literal overhead).
func Preprocess(input string, template bool) (*Preprocessed, error) {
	if !template {
		return &Preprocessed{Source: input, Template: false}, nil
	}

	holes, soleHole, err := splitHoles(input)
	if err != nil {
		return nil, err
	}

	if soleHole != "" {
		return &Preprocessed{Source: soleHole, Template: true, HoleCount: 1}, nil
	}

	pre := assembleConcat(input, holes)
	pre.HoleCount = len(holes)

	return pre, nil
}

// hole is one "${...}" occurrence: its byte span in the original input and
// its unescaped inner text.
type hole struct {
	start, end int // end is exclusive, span covers "${...}"
	inner      string
}

// splitHoles scans input for ${...} holes, honoring \$ escaping. If the
// entire input (after escape processing) is exactly one hole with no
// surrounding literal text, soleHole is set to that hole's inner
// expression and holes is nil.
func splitHoles(input string) (holes []hole, soleHole string, err error) {
	var (
		i        int
		sawText  bool
		onlyHole *hole
	)

	for i < len(input) {
		switch {
		case strings.HasPrefix(input[i:], `\$`):
			sawText = true
			i += 2

		case strings.HasPrefix(input[i:], "${"):
			start := i
			depth := 1
			j := i + 2

			for j < len(input) && depth > 0 {
				switch input[j] {
				case '{':
					depth++
				case '}':
					depth--
				}

				j++
			}

			if depth != 0 {
				return nil, "", ErrParseHole.With(attrInt("offset", start))
			}

			h := hole{start: start, end: j, inner: input[i+2 : j-1]}
			holes = append(holes, h)

			if onlyHole == nil && !sawText {
				onlyHole = &h
			} else {
				onlyHole = nil
			}

			i = j

		default:
			sawText = true
			i++
		}
	}

	if onlyHole != nil && len(holes) == 1 && onlyHole.end == len(input) && onlyHole.start == 0 {
		return nil, onlyHole.inner, nil
	}

	return holes, "", nil
}

// assembleConcat builds the literal1 + string(sub1) + literal2 + ... expression
// and the offset map back to the original template text.
func assembleConcat(input string, holes []hole) *Preprocessed {
	var (
		b       strings.Builder
		offsets []offsetMark
		cursor  int // byte offset into original input already consumed
		first   = true
	)

	mark := func(delta int) {
		offsets = append(offsets, offsetMark{ProcessedFrom: b.Len(), Delta: delta})
	}

	emitLiteral := func(text string) {
		if text == "" {
			return
		}

		if !first {
			b.WriteString(" + ")
		}

		first = false

		// The mark starts after the opening quote, at the chunk's first
		// character.
		offsets = append(offsets, offsetMark{ProcessedFrom: b.Len() + 1, Delta: b.Len() + 1 - cursor})
		b.WriteString(quoteExprString(unescapeTemplate(text)))
	}

	emitSub := func(h hole) {
		if !first {
			b.WriteString(" + ")
		}

		first = false

		subStart := h.start + 2 // skip "${"
		b.WriteString("string(")
		delta := b.Len() - subStart
		mark(delta)
		b.WriteString(h.inner)
		b.WriteString(")")
		cursor = h.end
	}

	last := 0

	for _, h := range holes {
		emitLiteral(input[last:h.start])
		cursor = h.start
		emitSub(h)
		last = h.end
	}

	emitLiteral(input[last:])

	if first {
		// Empty template: equivalent to the empty string literal.
		b.WriteString(`""`)
	}

	return &Preprocessed{Source: b.String(), Template: true, offsets: offsets}
}

// unescapeTemplate turns "\$" into "$" in a literal text chunk.
func unescapeTemplate(s string) string {
	return strings.ReplaceAll(s, `\$`, `$`)
}

// quoteExprString renders s as an expr-lang double-quoted string literal.
func quoteExprString(s string) string {
	var b strings.Builder

	b.WriteByte('"')

	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}

	b.WriteByte('"')

	return b.String()
}
