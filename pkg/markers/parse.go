package markers

import (
	"strings"
	"unicode"

	"github.com/matzehuels/stacklock/pkg/errors"
)

// variables lists the PEP 508 marker variables with their legacy aliases.
var variables = map[string]string{
	"python_version":                 "python_version",
	"python_full_version":            "python_full_version",
	"os_name":                        "os_name",
	"os.name":                        "os_name",
	"sys_platform":                   "sys_platform",
	"sys.platform":                   "sys_platform",
	"platform_release":               "platform_release",
	"platform.release":               "platform_release",
	"platform_system":                "platform_system",
	"platform.system":                "platform_system",
	"platform_version":               "platform_version",
	"platform.version":               "platform_version",
	"platform_machine":               "platform_machine",
	"platform.machine":               "platform_machine",
	"platform_python_implementation": "platform_python_implementation",
	"platform.python_implementation": "platform_python_implementation",
	"python_implementation":          "platform_python_implementation",
	"implementation_name":            "implementation_name",
	"implementation_version":         "implementation_version",
	"extra":                          "extra",
	"dependency_groups":              "dependency_groups",
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokVariable
	tokString
	tokOp
	tokAnd
	tokOr
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case unicode.IsSpace(rune(c)):
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == '"' || c == '\'':
			end := strings.IndexByte(src[i+1:], c)
			if end < 0 {
				return nil, errors.New(errors.ErrCodeParse, "unterminated string at %d in marker %q", i, src)
			}
			toks = append(toks, token{tokString, src[i+1 : i+1+end], i})
			i += end + 2
		case strings.ContainsRune("<>=!~", rune(c)):
			op := ""
			for _, cand := range []string{"===", "==", "!=", "<=", ">=", "~=", "<", ">"} {
				if strings.HasPrefix(src[i:], cand) {
					op = cand
					break
				}
			}
			if op == "" {
				return nil, errors.New(errors.ErrCodeParse, "invalid operator at %d in marker %q", i, src)
			}
			toks = append(toks, token{tokOp, op, i})
			i += len(op)
		case isIdentByte(c):
			start := i
			for i < len(src) && isIdentByte(src[i]) {
				i++
			}
			word := src[start:i]
			switch word {
			case "and":
				toks = append(toks, token{tokAnd, word, start})
			case "or":
				toks = append(toks, token{tokOr, word, start})
			case "in":
				toks = append(toks, token{tokOp, "in", start})
			case "not":
				j := i
				for j < len(src) && unicode.IsSpace(rune(src[j])) {
					j++
				}
				if !strings.HasPrefix(src[j:], "in") || (j+2 < len(src) && isIdentByte(src[j+2])) {
					return nil, errors.New(errors.ErrCodeParse, "expected 'in' after 'not' at %d in marker %q", start, src)
				}
				toks = append(toks, token{tokOp, "not in", start})
				i = j + 2
			default:
				name, ok := variables[word]
				if !ok {
					return nil, errors.New(errors.ErrCodeParse, "unknown marker variable %q in %q", word, src)
				}
				toks = append(toks, token{tokVariable, name, start})
			}
		default:
			return nil, errors.New(errors.ErrCodeParse, "unexpected %q at %d in marker %q", c, i, src)
		}
	}
	return append(toks, token{tokEOF, "", len(src)}), nil
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '.' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

type parser struct {
	src  string
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) fail(t token, want string) error {
	if t.kind == tokEOF {
		return errors.New(errors.ErrCodeParse, "unexpected end of marker %q, expected %s", p.src, want)
	}
	return errors.New(errors.ErrCodeParse, "unexpected %q at %d in marker %q, expected %s", t.text, t.pos, p.src, want)
}

func (p *parser) parseOr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	items := []expr{left}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		items = append(items, right)
	}
	return anyOf(items), nil
}

func (p *parser) parseAnd() (expr, error) {
	left, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	items := []expr{left}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		items = append(items, right)
	}
	return allOf(items), nil
}

func (p *parser) parseAtom() (expr, error) {
	if p.peek().kind == tokLParen {
		p.next()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tokRParen {
			return nil, p.fail(t, "')'")
		}
		return e, nil
	}
	lhs, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	op := p.next()
	if op.kind != tokOp {
		return nil, p.fail(op, "operator")
	}
	rhs, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if !lhs.variable && !rhs.variable {
		return nil, errors.New(errors.ErrCodeParse, "comparison of two literals in marker %q", p.src)
	}
	return newCompare(lhs, op.text, rhs), nil
}

func (p *parser) parseValue() (operand, error) {
	t := p.next()
	switch t.kind {
	case tokVariable:
		return operand{variable: true, value: t.text}, nil
	case tokString:
		return operand{value: t.text}, nil
	default:
		return operand{}, p.fail(t, "variable or quoted string")
	}
}

// Parse parses a PEP 508 environment marker. An empty or blank string yields
// the marker that is always true.
func Parse(s string) (Marker, error) {
	if strings.TrimSpace(s) == "" {
		return Marker{}, nil
	}
	toks, err := tokenize(s)
	if err != nil {
		return Marker{}, err
	}
	p := &parser{src: s, toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return Marker{}, err
	}
	if t := p.next(); t.kind != tokEOF {
		return Marker{}, p.fail(t, "'and', 'or' or end of marker")
	}
	return Marker{e: e}, nil
}

// MustParse is like [Parse] but panics on malformed input.
func MustParse(s string) Marker {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}
