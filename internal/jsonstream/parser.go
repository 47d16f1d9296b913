// Package jsonstream implements a tolerant, incremental JSON parser for
// streamed model output.
//
// The parser consumes raw string chunks of a possibly-malformed JSON
// document and emits a (keypath, value) update for every leaf value the
// moment it completes, without ever buffering the whole document. Arrays
// additionally emit their aggregate value when they close, and empty
// containers emit their empty value.
//
// Tolerance rules: unexpected characters outside strings are skipped; a
// closing quote followed by something other than a structural terminator is
// treated as if it had been escaped; invalid escape sequences are preserved
// verbatim.
package jsonstream

import (
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Update is one completed leaf (or closed array) of the streamed document.
type Update struct {
	// Keypath is the dotted path to the value; array elements use their
	// numeric index ("items.0.name"). Empty for the root value.
	Keypath string

	// Value is the decoded JSON value: string, float64, bool, nil,
	// []any, or map[string]any.
	Value any
}

type state int

const (
	stateValue state = iota // expecting a value
	stateObjKey             // expecting a key quote or '}'
	stateObjColon           // expecting ':'
	stateComma              // expecting ',' or a container close
	stateString             // inside a string
	stateEscape             // after a backslash inside a string
	stateUnicode            // collecting \uXXXX hex digits
	stateMaybeClosed        // saw a closing quote, deciding if it was real
	stateToken              // inside a number / true / false / null token
	stateDone               // root value complete
)

type frame struct {
	isObject bool
	obj      map[string]any
	arr      []any
	key      string
	keyed    bool // key currently set for the object frame
	count    int
}

// Parser is the incremental automaton. Not safe for concurrent use; a
// streaming context owns exactly one.
type Parser struct {
	stack []*frame
	state state

	// string scanning
	str       strings.Builder
	isKey     bool
	hexBuf    []byte
	pendHi    rune   // pending high surrogate
	pendHiRaw string // its raw escape text, preserved if unpaired
	wsBuf     strings.Builder

	// number / literal scanning
	token strings.Builder

	rootSet bool
	root    any
}

// NewParser returns a parser ready to consume the first chunk.
func NewParser() *Parser {
	return &Parser{state: stateValue}
}

// Write consumes one chunk and returns the updates it completed, in order.
func (p *Parser) Write(chunk string) []Update {
	var ups []Update
	for _, r := range chunk {
		ups = append(ups, p.step(r)...)
	}
	return ups
}

// Finish flushes any pending token or unterminated string and closes open
// containers, returning the final updates.
func (p *Parser) Finish() []Update {
	var ups []Update
	switch p.state {
	case stateToken:
		ups = append(ups, p.endToken()...)
	case stateString, stateEscape, stateUnicode, stateMaybeClosed:
		if p.pendHiRaw != "" {
			p.str.WriteString(p.pendHiRaw)
			p.pendHi, p.pendHiRaw = 0, ""
		}
		if !p.isKey {
			ups = append(ups, p.closeString()...)
		}
	}
	for len(p.stack) > 0 {
		ups = append(ups, p.closeContainer()...)
	}
	return ups
}

// Current returns a snapshot of the document parsed so far, including any
// partially-read string value. Snapshots are independent of later writes.
func (p *Parser) Current() any {
	if len(p.stack) == 0 {
		if p.rootSet {
			return p.root
		}
		return nil
	}
	var leaf any
	haveLeaf := false
	if !p.isKey {
		switch p.state {
		case stateString, stateEscape, stateUnicode, stateMaybeClosed:
			leaf, haveLeaf = p.str.String(), true
		}
	}
	var child any
	haveChild := false
	for i := len(p.stack) - 1; i >= 0; i-- {
		f := p.stack[i]
		if f.isObject {
			m := make(map[string]any, len(f.obj)+1)
			for k, v := range f.obj {
				m[k] = v
			}
			if haveChild && f.keyed {
				m[f.key] = child
			} else if haveLeaf && f.keyed {
				m[f.key] = leaf
				haveLeaf = false
			}
			child, haveChild = m, true
		} else {
			a := append([]any(nil), f.arr...)
			if haveChild {
				a = append(a, child)
			} else if haveLeaf {
				a = append(a, leaf)
				haveLeaf = false
			}
			child, haveChild = a, true
		}
	}
	return child
}

func (p *Parser) step(r rune) []Update {
	switch p.state {
	case stateString:
		return p.stepString(r)
	case stateEscape:
		return p.stepEscape(r)
	case stateUnicode:
		return p.stepUnicode(r)
	case stateMaybeClosed:
		return p.stepMaybeClosed(r)
	case stateToken:
		return p.stepToken(r)
	case stateValue:
		return p.stepValue(r)
	case stateObjKey:
		return p.stepObjKey(r)
	case stateObjColon:
		if r == ':' {
			p.state = stateValue
		}
		return nil
	case stateComma:
		return p.stepComma(r)
	case stateDone:
		// Trailing garbage after the root value is ignored.
		return nil
	}
	return nil
}

func (p *Parser) stepValue(r rune) []Update {
	switch {
	case r == '{':
		p.pushObject()
	case r == '[':
		p.pushArray()
	case r == '"':
		p.str.Reset()
		p.isKey = false
		p.state = stateString
	case r == ']':
		if f := p.top(); f != nil && !f.isObject {
			return p.closeContainer()
		}
	case r == '-' || (r >= '0' && r <= '9'):
		p.token.Reset()
		p.token.WriteRune(r)
		p.state = stateToken
	case (r == 't' || r == 'f' || r == 'n') && len(p.stack) > 0:
		// Literals are only recognized inside a container so that leading
		// junk (markdown fences and the like) cannot start a token.
		p.token.Reset()
		p.token.WriteRune(r)
		p.state = stateToken
	}
	// Everything else outside a string is skipped.
	return nil
}

func (p *Parser) stepObjKey(r rune) []Update {
	switch r {
	case '"':
		p.str.Reset()
		p.isKey = true
		p.state = stateString
	case '}':
		return p.closeContainer()
	}
	return nil
}

func (p *Parser) stepComma(r rune) []Update {
	switch r {
	case ',':
		if f := p.top(); f != nil && f.isObject {
			f.keyed = false
			p.state = stateObjKey
		} else {
			p.state = stateValue
		}
	case '}', ']':
		return p.closeContainer()
	}
	return nil
}

func (p *Parser) stepString(r rune) []Update {
	switch r {
	case '\\':
		p.flushPendingSurrogate()
		p.state = stateEscape
	case '"':
		p.flushPendingSurrogate()
		p.wsBuf.Reset()
		p.state = stateMaybeClosed
	default:
		p.flushPendingSurrogate()
		p.str.WriteRune(r)
	}
	return nil
}

func (p *Parser) stepEscape(r rune) []Update {
	switch r {
	case '"':
		p.flushPendingSurrogate()
		p.str.WriteByte('"')
	case '\\':
		p.flushPendingSurrogate()
		p.str.WriteByte('\\')
	case '/':
		p.flushPendingSurrogate()
		p.str.WriteByte('/')
	case 'b':
		p.flushPendingSurrogate()
		p.str.WriteByte('\b')
	case 'f':
		p.flushPendingSurrogate()
		p.str.WriteByte('\f')
	case 'n':
		p.flushPendingSurrogate()
		p.str.WriteByte('\n')
	case 'r':
		p.flushPendingSurrogate()
		p.str.WriteByte('\r')
	case 't':
		p.flushPendingSurrogate()
		p.str.WriteByte('\t')
	case 'u':
		p.hexBuf = p.hexBuf[:0]
		p.state = stateUnicode
		return nil
	default:
		// Invalid escape: preserve it verbatim.
		p.flushPendingSurrogate()
		p.str.WriteByte('\\')
		p.str.WriteRune(r)
	}
	p.state = stateString
	return nil
}

func (p *Parser) stepUnicode(r rune) []Update {
	isHex := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
	if !isHex {
		// Malformed \u escape: preserve what we have and reprocess r.
		p.flushPendingSurrogate()
		p.str.WriteString("\\u")
		p.str.Write(p.hexBuf)
		p.state = stateString
		return p.step(r)
	}
	p.hexBuf = append(p.hexBuf, byte(r))
	if len(p.hexBuf) < 4 {
		return nil
	}
	n, _ := strconv.ParseUint(string(p.hexBuf), 16, 32)
	cp := rune(n)
	raw := "\\u" + string(p.hexBuf)
	p.state = stateString
	switch {
	case utf16.IsSurrogate(cp) && cp >= 0xD800 && cp < 0xDC00:
		// High surrogate: hold until the low half arrives.
		p.flushPendingSurrogate()
		p.pendHi, p.pendHiRaw = cp, raw
	case utf16.IsSurrogate(cp):
		if p.pendHi != 0 {
			if paired := utf16.DecodeRune(p.pendHi, cp); paired != utf8.RuneError {
				p.str.WriteRune(paired)
				p.pendHi, p.pendHiRaw = 0, ""
				return nil
			}
		}
		// Lone low surrogate: preserve the raw escape.
		p.flushPendingSurrogate()
		p.str.WriteString(raw)
	default:
		p.flushPendingSurrogate()
		p.str.WriteRune(cp)
	}
	return nil
}

// flushPendingSurrogate writes out a held high surrogate that was never
// paired, preserving its original escape text.
func (p *Parser) flushPendingSurrogate() {
	if p.pendHiRaw != "" {
		p.str.WriteString(p.pendHiRaw)
		p.pendHi, p.pendHiRaw = 0, ""
	}
}

func (p *Parser) stepMaybeClosed(r rune) []Update {
	switch {
	case r == ' ' || r == '\t' || r == '\n' || r == '\r':
		p.wsBuf.WriteRune(r)
		return nil
	case r == ',' || r == '}' || r == ']' || r == ':':
		// Real terminator: the quote closed the string.
		var ups []Update
		if p.isKey {
			p.finishKey()
		} else {
			ups = p.closeString()
		}
		return append(ups, p.step(r)...)
	default:
		// The quote was not followed by a terminator: treat it as escaped
		// content and resume the string.
		p.str.WriteByte('"')
		p.str.WriteString(p.wsBuf.String())
		p.state = stateString
		return p.step(r)
	}
}

func (p *Parser) finishKey() {
	f := p.top()
	if f != nil && f.isObject {
		f.key = p.str.String()
		f.keyed = true
	}
	p.state = stateObjColon
}

func (p *Parser) closeString() []Update {
	return p.setValue(p.str.String())
}

func (p *Parser) stepToken(r rune) []Update {
	switch r {
	case ',', '}', ']', ' ', '\t', '\n', '\r':
		ups := p.endToken()
		return append(ups, p.step(r)...)
	default:
		p.token.WriteRune(r)
		return nil
	}
}

func (p *Parser) endToken() []Update {
	text := p.token.String()
	p.token.Reset()
	var val any
	switch text {
	case "true":
		val = true
	case "false":
		val = false
	case "null":
		val = nil
	default:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			// Unknown bareword: skip it.
			p.afterValueState()
			return nil
		}
		val = f
	}
	return p.setValue(val)
}

// setValue attaches a completed leaf to the enclosing container and emits
// its update.
func (p *Parser) setValue(v any) []Update {
	path := p.leafPath()
	f := p.top()
	switch {
	case f == nil:
		p.root, p.rootSet = v, true
		p.state = stateDone
	case f.isObject:
		if f.keyed {
			f.obj[f.key] = v
		}
		f.count++
		p.state = stateComma
	default:
		f.arr = append(f.arr, v)
		f.count++
		p.state = stateComma
	}
	return []Update{{Keypath: path, Value: v}}
}

func (p *Parser) afterValueState() {
	if len(p.stack) == 0 {
		p.state = stateDone
		return
	}
	p.state = stateComma
}

func (p *Parser) pushObject() {
	p.stack = append(p.stack, &frame{isObject: true, obj: make(map[string]any)})
	p.state = stateObjKey
}

func (p *Parser) pushArray() {
	p.stack = append(p.stack, &frame{})
	p.state = stateValue
}

// closeContainer pops the innermost container, attaches it to its parent,
// and emits its aggregate when required: arrays always, objects only when
// empty.
func (p *Parser) closeContainer() []Update {
	f := p.top()
	if f == nil {
		return nil
	}
	path := p.containerPath()
	p.stack = p.stack[:len(p.stack)-1]

	var v any
	if f.isObject {
		v = f.obj
	} else {
		if f.arr == nil {
			f.arr = []any{}
		}
		v = f.arr
	}

	var ups []Update
	if !f.isObject || f.count == 0 {
		ups = append(ups, Update{Keypath: path, Value: v})
	}

	parent := p.top()
	switch {
	case parent == nil:
		p.root, p.rootSet = v, true
		p.state = stateDone
	case parent.isObject:
		if parent.keyed {
			parent.obj[parent.key] = v
		}
		parent.count++
		p.state = stateComma
	default:
		parent.arr = append(parent.arr, v)
		parent.count++
		p.state = stateComma
	}
	return ups
}

func (p *Parser) top() *frame {
	if len(p.stack) == 0 {
		return nil
	}
	return p.stack[len(p.stack)-1]
}

// leafPath is the keypath of the value currently being completed.
func (p *Parser) leafPath() string {
	parts := make([]string, 0, len(p.stack))
	for i, f := range p.stack {
		if f.isObject {
			if i == len(p.stack)-1 && !f.keyed {
				continue
			}
			parts = append(parts, f.key)
		} else {
			parts = append(parts, strconv.Itoa(len(f.arr)))
		}
	}
	return strings.Join(parts, ".")
}

// containerPath is the keypath of the innermost container itself.
func (p *Parser) containerPath() string {
	parts := make([]string, 0, len(p.stack))
	for i, f := range p.stack {
		if i == len(p.stack)-1 {
			break
		}
		if f.isObject {
			parts = append(parts, f.key)
		} else {
			parts = append(parts, strconv.Itoa(len(f.arr)))
		}
	}
	return strings.Join(parts, ".")
}
