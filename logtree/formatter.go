package logtree

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lestrrat-go/strftime"
)

// ErrBadPattern is returned by NewFormatter for a pattern it cannot parse: a
// trailing '%', a '%d' not followed by a braced strftime layout, an unclosed
// brace, or an unknown one-character code.
var ErrBadPattern = errors.New("logtree: bad formatter pattern")

// DefaultPattern is the pattern installed on a registry's root logger.
const DefaultPattern = "%d{%Y-%m-%d %H:%M:%S}%t%T%t%R%t[%L]%t[%c]%t%f:%l%t%m%n"

// Formatter renders events as text according to a %-code pattern. Codes:
//
//	%m  message            %c  logger name        %L  level name
//	%l  line number        %t  tab                %n  newline
//	%f  file name          %T  kernel thread id   %R  coroutine id
//	%%  literal percent    %d{layout}  event time, strftime layout
//
// A Formatter is immutable once built and safe for concurrent use.
type Formatter struct {
	items []formatterItem
}

type formatterItem interface {
	appendFormat(dst []byte, ev *Event) []byte
	appendPattern(dst []byte) []byte
}

// codeItem renders one of the single-character codes. The '%' code is the
// literal percent, which re-emits as "%%".
type codeItem byte

const formatterCodes = "mcLltnfTR%"

func (c codeItem) appendFormat(dst []byte, ev *Event) []byte {
	switch byte(c) {
	case 'm':
		return append(dst, ev.Message...)
	case 'c':
		return append(dst, ev.LoggerName...)
	case 'L':
		return append(dst, ev.Level.String()...)
	case 'l':
		return strconv.AppendInt(dst, int64(ev.Line), 10)
	case 't':
		return append(dst, '\t')
	case 'n':
		return append(dst, '\n')
	case 'f':
		return append(dst, ev.File...)
	case 'T':
		return strconv.AppendInt(dst, int64(ev.ThreadID), 10)
	case 'R':
		return strconv.AppendUint(dst, uint64(ev.CoroutineID), 10)
	case '%':
		return append(dst, '%')
	}
	return dst
}

func (c codeItem) appendPattern(dst []byte) []byte {
	return append(dst, '%', byte(c))
}

// textItem is a literal run between codes. Runs never contain '%', so they
// re-emit verbatim.
type textItem string

func (t textItem) appendFormat(dst []byte, _ *Event) []byte {
	return append(dst, t...)
}

func (t textItem) appendPattern(dst []byte) []byte {
	return append(dst, t...)
}

// timeItem renders the event time through a strftime layout, compiled once
// at parse time.
type timeItem struct {
	f      *strftime.Strftime
	layout string
}

func (t *timeItem) appendFormat(dst []byte, ev *Event) []byte {
	return t.f.FormatBuffer(dst, ev.Time)
}

func (t *timeItem) appendPattern(dst []byte) []byte {
	dst = append(dst, "%d{"...)
	dst = append(dst, t.layout...)
	return append(dst, '}')
}

// Pattern parsing is a fixed table-driven state machine over five character
// classes. Text accumulates until a '%'; a '%' selects either a one-char
// code, a literal "%%", or "%d{...}" whose brace-delimited run becomes the
// strftime layout. Any transition the table does not permit, and any state
// other than a completed item or text run at end of input, is ErrBadPattern.

type parseState uint8

const (
	stateStart parseState = iota
	stateTextBegin
	stateTextKeep
	statePercentAfterText
	stateSinglePercent
	stateTryAddItem
	stateDoublePercent
	stateWaitBrace
	stateTimeLayoutBegin
	stateTimeLayoutKeep
	stateTimeLayoutEnd
	stateInvalid
)

type parseEvent uint8

const (
	eventPercent parseEvent = iota
	eventAlphaD
	eventBrace
	eventBackBrace
	eventOther
)

func classify(c byte) parseEvent {
	switch c {
	case '%':
		return eventPercent
	case 'd':
		return eventAlphaD
	case '{':
		return eventBrace
	case '}':
		return eventBackBrace
	default:
		return eventOther
	}
}

// transitions[state][event] - the %d path only admits an immediate brace,
// and a brace outside a %d{...} run is plain text.
var transitions = [stateInvalid + 1][eventOther + 1]parseState{
	stateStart: {
		stateSinglePercent, stateTextBegin, stateTextBegin, stateTextBegin, stateTextBegin,
	},
	stateTextBegin: {
		statePercentAfterText, stateTextKeep, stateTextKeep, stateTextKeep, stateTextKeep,
	},
	stateTextKeep: {
		statePercentAfterText, stateTextKeep, stateTextKeep, stateTextKeep, stateTextKeep,
	},
	statePercentAfterText: {
		stateDoublePercent, stateWaitBrace, stateInvalid, stateInvalid, stateTryAddItem,
	},
	stateSinglePercent: {
		stateDoublePercent, stateWaitBrace, stateInvalid, stateInvalid, stateTryAddItem,
	},
	stateTryAddItem: {
		stateSinglePercent, stateTextBegin, stateTextBegin, stateTextBegin, stateTextBegin,
	},
	stateDoublePercent: {
		stateSinglePercent, stateTextBegin, stateTextBegin, stateTextBegin, stateTextBegin,
	},
	stateWaitBrace: {
		stateInvalid, stateInvalid, stateTimeLayoutBegin, stateInvalid, stateInvalid,
	},
	stateTimeLayoutBegin: {
		stateTimeLayoutKeep, stateTimeLayoutKeep, stateTimeLayoutKeep, stateTimeLayoutEnd, stateTimeLayoutKeep,
	},
	stateTimeLayoutKeep: {
		stateTimeLayoutKeep, stateTimeLayoutKeep, stateTimeLayoutKeep, stateTimeLayoutEnd, stateTimeLayoutKeep,
	},
	stateTimeLayoutEnd: {
		stateSinglePercent, stateTextBegin, stateTextBegin, stateTextBegin, stateTextBegin,
	},
	stateInvalid: {
		stateInvalid, stateInvalid, stateInvalid, stateInvalid, stateInvalid,
	},
}

// NewFormatter parses pattern into a Formatter, or returns an error wrapping
// ErrBadPattern describing the first offending position.
func NewFormatter(pattern string) (*Formatter, error) {
	f := &Formatter{}
	state := stateStart
	begin := 0
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		state = transitions[state][classify(c)]

		switch state {
		case stateStart, stateTextKeep, stateSinglePercent, stateWaitBrace, stateTimeLayoutKeep:
			// accumulating; nothing to emit yet
		case stateTextBegin, stateTimeLayoutBegin:
			begin = i
		case statePercentAfterText:
			f.items = append(f.items, textItem(pattern[begin:i]))
		case stateTryAddItem:
			if strings.IndexByte(formatterCodes, c) < 0 {
				return nil, fmt.Errorf("%w: unknown code %%%c at %d", ErrBadPattern, c, i)
			}
			f.items = append(f.items, codeItem(c))
		case stateDoublePercent:
			f.items = append(f.items, codeItem('%'))
		case stateTimeLayoutEnd:
			layout := pattern[begin+1 : i]
			sf, err := strftime.New(layout)
			if err != nil {
				return nil, fmt.Errorf("%w: time layout %q: %v", ErrBadPattern, layout, err)
			}
			f.items = append(f.items, &timeItem{f: sf, layout: layout})
		case stateInvalid:
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrBadPattern, c, i)
		}
	}

	switch state {
	case stateTextBegin, stateTextKeep:
		f.items = append(f.items, textItem(pattern[begin:]))
	case statePercentAfterText, stateSinglePercent:
		return nil, fmt.Errorf("%w: trailing %%", ErrBadPattern)
	case stateWaitBrace:
		return nil, fmt.Errorf("%w: %%d requires a {...} layout", ErrBadPattern)
	case stateTimeLayoutBegin, stateTimeLayoutKeep:
		return nil, fmt.Errorf("%w: unclosed time layout", ErrBadPattern)
	}
	return f, nil
}

// MustFormatter is NewFormatter for patterns known valid at compile time.
func MustFormatter(pattern string) *Formatter {
	f, err := NewFormatter(pattern)
	if err != nil {
		panic(err)
	}
	return f
}

// Format renders ev as a string.
func (f *Formatter) Format(ev *Event) string {
	return string(f.AppendFormat(nil, ev))
}

// AppendFormat renders ev, appending to dst.
func (f *Formatter) AppendFormat(dst []byte, ev *Event) []byte {
	for _, item := range f.items {
		dst = item.appendFormat(dst, ev)
	}
	return dst
}

// Pattern re-emits the parsed pattern. The emission is byte-identical to the
// string the Formatter was built from: text runs never contain '%', and
// every code round-trips through its own spelling.
func (f *Formatter) Pattern() string {
	var dst []byte
	for _, item := range f.items {
		dst = item.appendPattern(dst)
	}
	return string(dst)
}
