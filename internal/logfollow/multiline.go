// Package logfollow reads container log streams, aggregates multi-line
// events (stack traces, banners, JSON records split across physical
// lines), and publishes the result to the log hub.
package logfollow

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"
)

// decision is a start-classifier's verdict on one line.
type decision int

const (
	noOpinion decision = iota
	startNew
)

// ruling is the router's combined verdict: whether this line starts a new
// aggregated event, and if so whether that event is already complete (a
// single self-contained JSON record needs no continuation lines).
type ruling struct {
	decision decision
	complete bool
}

// AggregatedEvent is one multi-line-aggregated log entry ready to publish.
type AggregatedEvent struct {
	Line           string
	ContainerTS    string
	HasContainerTS bool
}

// leadingTokenLimit bounds how many leading whitespace-separated tokens the
// token-signal classifier inspects, so a long unstructured line doesn't
// make every token a severity/timestamp candidate.
const leadingTokenLimit = 5

// levels is the closed set of severity words the token-signal classifier
// recognizes, matched case-insensitively.
var levels = []string{"TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "FATAL", "CRITICAL", "PANIC"}

// classifier votes on whether a line starts a new aggregated event.
type classifier interface {
	classify(content string) (ruling, bool)
}

type jsonClassifier struct{}

func (jsonClassifier) classify(content string) (ruling, bool) {
	candidate, ok := extractJSONCandidate(content)
	if !ok {
		return ruling{}, false
	}

	var v any
	if err := json.Unmarshal([]byte(candidate), &v); err != nil {
		return ruling{}, false
	}

	return ruling{decision: startNew, complete: true}, true
}

type tokenSignalClassifier struct{}

func (tokenSignalClassifier) classify(content string) (ruling, bool) {
	if hasStartSignal(content) {
		return ruling{decision: startNew, complete: false}, true
	}

	return ruling{}, false
}

// router runs the ordered start-classifier chain, returning the first
// classifier's opinion or noOpinion if none fires.
type router struct {
	classifiers []classifier
}

func newRouter() *router {
	return &router{classifiers: []classifier{jsonClassifier{}, tokenSignalClassifier{}}}
}

func (r *router) classify(content string) ruling {
	for _, c := range r.classifiers {
		if verdict, ok := c.classify(content); ok {
			return verdict
		}
	}

	return ruling{decision: noOpinion}
}

// MultilineAggregator folds a stream of raw log lines into aggregated
// events, starting a new event when a line looks like the start of one
// (JSON record, timestamped/leveled line) or when too much time has
// passed since the last line, whichever signal fires first.
type MultilineAggregator struct {
	router *router
	buffer strings.Builder
	maxGap time.Duration

	hasLastIngest bool
	lastIngest    time.Time

	currentContainerTS string
	hasContainerTS     bool

	hasLastOuterTS bool
	lastOuterTS    int64
}

// NewMultilineAggregator creates an aggregator that flushes the current
// event whenever the gap since the last line (by arrival time, or by the
// line's own embedded timestamp when present) exceeds maxGap.
func NewMultilineAggregator(maxGap time.Duration) *MultilineAggregator {
	return &MultilineAggregator{router: newRouter(), maxGap: maxGap}
}

// PushLine ingests one raw line, returning any events it caused to flush
// (zero, one, or two: a preceding event plus a self-contained new one).
func (a *MultilineAggregator) PushLine(line string, now time.Time) []AggregatedEvent {
	var flushed []AggregatedEvent

	containerTS, hasTS, content, outerTS, hasOuterTS := extractOuterTimestamp(line)

	arrivalGapExceeded := a.hasLastIngest && now.Sub(a.lastIngest) > a.maxGap

	gapExceeded := arrivalGapExceeded
	if a.hasLastOuterTS && hasOuterTS && outerTS >= a.lastOuterTS {
		gapExceeded = outerTS-a.lastOuterTS > a.maxGap.Milliseconds()
	}

	verdict := a.router.classify(content)
	isStart := verdict.decision == startNew

	if gapExceeded || isStart {
		if event, ok := a.takeEvent(); ok {
			flushed = append(flushed, event)
		}

		a.startNewEntry(content, containerTS, hasTS)

		if verdict.complete {
			if event, ok := a.takeEvent(); ok {
				flushed = append(flushed, event)
			}
		}

		a.recordIngest(now, outerTS, hasOuterTS)

		return flushed
	}

	if a.buffer.Len() == 0 {
		a.startNewEntry(content, containerTS, hasTS)
	} else {
		a.appendLine(content)
	}

	a.recordIngest(now, outerTS, hasOuterTS)

	return flushed
}

// Flush returns the in-progress event, if any, clearing the buffer. Call
// this once the underlying reader reaches EOF so the final event isn't
// lost.
func (a *MultilineAggregator) Flush() (AggregatedEvent, bool) {
	return a.takeEvent()
}

func (a *MultilineAggregator) recordIngest(now time.Time, outerTS int64, hasOuterTS bool) {
	a.lastIngest = now
	a.hasLastIngest = true

	if hasOuterTS {
		a.lastOuterTS = outerTS
		a.hasLastOuterTS = true
	}
}

func (a *MultilineAggregator) takeEvent() (AggregatedEvent, bool) {
	if a.buffer.Len() == 0 {
		return AggregatedEvent{}, false
	}

	event := AggregatedEvent{
		Line:           a.buffer.String(),
		ContainerTS:    a.currentContainerTS,
		HasContainerTS: a.hasContainerTS,
	}

	a.buffer.Reset()
	a.currentContainerTS = ""
	a.hasContainerTS = false

	return event, true
}

func (a *MultilineAggregator) startNewEntry(line, containerTS string, hasTS bool) {
	a.buffer.Reset()
	a.currentContainerTS = containerTS
	a.hasContainerTS = hasTS
	a.buffer.WriteString(line)
}

func (a *MultilineAggregator) appendLine(line string) {
	if a.buffer.Len() > 0 {
		a.buffer.WriteByte('\n')
	}

	a.buffer.WriteString(line)
}

// extractJSONCandidate trims a line and returns it if it looks like a
// complete JSON object or array (matching outer brace/bracket pair).
func extractJSONCandidate(value string) (string, bool) {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		return "", false
	}

	first := candidate[0]
	last := candidate[len(candidate)-1]

	if (first == '{' && last == '}') || (first == '[' && last == ']') {
		return candidate, true
	}

	return "", false
}

// extractOuterTimestamp splits off a leading RFC3339 timestamp emitted by
// the container engine's own log framing (distinct from any timestamp the
// application itself writes into the line), returning the remainder as
// content to classify.
func extractOuterTimestamp(line string) (ts string, hasTS bool, content string, outerMs int64, hasOuterMs bool) {
	if idx := strings.IndexFunc(line, unicode.IsSpace); idx >= 0 {
		candidate := line[:idx]

		if millis, ok := parseRFC3339Millis(candidate); ok {
			return candidate, true, line[idx+1:], millis, true
		}

		return "", false, line, 0, false
	}

	if millis, ok := parseRFC3339Millis(line); ok {
		return line, true, "", millis, true
	}

	return "", false, line, 0, false
}

func parseRFC3339Millis(value string) (int64, bool) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return 0, false
	}

	return t.UnixMilli(), true
}

// hasStartSignal looks at the first few whitespace-separated tokens of a
// line for a leveled-log signal: an inline ISO datetime, an adjacent
// date-then-time token pair, or a recognized severity word.
func hasStartSignal(line string) bool {
	fields := strings.Fields(line)
	if len(fields) > leadingTokenLimit {
		fields = fields[:leadingTokenLimit]
	}

	if len(fields) == 0 {
		return false
	}

	for _, token := range fields {
		if tokenContainsDatetime(token) {
			return true
		}
	}

	for i := 0; i < len(fields)-1; i++ {
		if tokenContainsDate(fields[i]) && tokenContainsTime(fields[i+1]) {
			return true
		}
	}

	for _, token := range fields {
		if tokenHasSeverity(token) {
			return true
		}
	}

	return false
}

func tokenHasSeverity(token string) bool {
	bytes := []byte(token)
	idx := 0

	for idx < len(bytes) {
		for idx < len(bytes) && !isASCIIAlpha(bytes[idx]) {
			idx++
		}

		start := idx

		for idx < len(bytes) && isASCIIAlpha(bytes[idx]) {
			idx++
		}

		if start < idx && isLevel(token[start:idx]) {
			return true
		}
	}

	return false
}

func isASCIIAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isLevel(word string) bool {
	for _, level := range levels {
		if strings.EqualFold(word, level) {
			return true
		}
	}

	return false
}

func tokenContainsDatetime(token string) bool {
	bytes := []byte(token)

	for idx := 0; idx+10 < len(bytes); idx++ {
		end, ok := matchDateAt(bytes, idx)
		if !ok {
			continue
		}

		if end >= len(bytes) || (bytes[end] != 'T' && bytes[end] != 't') {
			continue
		}

		if _, ok := matchTimeAt(bytes, end+1); ok {
			return true
		}
	}

	return false
}

func tokenContainsDate(token string) bool {
	bytes := []byte(token)

	for idx := 0; idx+9 < len(bytes); idx++ {
		if _, ok := matchDateAt(bytes, idx); ok {
			return true
		}
	}

	return false
}

func tokenContainsTime(token string) bool {
	bytes := []byte(token)

	for idx := 0; idx+7 < len(bytes); idx++ {
		if _, ok := matchTimeAt(bytes, idx); ok {
			return true
		}
	}

	return false
}

// matchDateAt matches a `YYYY-MM-DD` or `YYYY/MM/DD` date at idx, returning
// the index just past it.
func matchDateAt(b []byte, idx int) (int, bool) {
	if idx+9 >= len(b) {
		return 0, false
	}

	if !isDigit(b, idx) || !isDigit(b, idx+1) || !isDigit(b, idx+2) || !isDigit(b, idx+3) {
		return 0, false
	}

	if b[idx+4] != '-' && b[idx+4] != '/' {
		return 0, false
	}

	if !isDigit(b, idx+5) || !isDigit(b, idx+6) {
		return 0, false
	}

	if b[idx+7] != '-' && b[idx+7] != '/' {
		return 0, false
	}

	if !isDigit(b, idx+8) || !isDigit(b, idx+9) {
		return 0, false
	}

	return idx + 10, true
}

// matchTimeAt matches `HH:MM:SS` at idx, with an optional fractional-second
// suffix and an optional `Z`/`+HH:MM`/`-HH:MM` offset, returning the index
// just past the longest match.
func matchTimeAt(b []byte, idx int) (int, bool) {
	if idx+7 >= len(b) {
		return 0, false
	}

	if !isDigit(b, idx) || !isDigit(b, idx+1) || b[idx+2] != ':' ||
		!isDigit(b, idx+3) || !isDigit(b, idx+4) || b[idx+5] != ':' ||
		!isDigit(b, idx+6) || !isDigit(b, idx+7) {
		return 0, false
	}

	end := idx + 8

	if end < len(b) && (b[end] == '.' || b[end] == ',') {
		end++
		start := end

		for end < len(b) && isDigit(b, end) {
			end++
		}

		if start == end {
			return 0, false
		}
	}

	if end < len(b) {
		switch b[end] {
		case 'Z', 'z':
			end++
		case '+', '-':
			if end+5 < len(b) && isDigit(b, end+1) && isDigit(b, end+2) &&
				b[end+3] == ':' && isDigit(b, end+4) && isDigit(b, end+5) {
				end += 6
			}
		}
	}

	return end, true
}

func isDigit(b []byte, idx int) bool {
	if idx < 0 || idx >= len(b) {
		return false
	}

	return b[idx] >= '0' && b[idx] <= '9'
}
