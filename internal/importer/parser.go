// Package importer reads plain text chat logs and merges them into stores.
//
// A log is a sequence of date headers and message blocks:
//
//	---- 7 June 2019 ----
//	[13:04:55] alice: hello
//	a second line of the same message
//	https://cdn.discordapp.com/attachments/1/2/cat.png
//
// Logs carry no message ids and only whole-second times, so merging relies
// on content and time proximity instead of identity.
package importer

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// AttachmentPrefix marks lines that are attachment links rather than text
const AttachmentPrefix = "https://cdn.discordapp.com/attachments/"

// ErrNoDateHeader is returned for a log that never declares a date
var ErrNoDateHeader = errors.New("log has no date header")

// Candidate is one message recovered from a log
type Candidate struct {
	Timestamp   time.Time
	Username    string
	Text        string
	Attachments []string
}

// ParseOptions controls how a log is read
type ParseOptions struct {
	// AllowedUsers restricts which usernames start a message. Lines by
	// anyone else are read as text of the previous message. Nil allows all.
	AllowedUsers map[string]bool

	// Location is the zone the log's clock times are in. Defaults to UTC.
	Location *time.Location
}

// Anomaly is a line that looked like a date header but went back in time
type Anomaly struct {
	Line   int
	Header string
}

// ParseResult holds the recovered messages and what had to be ignored
type ParseResult struct {
	Candidates []Candidate
	Anomalies  []Anomaly

	// Skipped counts blocks that could not be read as a message
	Skipped int
}

type block struct {
	line  int
	lines []string
}

// ParseLog reads a whole log. Malformed blocks are skipped with a warning;
// only a log with no date header at all is an error.
func ParseLog(r io.Reader, opts ParseOptions) (*ParseResult, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	p := &logParser{
		allowed: opts.AllowedUsers,
		loc:     loc,
		result:  &ParseResult{},
	}

	scanner := bufio.NewScanner(r)
	// Increase buffer size for long pasted messages
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		p.feed(lineNo, strings.TrimSuffix(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}

	if p.date == nil {
		return nil, ErrNoDateHeader
	}
	p.flush()

	return p.result, nil
}

type logParser struct {
	allowed map[string]bool
	loc     *time.Location
	date    *time.Time
	acc     block
	result  *ParseResult
}

func (p *logParser) feed(lineNo int, line string) {
	if newDate, ok := parseDateHeader(line, p.loc); ok {
		if p.date != nil && newDate.Before(*p.date) {
			// a quoted header inside a message, no time travel
			log.Warn("date header goes back in time, reading it as text", "line", lineNo, "header", line)
			p.result.Anomalies = append(p.result.Anomalies, Anomaly{Line: lineNo, Header: line})
		} else {
			if p.date == nil {
				if !blank(p.acc.lines) {
					log.Warn("text before the first date header ignored", "lines", len(p.acc.lines))
				}
			} else {
				p.flush()
			}
			p.acc = block{}
			p.date = &newDate
			return
		}
	}

	// an independently parseable line starts a new message
	if p.date != nil && len(p.acc.lines) > 0 {
		if _, ok := parseBlock([]string{line}, *p.date, p.loc, p.allowed); ok {
			p.flush()
		}
	}

	if len(p.acc.lines) == 0 {
		p.acc.line = lineNo
	}
	p.acc.lines = append(p.acc.lines, line)
}

func (p *logParser) flush() {
	if len(p.acc.lines) == 0 || p.date == nil {
		p.acc = block{}
		return
	}
	candidate, ok := parseBlock(p.acc.lines, *p.date, p.loc, p.allowed)
	if ok {
		p.result.Candidates = append(p.result.Candidates, candidate)
	} else if !blank(p.acc.lines) {
		log.Warn("block could not be read as a message, skipping", "line", p.acc.line, "text", p.acc.lines[0])
		p.result.Skipped++
	}
	p.acc = block{}
}

func blank(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}

var months = func() map[string]time.Month {
	m := make(map[string]time.Month, 12)
	for i := time.January; i <= time.December; i++ {
		m[i.String()] = i
	}
	return m
}()

// parseDateHeader reads "---- <day> <Month> <year> ----"
func parseDateHeader(line string, loc *time.Location) (time.Time, bool) {
	if !strings.HasPrefix(line, "---- ") || !strings.HasSuffix(line, " ----") || len(line) < 10 {
		return time.Time{}, false
	}
	inner := line[5 : len(line)-5]
	dayStr, rest, ok := strings.Cut(inner, " ")
	if !ok {
		return time.Time{}, false
	}
	monthStr, yearStr, ok := strings.Cut(rest, " ")
	if !ok {
		return time.Time{}, false
	}
	month, ok := months[monthStr]
	if !ok {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(dayStr)
	if err != nil {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return time.Time{}, false
	}
	date := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if date.Day() != day || date.Month() != month {
		return time.Time{}, false
	}
	return date, true
}

// parseBlock reads a message block: "[HH:MM:SS] user: text", continuation
// lines, then trailing attachment links and blank lines.
func parseBlock(lines []string, date time.Time, loc *time.Location, allowed map[string]bool) (Candidate, bool) {
	if len(lines) == 0 {
		return Candidate{}, false
	}

	first, ok := strings.CutPrefix(lines[0], "[")
	if !ok {
		return Candidate{}, false
	}
	var hms [3]int
	for i := range hms {
		digits := leadingDigits(first)
		if digits == "" {
			return Candidate{}, false
		}
		v, err := strconv.Atoi(digits)
		if err != nil {
			return Candidate{}, false
		}
		hms[i] = v
		first = first[len(digits):]
		if i < 2 {
			if first, ok = strings.CutPrefix(first, ":"); !ok {
				return Candidate{}, false
			}
		}
	}
	if hms[0] > 23 || hms[1] > 59 || hms[2] > 59 {
		return Candidate{}, false
	}
	first, ok = strings.CutPrefix(first, "] ")
	if !ok {
		return Candidate{}, false
	}

	// uploads and other content-less lines may have no colon at all
	username, rest, _ := strings.Cut(first, ":")
	if allowed != nil && !allowed[username] {
		return Candidate{}, false
	}
	text, ok := strings.CutPrefix(rest, " ")
	if !ok {
		text = ""
	}

	trailingBlank := 0
	for i := len(lines) - 1; i > 0 && lines[i] == ""; i-- {
		trailingBlank++
	}
	end := len(lines) - trailingBlank
	attachStart := end
	for attachStart > 1 && strings.HasPrefix(lines[attachStart-1], AttachmentPrefix) {
		attachStart--
	}
	var attachments []string
	if !strings.HasPrefix(text, AttachmentPrefix) {
		attachments = slices.Clone(lines[attachStart:end])
	} else {
		// a link on the first line means the trailing ones are links too
		attachStart = end
	}

	var b strings.Builder
	b.WriteString(text)
	for _, l := range lines[1:attachStart] {
		b.WriteByte('\n')
		b.WriteString(l)
	}

	ts := time.Date(date.Year(), date.Month(), date.Day(), hms[0], hms[1], hms[2], 0, loc).UTC()
	return Candidate{
		Timestamp:   ts,
		Username:    username,
		Text:        strings.TrimSpace(b.String()),
		Attachments: attachments,
	}, true
}

func leadingDigits(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}

// UserCount is how many messages a username has in a log
type UserCount struct {
	Username string
	Count    int
}

// UserCounts tallies candidates per username, least active first
func UserCounts(candidates []Candidate) []UserCount {
	counts := make(map[string]int)
	for _, c := range candidates {
		counts[c.Username]++
	}
	result := make([]UserCount, 0, len(counts))
	for name, n := range counts {
		result = append(result, UserCount{Username: name, Count: n})
	}
	slices.SortFunc(result, func(a, b UserCount) int {
		return cmp.Or(cmp.Compare(a.Count, b.Count), strings.Compare(a.Username, b.Username))
	})
	return result
}
