package export

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dexporter/dexporter/internal/dex"
)

// TextOptions controls the plain text layout
type TextOptions struct {
	// Headers inserts a "---- DD Month YYYY ----" line whenever the day changes
	Headers bool

	// Location is the zone times are printed in. Defaults to UTC.
	Location *time.Location
}

// RenderText writes one line per message:
//
//	2023-05-01 10:00:00 alice: hello
//
// followed by one line per attachment URL. Messages without a timestamp
// cannot be placed and are skipped. It returns how many messages were
// written and how many were skipped.
func RenderText(w io.Writer, s *dex.Store, opts TextOptions) (int, int, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	bw := bufio.NewWriter(w)

	written, skipped := 0, 0
	var lastDay string
	for _, m := range s.Messages {
		if m.Timestamp == nil {
			log.Warn("message has no timestamp, not exported", "channel", s.Header.Display(), "id", m.ID)
			skipped++
			continue
		}
		ts := m.Timestamp.In(loc)

		if opts.Headers {
			if day := ts.Format(time.DateOnly); day != lastDay {
				fmt.Fprintf(bw, "\n---- %s ----\n\n", ts.Format("02 January 2006"))
				lastDay = day
			}
		}

		bw.WriteString(ts.Format(time.DateTime))
		bw.WriteByte(' ')
		bw.WriteString(m.Author.Username)
		if m.Content != nil {
			bw.WriteString(": ")
			bw.WriteString(*m.Content)
		}
		for _, a := range m.Attachments {
			bw.WriteByte('\n')
			bw.WriteString(a.URL)
		}
		bw.WriteByte('\n')
		written++
	}

	if err := bw.Flush(); err != nil {
		return written, skipped, err
	}
	return written, skipped, nil
}
