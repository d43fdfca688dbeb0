// Package replay renders recorded task runs as an indented step tree.
package replay

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vinayprograms/benchagent/internal/session"
)

// Replayer formats the trace of a session.
type Replayer struct {
	output         io.Writer
	verbosity      int // 0=normal, 1=verbose (-v), 2=very verbose (-vv)
	maxContentSize int // 0 = unlimited
}

// ReplayerOption configures a Replayer.
type ReplayerOption func(*Replayer)

// WithMaxContentSize limits how much of a message or response is printed.
func WithMaxContentSize(size int) ReplayerOption {
	return func(r *Replayer) {
		r.maxContentSize = size
	}
}

// New creates a new Replayer.
func New(output io.Writer, verbosity int, opts ...ReplayerOption) *Replayer {
	r := &Replayer{
		output:         output,
		verbosity:      verbosity,
		maxContentSize: 50 * 1024,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReplayFile loads and replays a session from a file.
func (r *Replayer) ReplayFile(path string) error {
	sess, err := session.Load(path)
	if err != nil {
		return err
	}
	return r.Replay(sess)
}

// ReplayFileInteractive loads and replays with the interactive pager.
func (r *Replayer) ReplayFileInteractive(path string) error {
	sess, err := session.Load(path)
	if err != nil {
		return err
	}
	content, err := r.render(sess)
	if err != nil {
		return err
	}
	return NewPager(fmt.Sprintf("Session: %s", sess.ID)).Run(content)
}

// ReplayFileLive follows a session file while its run is writing it.
func (r *Replayer) ReplayFileLive(path string) error {
	sess, err := session.Load(path)
	if err != nil {
		return err
	}
	renderFunc := func() (string, error) {
		s, err := session.Load(path)
		if err != nil {
			return "", err
		}
		return r.render(s)
	}
	return NewPager(fmt.Sprintf("Session: %s (LIVE)", sess.ID)).RunLive(path, renderFunc)
}

// render replays into a string.
func (r *Replayer) render(sess *session.Session) (string, error) {
	var buf strings.Builder
	old := r.output
	r.output = &buf
	err := r.Replay(sess)
	r.output = old
	return buf.String(), err
}

// Replay writes the header, the step tree and the summary of a session.
func (r *Replayer) Replay(sess *session.Session) error {
	r.printHeader(sess)
	r.printTimeline(sess)
	r.printSummary(sess)
	return nil
}

func (r *Replayer) printHeader(sess *session.Session) {
	fmt.Fprintln(r.output)
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("SESSION"), valueStyle.Render(sess.ID))
	fmt.Fprintln(r.output, divider)
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Benchmark:"), valueStyle.Render(fmt.Sprintf("%s #%d", sess.Benchmark, sess.TaskIndex)))
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Task:     "), valueStyle.Render(sess.TaskText))
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Status:   "), statusStyle(sess.Status).Render(sess.Status))
	if !sess.CreatedAt.IsZero() {
		fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Created:  "), valueStyle.Render(sess.CreatedAt.Format(time.RFC3339)))
	}
	fmt.Fprintln(r.output)
}

func (r *Replayer) printTimeline(sess *session.Session) {
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("TRACE"), dimStyle.Render(fmt.Sprintf("(%d events)", len(sess.Events))))
	fmt.Fprintln(r.output, divider)
	for i := range sess.Events {
		r.formatEvent(&sess.Events[i])
	}
}

func (r *Replayer) printSummary(sess *session.Session) {
	fmt.Fprintln(r.output)
	fmt.Fprintln(r.output, divider)

	switch sess.Status {
	case session.StatusComplete:
		line := successStyle.Render(strings.ToUpper(orDefault(sess.Code, "completed")))
		if sess.Code != "" && sess.Code != "completed" {
			line = warnStyle.Render(strings.ToUpper(sess.Code))
		}
		fmt.Fprintln(r.output, line)
		if sess.Summary != "" {
			fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Summary:"), valueStyle.Render(sess.Summary))
		}
	case session.StatusFailed:
		fmt.Fprintf(r.output, "%s %s\n", errorStyle.Render("FAILED:"), valueStyle.Render(sess.Error))
	default:
		fmt.Fprintln(r.output, warnStyle.Render("RUNNING"))
	}
	if sess.Score != nil {
		fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Score:  "), valueStyle.Render(fmt.Sprintf("%.2f", *sess.Score)))
	}

	PrintStats(r.output, ComputeStats(sess))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
