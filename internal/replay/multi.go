package replay

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/vinayprograms/benchagent/internal/session"
)

// MultiReplayer renders several sessions one after another, for example all
// runs of a repeated task.
type MultiReplayer struct {
	output    io.Writer
	verbosity int
}

// NewMulti creates a new MultiReplayer.
func NewMulti(output io.Writer, verbosity int) *MultiReplayer {
	return &MultiReplayer{output: output, verbosity: verbosity}
}

type sessionInfo struct {
	Session *session.Session
	Source  string
}

// ReplayFiles outputs multiple sessions to the writer.
func (m *MultiReplayer) ReplayFiles(paths []string) error {
	sessions, err := m.loadSessions(paths)
	if err != nil {
		return err
	}
	return m.replayAll(m.output, sessions)
}

// ReplayFilesInteractive shows multiple sessions in the interactive pager.
func (m *MultiReplayer) ReplayFilesInteractive(paths []string) error {
	sessions, err := m.loadSessions(paths)
	if err != nil {
		return err
	}

	var buf strings.Builder
	if err := m.replayAll(&buf, sessions); err != nil {
		return err
	}

	title := fmt.Sprintf("%d session(s)", len(sessions))
	if len(sessions) == 1 {
		title = fmt.Sprintf("Session: %s", sessions[0].Session.ID)
	}
	return NewPager(title).Run(buf.String())
}

// loadSessions loads the files ordered by task index, then creation time.
func (m *MultiReplayer) loadSessions(paths []string) ([]sessionInfo, error) {
	var sessions []sessionInfo
	for _, path := range paths {
		sess, err := session.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		sessions = append(sessions, sessionInfo{Session: sess, Source: path})
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i].Session, sessions[j].Session
		if a.TaskIndex != b.TaskIndex {
			return a.TaskIndex < b.TaskIndex
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return sessions, nil
}

func (m *MultiReplayer) replayAll(w io.Writer, sessions []sessionInfo) error {
	r := New(w, m.verbosity)
	for i, info := range sessions {
		if len(sessions) > 1 {
			printSessionHeader(w, info, i+1, len(sessions))
		}
		if err := r.Replay(info.Session); err != nil {
			return fmt.Errorf("failed to replay %s: %w", info.Source, err)
		}
		if i < len(sessions)-1 {
			fmt.Fprintln(w)
		}
	}
	return nil
}

var (
	sessionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("6"))

	sessionDividerStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("6"))
)

func printSessionHeader(w io.Writer, info sessionInfo, num, total int) {
	shortID := info.Session.ID
	if len(shortID) > 12 {
		shortID = shortID[:12]
	}
	header := fmt.Sprintf(" [%d/%d] %s #%d │ %s ", num, total, info.Session.Benchmark, info.Session.TaskIndex, shortID)

	fmt.Fprintln(w)
	fmt.Fprintln(w, sessionDividerStyle.Render(strings.Repeat("━", 70)))
	fmt.Fprintln(w, sessionHeaderStyle.Render(header))
	fmt.Fprintln(w, sessionDividerStyle.Render(strings.Repeat("━", 70)))
}
