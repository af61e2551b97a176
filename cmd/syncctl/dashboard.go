package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/i-melnichenko/consensus-lab/internal/statesync"
	"github.com/i-melnichenko/consensus-lab/internal/transport/grpc/syncsrv"
)

const refreshInterval = 500 * time.Millisecond

// ---- Data types -------------------------------------------------------------

type replicaConn struct {
	addr   string
	client *syncsrv.PeerClient
}

type replicaRow struct {
	addr         string
	stage        statesync.StageTag
	hasTarget    bool
	checkptID    statesync.Checksum128
	op           uint64
	trailers     []statesync.TrailerProgress
	transitioned string
	raftLeader   string
	raftTerm     int64
	err          string
}

// ---- Bubbletea messages -----------------------------------------------------

type tickMsg time.Time

type rowsMsg struct {
	rows []replicaRow
	ts   time.Time
}

// ---- Lipgloss styles --------------------------------------------------------

type uiStyles struct {
	dotIdle     lipgloss.Style
	dotActive   lipgloss.Style
	dotErr      lipgloss.Style
	dotSelected lipgloss.Style
	addr        lipgloss.Style
	stageVal    lipgloss.Style
	targetVal   lipgloss.Style
	barDone     lipgloss.Style
	barPending  lipgloss.Style
	header      lipgloss.Style
	appHeader   lipgloss.Style
	tsStyle     lipgloss.Style
	footer      lipgloss.Style
	divider     lipgloss.Style
	errKindSty  lipgloss.Style
	sumDim      lipgloss.Style
	sumActive   lipgloss.Style
	sumErrors   lipgloss.Style
}

var styles = buildStyles()

func buildStyles() uiStyles {
	return uiStyles{
		dotIdle:     lipgloss.NewStyle().Faint(true),
		dotActive:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
		dotErr:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
		dotSelected: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		addr:        lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("6")),
		stageVal:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		targetVal:   lipgloss.NewStyle().Faint(true),
		barDone:     lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		barPending:  lipgloss.NewStyle().Faint(true),
		header:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7")).Background(lipgloss.Color("8")),
		appHeader:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		tsStyle:     lipgloss.NewStyle().Faint(true),
		footer:      lipgloss.NewStyle().Faint(true),
		divider:     lipgloss.NewStyle().Faint(true),
		errKindSty:  lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		sumDim:      lipgloss.NewStyle().Faint(true),
		sumActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		sumErrors:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	}
}

// ---- Cell / line renderers ---------------------------------------------------

func renderStatusDot(stage statesync.StageTag, errStr string, selected bool) string {
	if selected {
		return styles.dotSelected.Render("▶") + " "
	}
	if errStr != "" {
		return styles.dotErr.Render("●") + " "
	}
	if stage == statesync.StageNotSyncing {
		return styles.dotIdle.Render("·") + " "
	}
	return styles.dotActive.Render("●") + " "
}

func renderTrailerBar(t statesync.TrailerProgress, width int) string {
	if !t.SizeKnown || t.Size == 0 {
		return strings.Repeat(" ", width)
	}
	filled := int(float64(t.NextOffset) / float64(t.Size) * float64(width))
	filled = clampInt(filled, 0, width)
	if t.Done {
		filled = width
	}
	return styles.barDone.Render(strings.Repeat("#", filled)) + styles.barPending.Render(strings.Repeat(".", width-filled))
}

func makeTrailerLine(t statesync.TrailerProgress, barWidth int) string {
	state := "pending"
	if t.Done {
		state = "done"
	} else if t.SizeKnown {
		state = "writing"
	}
	return fmt.Sprintf("    %-15s [%s] %-7s %d/%d",
		t.Kind.String(), renderTrailerBar(t, barWidth), state, t.NextOffset, t.Size)
}

func makeRowLines(r replicaRow, selected bool, barWidth int) []string {
	dot := renderStatusDot(r.stage, r.err, selected)
	if r.err != "" {
		return []string{dot + styles.addr.Render(r.addr) + "  " + styles.errKindSty.Render(errorSummary(r.err))}
	}

	target := styles.targetVal.Render("-")
	if r.hasTarget {
		target = styles.targetVal.Render(fmt.Sprintf("checkpoint=%016x%016x op=%d", r.checkptID.Hi, r.checkptID.Lo, r.op))
	}
	raft := styles.targetVal.Render(fmt.Sprintf("raft(leader=%s term=%d)", leaderOrSelf(r.raftLeader), r.raftTerm))
	head := dot + styles.addr.Render(fmt.Sprintf("%-22s", r.addr)) + " " +
		styles.stageVal.Render(fmt.Sprintf("%-18s", r.stage.String())) + " " + target +
		"  " + styles.targetVal.Render(r.transitioned) + "  " + raft

	lines := []string{head}
	for _, t := range r.trailers {
		lines = append(lines, makeTrailerLine(t, barWidth))
	}
	return lines
}

func leaderOrSelf(id string) string {
	if id == "" {
		return "unknown"
	}
	return id
}

func renderSummary(rows []replicaRow) string {
	total := len(rows)
	active, errs := 0, 0
	for _, r := range rows {
		if r.err != "" {
			errs++
			continue
		}
		if r.stage != statesync.StageNotSyncing {
			active++
		}
	}
	bracket := func(st lipgloss.Style, label string, n int) string {
		return styles.sumDim.Render("[") + st.Render(fmt.Sprintf("%d", n)) + styles.sumDim.Render(" "+label+"]")
	}
	return strings.Join([]string{
		bracket(lipgloss.NewStyle(), "total", total),
		bracket(styles.sumActive, "syncing", active),
		bracket(styles.sumErrors, "errors", errs),
	}, " ")
}

// ---- Bubbletea model ---------------------------------------------------------

type dashboardModel struct {
	rows       []replicaRow
	ts         time.Time
	conns      []replicaConn
	timeout    time.Duration
	width      int
	height     int
	cursor     int
	selectedID string
}

func newDashboardModel(conns []replicaConn, timeout time.Duration) dashboardModel {
	return dashboardModel{conns: conns, timeout: timeout, width: 100, height: 30}
}

func (m dashboardModel) Init() tea.Cmd {
	return m.pollCmd()
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, m.pollCmd()

	case rowsMsg:
		m.rows = msg.rows
		m.ts = msg.ts
		m.restoreSelection()
		tickFn := func(t time.Time) tea.Msg { return tickMsg(t) }
		return m, tea.Tick(refreshInterval, tickFn)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			m.moveCursor(-1)
		case "down", "j":
			m.moveCursor(1)
		}
	}
	return m, nil
}

func (m dashboardModel) View() string {
	contentWidth := m.width - 2
	if contentWidth <= 0 {
		contentWidth = 78
	}
	barWidth := clampInt(contentWidth-40, 10, 40)

	var b strings.Builder
	b.WriteString("  ")
	b.WriteString(styles.appHeader.Render("syncctl"))
	b.WriteString("  ")
	b.WriteString(styles.tsStyle.Render(m.ts.Format(time.RFC3339)))
	b.WriteString("\n")

	b.WriteString(renderSummary(m.rows))
	b.WriteString("\n\n")

	header := fmt.Sprintf("%-2s %-22s %-18s %s", "ST", "ADDR", "STAGE", "TARGET")
	b.WriteString(styles.header.Width(contentWidth).MaxWidth(contentWidth).Render(header))
	b.WriteString("\n")

	for i, r := range m.rows {
		for _, line := range makeRowLines(r, i == m.cursor, barWidth) {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString("  ")
	b.WriteString(styles.footer.Render("Ctrl+C to exit"))

	out := b.String()
	if m.height > 0 {
		lines := strings.Split(out, "\n")
		for len(lines) < m.height {
			lines = append(lines, "")
		}
		return strings.Join(lines, "\n")
	}
	return out
}

func (m *dashboardModel) restoreSelection() {
	if m.selectedID == "" {
		if len(m.rows) > 0 {
			m.cursor = 0
			m.selectedID = m.rows[0].addr
		}
		return
	}
	for i, r := range m.rows {
		if r.addr == m.selectedID {
			m.cursor = i
			return
		}
	}
	if m.cursor >= len(m.rows) {
		m.cursor = maxInt(0, len(m.rows)-1)
	}
	if len(m.rows) > 0 {
		m.selectedID = m.rows[m.cursor].addr
	}
}

func (m *dashboardModel) moveCursor(delta int) {
	if len(m.rows) == 0 {
		return
	}
	m.cursor = clampInt(m.cursor+delta, 0, len(m.rows)-1)
	m.selectedID = m.rows[m.cursor].addr
}

func (m dashboardModel) pollCmd() tea.Cmd {
	conns := m.conns
	timeout := m.timeout
	return func() tea.Msg {
		rows, ts := pollStatus(context.Background(), conns, timeout)
		return rowsMsg{rows: rows, ts: ts}
	}
}

// ---- Pure logic --------------------------------------------------------------

func cmdDashboard(addrs []string, timeout time.Duration) error {
	conns, err := openConns(addrs)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range conns {
			_ = c.client.Close()
		}
	}()

	p := tea.NewProgram(newDashboardModel(conns, timeout), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func openConns(addrs []string) ([]replicaConn, error) {
	conns := make([]replicaConn, 0, len(addrs))
	for _, addr := range addrs {
		client, err := syncsrv.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			for _, c := range conns {
				_ = c.client.Close()
			}
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		conns = append(conns, replicaConn{addr: addr, client: client})
	}
	return conns, nil
}

func pollStatus(ctx context.Context, conns []replicaConn, timeout time.Duration) ([]replicaRow, time.Time) {
	rows := make([]replicaRow, len(conns))
	var wg sync.WaitGroup
	wg.Add(len(conns))

	for i, c := range conns {
		go func(i int, c replicaConn) {
			defer wg.Done()

			reqCtx, cancel := context.WithTimeout(ctx, timeout)
			snap, err := c.client.GetStatus(reqCtx)
			cancel()
			if err != nil {
				rows[i] = replicaRow{addr: c.addr, err: err.Error()}
				return
			}
			transitioned := ""
			if snap.LastTransitionAt != nil {
				transitioned = "t=" + snap.LastTransitionAt.AsTime().Local().Format("15:04:05")
			}
			rows[i] = replicaRow{
				addr:         c.addr,
				stage:        snap.Stage,
				hasTarget:    snap.HasTarget,
				checkptID:    snap.Target.CheckpointID,
				op:           uint64(snap.Target.CheckpointOp),
				trailers:     snap.Trailers,
				transitioned: transitioned,
				raftLeader:   snap.Raft.LeaderID,
				raftTerm:     snap.Raft.Term,
			}
		}(i, c)
	}

	wg.Wait()

	sort.Slice(rows, func(i, j int) bool { return rows[i].addr < rows[j].addr })
	return rows, time.Now()
}

func errorSummary(err string) string {
	err = strings.TrimSpace(err)
	err = strings.ReplaceAll(err, "\n", " ")
	return strings.Join(strings.Fields(err), " ")
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
