package main

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/objlink/objlink"
	"github.com/objlink/objlink/bridge"
	"github.com/objlink/objlink/native"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB")).
			Bold(true)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	strongStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	staleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	eventStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const eventLogSize = 8

// eventLog keeps the most recent cache events for display. Events can
// fire from any goroutine, so access is synchronized.
type eventLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *eventLog) OnCacheEvent(e bridge.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("%s  %-9s handle=0x%x seq=%d",
		time.Now().Format("15:04:05"), e.Type, uint64(e.Handle), e.Seq)
	l.lines = append(l.lines, line)
	if len(l.lines) > eventLogSize {
		l.lines = l.lines[len(l.lines)-eventLogSize:]
	}
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

type objectRow struct {
	handle  objlink.Handle
	class   string
	refs    uint32
	wrapped bool
	strong  bool
	stale   bool
	attrs   int
}

type watchModel struct {
	rt    *native.LocalRuntime
	cache *bridge.Cache
	log   *eventLog

	// wrappers holds the host-side references the inspector owns, so
	// eviction only happens after an explicit drop.
	wrappers map[objlink.Handle]*bridge.Instance

	rows     []objectRow
	selected int
	status   string
	nextID   int

	input     textinput.Model
	prompting bool
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func newWatchModel() *watchModel {
	rt := native.NewLocalRuntime()
	log := &eventLog{}
	cache := bridge.New(rt, bridge.WithObserver(log))

	ti := textinput.New()
	ti.Placeholder = "attribute value"
	ti.CharLimit = 64
	ti.Width = 32

	return &watchModel{
		rt:       rt,
		cache:    cache,
		log:      log,
		wrappers: make(map[objlink.Handle]*bridge.Instance),
		input:    ti,
	}
}

func (m *watchModel) Init() tea.Cmd {
	return tick()
}

func (m *watchModel) refresh() {
	strong := make(map[objlink.Handle]bool)
	wrapped := make(map[objlink.Handle]*bridge.Instance)
	m.cache.Each(func(h objlink.Handle, inst *bridge.Instance, isStrong bool) bool {
		wrapped[h] = inst
		strong[h] = isStrong
		return true
	})

	m.rows = m.rows[:0]
	m.rt.Each(func(h objlink.Handle, class string, refs uint32) bool {
		row := objectRow{handle: h, class: class, refs: refs}
		if inst, ok := wrapped[h]; ok {
			row.wrapped = true
			row.strong = strong[h]
			row.stale = inst.Stale()
			row.attrs = attrCount(inst)
		}
		m.rows = append(m.rows, row)
		return true
	})
	if m.selected >= len(m.rows) {
		m.selected = len(m.rows) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

// attrCount reports how many attributes an instance carries, using the
// well-known names the inspector writes (attr-N).
func attrCount(inst *bridge.Instance) int {
	n := 0
	for i := 0; i < 16; i++ {
		if _, ok := inst.Attr(fmt.Sprintf("attr-%d", i)); ok {
			n++
		}
	}
	return n
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.refresh()
		return m, tick()

	case tea.KeyMsg:
		if m.prompting {
			return m.updatePrompt(msg)
		}
		return m.updateBrowse(msg)
	}
	return m, nil
}

func (m *watchModel) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		_ = m.rt.Close()
		return m, tea.Quit

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}

	case "down", "j":
		if m.selected < len(m.rows)-1 {
			m.selected++
		}

	case "n":
		m.nextID++
		h := m.rt.New(fmt.Sprintf("object-%d", m.nextID))
		m.status = fmt.Sprintf("created 0x%x", uint64(h))

	case "w":
		if row, ok := m.current(); ok {
			inst, err := m.cache.Wrap(row.handle)
			if err != nil {
				m.status = err.Error()
				break
			}
			m.wrappers[row.handle] = inst
			m.status = fmt.Sprintf("wrapped 0x%x", uint64(row.handle))
		}

	case "a":
		if row, ok := m.current(); ok {
			if _, held := m.wrappers[row.handle]; !held {
				m.status = "wrap the object first (w)"
				break
			}
			m.prompting = true
			m.input.SetValue("")
			m.input.Focus()
			return m, textinput.Blink
		}

	case "r":
		if row, ok := m.current(); ok {
			if err := m.rt.Release(row.handle); err != nil {
				m.status = err.Error()
			} else {
				m.status = fmt.Sprintf("released one native ref of 0x%x", uint64(row.handle))
			}
		}

	case "d":
		if row, ok := m.current(); ok {
			delete(m.wrappers, row.handle)
			m.status = fmt.Sprintf("dropped host refs to 0x%x", uint64(row.handle))
		}

	case "g":
		runtime.GC()
		m.status = "forced GC"
	}

	m.refresh()
	return m, nil
}

func (m *watchModel) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.prompting = false
		m.input.Blur()
		if row, ok := m.current(); ok {
			inst := m.wrappers[row.handle]
			name := fmt.Sprintf("attr-%d", attrCount(inst))
			if err := m.cache.SetAttr(inst, name, m.input.Value()); err != nil {
				m.status = err.Error()
			} else {
				m.status = fmt.Sprintf("set %s on 0x%x", name, uint64(row.handle))
			}
		}
		m.refresh()
		return m, nil

	case "esc":
		m.prompting = false
		m.input.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *watchModel) current() (objectRow, bool) {
	if m.selected < 0 || m.selected >= len(m.rows) {
		return objectRow{}, false
	}
	return m.rows[m.selected], true
}

func (m *watchModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("objlink cache inspector"))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-12s %-14s %5s  %-8s %-6s %s",
		"HANDLE", "CLASS", "REFS", "MODE", "ATTRS", "STATE")))
	b.WriteByte('\n')

	if len(m.rows) == 0 {
		b.WriteString(helpStyle.Render("  no native objects — press n to create one"))
		b.WriteByte('\n')
	}

	for i, row := range m.rows {
		mode := "-"
		if row.wrapped {
			mode = "weak"
			if row.strong {
				mode = "strong"
			}
		}
		state := ""
		if row.stale {
			state = staleStyle.Render("stale")
		}
		line := fmt.Sprintf("0x%-10x %-14s %5d  %-8s %-6d %s",
			uint64(row.handle), row.class, row.refs, mode, row.attrs, state)
		switch {
		case i == m.selected:
			line = selectedStyle.Render(line)
		case row.strong:
			line = strongStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	s := m.cache.Stats()
	b.WriteString(fmt.Sprintf("\nlive=%d strong=%d hits=%d misses=%d evictions=%d removals=%d\n",
		s.Live, s.Strong, s.Hits, s.Misses, s.Evictions, s.Removals))

	if lines := m.log.snapshot(); len(lines) > 0 {
		b.WriteByte('\n')
		for _, line := range lines {
			b.WriteString(eventStyle.Render(line))
			b.WriteByte('\n')
		}
	}

	if m.prompting {
		b.WriteString("\nattribute value: " + m.input.View() + "\n")
		b.WriteString(helpStyle.Render("enter to set, esc to cancel"))
		b.WriteByte('\n')
	} else {
		if m.status != "" {
			b.WriteString("\n" + m.status + "\n")
		}
		b.WriteString(helpStyle.Render(
			"\nn new · w wrap · a attr · r release · d drop host refs · g gc · q quit"))
		b.WriteByte('\n')
	}

	return b.String()
}

func runInteractive() error {
	p := tea.NewProgram(newWatchModel())
	_, err := p.Run()
	return err
}
