// Package tui implements an interactive browser over the results of a scan session.
package tui

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ppiankov/wphunter/internal/aggregator"
	"github.com/ppiankov/wphunter/internal/models"
)

// mode represents the current UI interaction mode.
type mode int

const (
	modeNormal mode = iota
	modeSearch
	modeFilterFamily
)

const defaultTableHeight = 15

// Model is the top-level Bubble Tea model for the results browser.
type Model struct {
	// Data (immutable after init)
	session    *models.ScanSession
	summary    aggregator.Summary
	histogram  []int
	allResults []models.ResultRecord

	// UI state
	table           table.Model
	searchInput     textinput.Model
	filteredResults []models.ResultRecord
	filters         filterState
	sortBy          sortField
	mode            mode
	familyChoices   []string
	familyCursor    int
	width           int
	height          int
	statusMsg       string
	// clipboard is captured here for testing instead of writing to stdout
	clipboard string
}

// New creates a new TUI model over a session's results.
func New(session *models.ScanSession, results []models.ResultRecord, highRiskThreshold int) Model {
	all := make([]models.ResultRecord, len(results))
	copy(all, results)

	scored := make([]models.ScoredResult, 0, len(all))
	for _, r := range all {
		scored = append(scored, r.ScoredResult)
	}
	summary := aggregator.Summarize(scored, aggregator.Counters{Evaluated: len(scored)}, highRiskThreshold)

	sortResults(all, sortByScore)
	t := newTable(buildRows(all), defaultTableHeight)

	ti := textinput.New()
	ti.Placeholder = "search..."
	ti.CharLimit = 64

	return Model{
		session:         session,
		summary:         summary,
		histogram:       scoreHistogram(all),
		allResults:      all,
		filteredResults: all,
		table:           t,
		searchInput:     ti,
		sortBy:          sortByScore,
		mode:            modeNormal,
		familyChoices:   uniqueFamilies(all),
		width:           80,
		height:          24,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(msg.Width)
		tableH := msg.Height - headerHeight - detailHeight - 3
		if tableH < 3 {
			tableH = 3
		}
		m.table.SetHeight(tableH)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	switch m.mode {
	case modeSearch:
		m.searchInput, cmd = m.searchInput.Update(msg)
		return m, cmd
	default:
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.mode {
	case modeSearch:
		return m.handleSearchKey(msg)
	case modeFilterFamily:
		return m.handleFilterFamilyKey(msg)
	default:
		return m.handleNormalKey(msg)
	}
}

func (m Model) handleNormalKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Search):
		m.mode = modeSearch
		m.searchInput.Focus()
		return m, textinput.Blink
	case key.Matches(msg, keys.FilterFamily):
		m.mode = modeFilterFamily
		m.familyCursor = 0
		return m, nil
	case key.Matches(msg, keys.Severity):
		m.filters.Severity = nextSeverity(m.filters.Severity)
		m.rebuildTable()
		if m.filters.Severity != "" {
			m.statusMsg = fmt.Sprintf("Severity: %s", m.filters.Severity)
		} else {
			m.statusMsg = ""
		}
		return m, nil
	case key.Matches(msg, keys.Sort):
		m.sortBy = (m.sortBy + 1) % sortField(sortFieldCount)
		m.rebuildTable()
		m.statusMsg = fmt.Sprintf("Sort: %s", sortFieldName(m.sortBy))
		return m, nil
	case key.Matches(msg, keys.Copy):
		m.copySelectedResult()
		return m, nil
	case key.Matches(msg, keys.ClearFilter):
		m.filters = filterState{}
		m.statusMsg = ""
		m.rebuildTable()
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// nextSeverity cycles all -> critical -> ... -> info -> all
func nextSeverity(cur models.Severity) models.Severity {
	if cur == "" {
		return models.Severities[0]
	}
	for i, s := range models.Severities {
		if s == cur && i+1 < len(models.Severities) {
			return models.Severities[i+1]
		}
	}
	return ""
}

func (m Model) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.filters.SearchText = m.searchInput.Value()
		m.mode = modeNormal
		m.searchInput.Blur()
		m.rebuildTable()
		return m, nil
	case "esc":
		m.mode = modeNormal
		m.searchInput.Blur()
		m.searchInput.SetValue("")
		return m, nil
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	return m, cmd
}

func (m Model) handleFilterFamilyKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.familyCursor > 0 {
			m.familyCursor--
		}
	case "down", "j":
		if m.familyCursor < len(m.familyChoices) {
			m.familyCursor++
		}
	case "enter":
		if m.familyCursor == 0 {
			m.filters.Family = ""
		} else if m.familyCursor <= len(m.familyChoices) {
			m.filters.Family = m.familyChoices[m.familyCursor-1]
		}
		m.mode = modeNormal
		m.rebuildTable()
		if m.filters.Family != "" {
			m.statusMsg = fmt.Sprintf("Filter: %s", m.filters.Family)
		} else {
			m.statusMsg = ""
		}
	case "esc":
		m.mode = modeNormal
	}
	return m, nil
}

func (m *Model) rebuildTable() {
	filtered := applyFilters(m.allResults, m.filters)
	sortResults(filtered, m.sortBy)
	m.filteredResults = filtered
	m.table.SetRows(buildRows(filtered))
}

func (m *Model) selectedResult() *models.ResultRecord {
	cursor := m.table.Cursor()
	if cursor < 0 || cursor >= len(m.filteredResults) {
		return nil
	}
	return &m.filteredResults[cursor]
}

// copySelectedResult writes the selected result to clipboard via OSC 52.
func (m *Model) copySelectedResult() {
	r := m.selectedResult()
	if r == nil {
		m.statusMsg = "Nothing to copy"
		return
	}
	text := fmt.Sprintf("[%s] %s score %d", severityLabel(r.Severity()), r.Slug, r.Score)
	if len(r.SecurityFlags) > 0 {
		text += " -- " + strings.Join(r.SecurityFlags, "; ")
	}
	m.clipboard = text
	m.statusMsg = "Copied!"
	// OSC 52 clipboard escape: works in most modern terminals
	fmt.Printf("\033]52;c;%s\a", base64.StdEncoding.EncodeToString([]byte(text)))
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(renderHeader(m.session, m.summary, m.histogram, m.width))
	b.WriteString("\n")

	if m.mode == modeSearch {
		b.WriteString(styleSearchPrompt.Render("/ "))
		b.WriteString(m.searchInput.View())
		b.WriteString("\n")
	}

	if m.mode == modeFilterFamily {
		b.WriteString(m.renderFamilyFilter())
		b.WriteString("\n")
	}

	b.WriteString(m.table.View())
	b.WriteString("\n")

	b.WriteString(renderDetail(m.selectedResult(), m.width))
	b.WriteString("\n")

	b.WriteString(m.renderFooter())

	return b.String()
}

func (m *Model) renderFamilyFilter() string {
	var b strings.Builder
	b.WriteString("Filter by flag:\n")

	options := append([]string{"All"}, m.familyChoices...)
	for i, opt := range options {
		cursor := "  "
		if i == m.familyCursor {
			cursor = "> "
		}
		b.WriteString(fmt.Sprintf("%s%s\n", cursor, opt))
	}
	return b.String()
}

func (m *Model) renderFooter() string {
	left := "q:quit  /:search  f:flag  v:severity  s:sort  c:copy  esc:clear"
	right := fmt.Sprintf("%d/%d results", len(m.filteredResults), len(m.allResults))

	if m.statusMsg != "" {
		right = m.statusMsg + "  " + right
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}

	return styleFooter.Render(left + strings.Repeat(" ", gap) + right)
}

// Run starts the Bubble Tea program. Called from the results command.
func Run(session *models.ScanSession, results []models.ResultRecord, highRiskThreshold int) error {
	m := New(session, results, highRiskThreshold)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
