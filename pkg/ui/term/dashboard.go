package term

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"apps-console/pkg/releases"
)

// ReleaseTable renders releases as a bordered table.
func ReleaseTable(list []releases.Release) string {
	rows := make([][]string, 0, len(list))
	for _, r := range list {
		update := ""
		if r.UpdateAvailable {
			update = r.LatestVersion
		}
		rows = append(rows, []string{r.Name, statusCell(r.Status), r.ChartName, r.Version, update, r.Count, r.UsedPorts})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("NAME", "STATUS", "CHART", "VERSION", "UPDATE", "PODS", "PORTS").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		String()
}

// PlaceholderView renders the empty-page content of a state.
func PlaceholderView(p releases.Placeholder) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(p.Title))
	if p.Message != "" {
		b.WriteString("\n" + p.Message)
	}
	if p.CallToAction == releases.ActionViewCatalog {
		b.WriteString("\n\n" + helpStyle.Render("Browse the catalog with: appsctl catalog list"))
	}
	return b.String()
}

type snapshotMsg releases.Snapshot

type closedMsg struct{}

// Dashboard is the live release view of `appsctl watch`.
type Dashboard struct {
	snapshot releases.Snapshot
	updates  <-chan releases.Snapshot
	refresh  func()
}

// NewDashboard renders snapshots from updates; refresh is called when the user presses r.
func NewDashboard(initial releases.Snapshot, updates <-chan releases.Snapshot, refresh func()) Dashboard {
	return Dashboard{snapshot: initial, updates: updates, refresh: refresh}
}

func (d Dashboard) wait() tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-d.updates
		if !ok {
			return closedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func (d Dashboard) Init() tea.Cmd { return d.wait() }

func (d Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		d.snapshot = releases.Snapshot(msg)
		return d, d.wait()
	case closedMsg:
		return d, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return d, tea.Quit
		case "r":
			if d.refresh != nil {
				d.refresh()
			}
		}
	}
	return d, nil
}

func (d Dashboard) View() string {
	var body string
	if d.snapshot.Placeholder != nil {
		body = PlaceholderView(*d.snapshot.Placeholder)
	} else {
		body = ReleaseTable(d.snapshot.Releases)
	}
	if d.snapshot.Error != "" {
		body += "\n" + errorStyle.Render(d.snapshot.Error)
	}
	header := titleStyle.Render("Installed Applications")
	footer := helpStyle.Render(fmt.Sprintf("%d releases • r refresh • q quit", len(d.snapshot.Releases)))
	return lipgloss.JoinVertical(lipgloss.Left, header, "", body, "", footer)
}

// Snapshot returns the last rendered snapshot.
func (d Dashboard) Snapshot() releases.Snapshot { return d.snapshot }
