package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/glimte/mmate-router/routing"
)

var (
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	mutedColor     = lipgloss.Color("#6B7280")

	titleStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	okStyle = lipgloss.NewStyle().Foreground(secondaryColor)

	defaultStyle = lipgloss.NewStyle().Foreground(warningColor)

	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(mutedColor)).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func printEndpoints(w io.Writer, registry *routing.EndpointRegistry) {
	endpoints := registry.Endpoints()
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Endpoints (%d)", len(endpoints))))
	if len(endpoints) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No endpoints configured"))
		return
	}

	publish, _ := registry.DefaultPublishEndpoint()
	reply, _ := registry.DefaultReplyEndpoint()

	t := newTable("NAME", "DIRECTION", "HOST", "ENTITY", "TRANSPORT", "DEFAULT")
	for _, ep := range endpoints {
		entity := ep.Connection.EntityPath
		if ep.Connection.IsWildcard() {
			entity = "*"
		}
		var marks string
		switch {
		case ep == publish && ep == reply:
			marks = "publish, reply"
		case ep == publish:
			marks = "publish"
		case ep == reply:
			marks = "reply"
		}
		t.Row(ep.Name, ep.Direction.String(), ep.Connection.Host, entity, ep.Transport, defaultStyle.Render(marks))
	}
	fmt.Fprintln(w, t.Render())
}

func printRoutes(w io.Writer, registry *routing.EndpointRegistry) {
	routes := registry.Routes()
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Routes (%d)", len(routes))))

	if len(routes) > 0 {
		t := newTable("MESSAGE TYPE", "ENDPOINT", "ENTITY")
		for _, r := range routes {
			t.Row(r.MessageTypeID, r.Endpoint.Name, r.Endpoint.Connection.EntityPath)
		}
		fmt.Fprintln(w, t.Render())
	} else {
		fmt.Fprintln(w, mutedStyle.Render("No explicit routes"))
	}

	if ep, ok := registry.DefaultPublishEndpoint(); ok {
		fmt.Fprintln(w, defaultStyle.Render("Unrouted messages are published to "+ep.Name))
	}
}

func printEndpoint(w io.Writer, key string, ep *routing.Endpoint) {
	name := ep.Name
	if ep.Computed {
		name += mutedStyle.Render(" (computed)")
	}
	fmt.Fprintf(w, "%s → %s\n", key, okStyle.Render(name))
	fmt.Fprintf(w, "  direction:  %s\n", ep.Direction)
	fmt.Fprintf(w, "  connection: %s\n", ep.Connection)
	fmt.Fprintf(w, "  transport:  %s\n", ep.Transport)
}
