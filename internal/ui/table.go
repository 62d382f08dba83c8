package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/BioHazard786/discushy/internal/media"
	"github.com/BioHazard786/discushy/internal/roster"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// DeviceTable renders capture devices as a plain-text table.
func DeviceTable(devices []media.DeviceInfo) string {
	if len(devices) == 0 {
		return MutedStyle.Render("No capture devices")
	}

	t := prettytable.NewWriter()
	t.SetStyle(prettytable.StyleRounded)
	t.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}
	t.AppendHeader(prettytable.Row{"#", "Kind", "ID", "Label"})
	for i, d := range devices {
		kind := string(d.Kind)
		if d.Display {
			kind = "screen"
		}
		t.AppendRow(prettytable.Row{i + 1, kind, d.ID, truncate(d.Label, 40)})
	}
	t.SortBy([]prettytable.SortBy{{Name: "Kind", Mode: prettytable.Asc}})
	return t.Render()
}

// RenderDeviceTable writes DeviceTable to w.
func RenderDeviceTable(w io.Writer, devices []media.DeviceInfo) {
	fmt.Fprintln(w, DeviceTable(devices))
}

// ParticipantTable is the roster as a compact table, used when the view
// is too narrow for tiles.
func ParticipantTable(tiles []roster.Tile) string {
	if len(tiles) == 0 {
		return MutedStyle.Render("Nobody here yet")
	}

	rows := make([][]string, 0, len(tiles))
	for _, tile := range tiles {
		rows = append(rows, []string{tileName(tile), tileStatus(tile)})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Participant", "Status").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func tileName(tile roster.Tile) string {
	name := tile.UserName
	if name == "" {
		name = tile.UserID
	}
	name = truncate(name, 18)
	if tile.IsSelf {
		name += " (you)"
	}
	if tile.UserRole == "host" {
		name = IconHost + " " + name
	}
	return name
}

func tileStatus(tile roster.Tile) string {
	var parts []string
	if tile.IsMuted {
		parts = append(parts, IconMicOff)
	} else {
		parts = append(parts, IconMic)
	}
	if tile.IsCameraOff {
		parts = append(parts, IconCameraOff)
	} else {
		parts = append(parts, IconCamera)
	}
	if tile.IsSpeaking {
		parts = append(parts, IconSpeaking)
	}
	if tile.IsSharing {
		parts = append(parts, IconScreen)
	}
	return strings.Join(parts, " ")
}

// RoomInfo is the banner printed before the meeting view starts.
type RoomInfo struct {
	RoomID   string
	RoomLink string
	Created  bool
}

// View renders the room box.
func (r RoomInfo) View() string {
	title := "Joining room"
	if r.Created {
		title = "Room created!"
	}
	content := fmt.Sprintf("%s %s\n\n%s Room code:  %s\n%s Room link:  %s",
		IconRoom, title,
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconWeb, MutedStyle.Render(r.RoomLink),
	)
	return RoomBoxStyle.Render(content)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
