package report

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/starford/driftguard/internal/models"
)

// SnapshotLine is the one-line confirmation printed after a snapshot.
func SnapshotLine(m *models.Manifest) string {
	sum := m.Summary()
	line := fmt.Sprintf("Snapshot taken and saved (%s, %s",
		plural(sum.Files, "file"), humanize.Bytes(uint64(sum.TotalBytes)))
	if sum.Unreadable > 0 {
		line += fmt.Sprintf(", %d unreadable", sum.Unreadable)
	}
	return line + ")"
}

// BaselineLines describes a stored baseline for the baseline command.
func BaselineLines(m *models.Manifest) []string {
	sum := m.Summary()
	return []string{
		"Root:       " + m.Root,
		fmt.Sprintf("Taken at:   %s (%s)", m.TakenAt.Local().Format("2006-01-02 15:04:05 MST"), humanize.Time(m.TakenAt)),
		fmt.Sprintf("Files:      %d (%s)", sum.Files, humanize.Bytes(uint64(sum.TotalBytes))),
		fmt.Sprintf("Unreadable: %d", sum.Unreadable),
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return humanize.Comma(int64(n)) + " " + noun + "s"
}
