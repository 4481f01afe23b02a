// Package tui provides the CLI output surface. Simple, streaming, no
// complex TUI - just clean prompts and output.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
)

// PrintHeader prints the tool banner.
func PrintHeader(version string) {
	fmt.Println()
	fmt.Println(titleStyle.Render("  COMBATSCRIBE") + mutedStyle.Render(" v"+version))
	fmt.Println(mutedStyle.Render("  Combat log normalizer for language-model training data"))
	fmt.Println()
}

// RunReport summarizes a completed normalization run.
type RunReport struct {
	SessionsIn   int
	SessionsKept int
	TriplesIn    int
	TriplesOut   int
	Duration     time.Duration
}

// PrintRunReport prints results after normalization.
func PrintRunReport(report *RunReport) {
	fmt.Println()
	fmt.Println(successStyle.Render("  ✓ NORMALIZATION COMPLETE"))
	fmt.Println()
	fmt.Printf("  %s %s → %s\n",
		mutedStyle.Render("Instances:"),
		titleStyle.Render(formatNumber(int64(report.SessionsIn))),
		titleStyle.Render(formatNumber(int64(report.SessionsKept))))
	fmt.Printf("  %s %s → %s\n",
		mutedStyle.Render("Triples:"),
		titleStyle.Render(formatNumber(int64(report.TriplesIn))),
		titleStyle.Render(formatNumber(int64(report.TriplesOut))))

	if report.Duration > 0 {
		throughput := float64(report.TriplesIn) / report.Duration.Seconds()
		fmt.Printf("  %s %s %s\n",
			mutedStyle.Render("Time:"),
			titleStyle.Render(formatDuration(report.Duration)),
			mutedStyle.Render(fmt.Sprintf("(%s triples/sec)", formatNumber(int64(throughput)))))
	}
	fmt.Println()
}

// PrintSkipped notes a session skipped by checkpoint resume.
func PrintSkipped(sessionID string) {
	fmt.Printf("  %s %s\n",
		mutedStyle.Render("↷ skipped (checkpoint):"),
		mutedStyle.Render(sessionID))
}

// PrintError reports a session that failed outright.
func PrintError(sessionID string, err error) {
	fmt.Printf("  %s %s: %v\n",
		accentStyle.Render("✗"),
		titleStyle.Render(sessionID),
		err)
}

// ClearLine clears the current line.
func ClearLine() {
	fmt.Print("\r\033[K")
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// ShowProgress creates a progress bar over the session files.
func ShowProgress(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// Spinner shows a simple loading indicator.
func Spinner(message string, done chan bool) {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	i := 0
	for {
		select {
		case <-done:
			fmt.Printf("\r%s %s\n", successStyle.Render("✓"), message)
			return
		default:
			fmt.Printf("\r%s %s", accentStyle.Render(frames[i]), message)
			i = (i + 1) % len(frames)
			time.Sleep(80 * time.Millisecond)
		}
	}
}
