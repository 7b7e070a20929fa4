package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"StockScanner/internal/scanner"
)

var stateIcon = map[scanner.State]string{
	scanner.StateCompleted:     "✅",
	scanner.StateBudgetPaused:  "⏸",
	scanner.StateInterrupted:   "🛑",
	scanner.StateCircuitBroken: "⚠️",
	scanner.StateIdle:          "➖",
}

// FormatScanSummary renders one pass as a single line.
func FormatScanSummary(s scanner.Summary) string {
	icon := stateIcon[s.State]
	if icon == "" {
		icon = "•"
	}
	line := fmt.Sprintf("%s <b>%s</b> %s: 成功 %d / 跳過 %d / 失敗 %d",
		icon, html.EscapeString(s.Scanner), s.State, s.Success, s.Skipped, s.Failed)
	if !s.Finished.IsZero() {
		line += fmt.Sprintf(" (%s)", s.Finished.Sub(s.Started).Round(time.Second))
	}
	return line
}

// FormatCycleReport renders the summaries of one scheduled cycle.
// budget is the FinMind allowance the cycle started with, or -1 when
// unlimited.
func FormatCycleReport(at time.Time, budget int, summaries []scanner.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>StockScanner 排程</b> | %s\n", at.Format("2006-01-02 15:04"))
	if budget >= 0 {
		fmt.Fprintf(&b, "FinMind 額度: %d 次\n", budget)
	} else {
		b.WriteString("FinMind 額度: 不限\n")
	}
	b.WriteString("\n")
	if len(summaries) == 0 {
		b.WriteString("本輪無掃描執行\n")
	}
	for _, s := range summaries {
		b.WriteString(FormatScanSummary(s))
		b.WriteString("\n")
	}
	for _, s := range summaries {
		if s.State == scanner.StateCircuitBroken {
			fmt.Fprintf(&b, "\n⚠️ %s 連續失敗觸發熔斷，可能是額度耗盡或服務中斷\n", html.EscapeString(s.Scanner))
		}
	}
	return b.String()
}
