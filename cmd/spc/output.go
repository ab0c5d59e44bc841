package main

import (
	"encoding/json"
	"fmt"
	"io"

	"composition-spc/analysis/report"
	apitypes "composition-spc/pkg/api"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const rule = "══════════════════════════════════════════════════════════════════════════════"

func boxLine(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "║  %-74s  ║\n", truncate(fmt.Sprintf(format, args...), 74))
}

func writeAnalyzeTable(w io.Writer, resp apitypes.AnalyzeResponse) error {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔"+rule+"╗")
	boxLine(w, "COMPOSITION SPC REPORT  %s", resp.Product)
	fmt.Fprintln(w, "╠"+rule+"╣")
	boxLine(w, "Window:        %s", windowLabel(resp))
	boxLine(w, "Sigma (k):     %.2f", resp.Sigma)
	boxLine(w, "Rows analyzed: %d of %d", resp.RowsAnalyzed, resp.RowsLoaded)
	boxLine(w, "Outliers:      %d", resp.Summary.Outliers)
	boxLine(w, "Out of spec:   %d", resp.Summary.OutOfSpec)
	boxLine(w, "Items flagged: %d of %d", resp.Summary.Items, resp.Summary.ItemsAnalyzed)
	fmt.Fprintln(w, "╠"+rule+"╣")

	if len(resp.Items) > 0 {
		boxLine(w, "%-10s %4s %9s %9s %9s %7s  %s", "ITEM", "N", "MEAN", "LCL", "UCL", "CPK", "JUDGMENT")
		for _, it := range resp.Items {
			boxLine(w, "%-10s %4d %9.3f %9.3f %9.3f %7s  %s",
				truncate(it.Item, 10), it.N, it.Mean, it.LCL, it.UCL, it.Capability.Cpk.String(), it.Judgment)
		}
		fmt.Fprintln(w, "╠"+rule+"╣")
	}

	if len(resp.Anomalies) == 0 {
		boxLine(w, "No anomalies in the selected window")
	} else {
		boxLine(w, "%-10s %-8s %-11s %8s %8s  %s", "DATE", "ITEM", "KIND", "ACTUAL", "MIX", "NOTE")
		for _, a := range resp.Anomalies {
			boxLine(w, "%-10s %-8s %-11s %8.3f %8.3f  %s",
				a.Date, truncate(a.Item, 8), a.Kind, a.Actual, a.Mix, a.Note)
		}
	}

	if len(resp.Warnings) > 0 || len(resp.Notices) > 0 {
		fmt.Fprintln(w, "╠"+rule+"╣")
		for _, warn := range resp.Warnings {
			boxLine(w, "! %s", warn)
		}
		for _, n := range resp.Notices {
			boxLine(w, "- %s", n.Error())
		}
	}
	fmt.Fprintln(w, "╚"+rule+"╝")
	return nil
}

func writeAnalyzeMarkdown(w io.Writer, resp apitypes.AnalyzeResponse) error {
	fmt.Fprintf(w, "## Composition SPC Report: %s\n\n", resp.Product)
	fmt.Fprintln(w, "| Metric | Value |")
	fmt.Fprintln(w, "|--------|-------|")
	fmt.Fprintf(w, "| **Window** | %s |\n", windowLabel(resp))
	fmt.Fprintf(w, "| **Sigma (k)** | %.2f |\n", resp.Sigma)
	fmt.Fprintf(w, "| **Outliers** | %d |\n", resp.Summary.Outliers)
	fmt.Fprintf(w, "| **Out of spec** | %d |\n", resp.Summary.OutOfSpec)
	fmt.Fprintf(w, "| **Items flagged** | %d of %d |\n", resp.Summary.Items, resp.Summary.ItemsAnalyzed)

	if len(resp.Items) > 0 {
		fmt.Fprintln(w, "\n### Items")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "| Item | N | Mean | LCL | UCL | Out of spec | Cp | Cpk | PPM | p-value | Judgment |")
		fmt.Fprintln(w, "|------|---|------|-----|-----|-------------|----|-----|-----|---------|----------|")
		for _, it := range resp.Items {
			fmt.Fprintf(w, "| %s | %d | %.3f | %.3f | %.3f | %s | %s | %s | %s | %.4f | %s |\n",
				it.Item, it.N, it.Mean, it.LCL, it.UCL, it.OutOfSpecText(),
				it.Capability.Cp.String(), it.Capability.Cpk.String(), it.Capability.PPM.String(),
				it.PValue, it.Judgment)
		}
	}

	if len(resp.Anomalies) > 0 {
		fmt.Fprintln(w, "\n### Anomalies")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "| Date | Item | Kind | Actual | Mix | Note |")
		fmt.Fprintln(w, "|------|------|------|--------|-----|------|")
		for _, a := range resp.Anomalies {
			fmt.Fprintf(w, "| %s | %s | %s | %.3f | %.3f | %s |\n", a.Date, a.Item, a.Kind, a.Actual, a.Mix, a.Note)
		}
	}

	if len(resp.Warnings) > 0 {
		fmt.Fprintln(w, "\n### Warnings")
		fmt.Fprintln(w)
		for _, warn := range resp.Warnings {
			fmt.Fprintf(w, "- %s\n", warn)
		}
	}
	return nil
}

func writeItemTable(w io.Writer, product string, ia *report.ItemAnalysis, warnings []string) error {
	sum := apitypes.NewItemSummary(*ia)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔"+rule+"╗")
	boxLine(w, "%s / %s", product, ia.Item)
	fmt.Fprintln(w, "╠"+rule+"╣")
	boxLine(w, "N:             %d", sum.N)
	boxLine(w, "Mean ± s:      %.4f ± %.4f", sum.Mean, sum.StdDev)
	boxLine(w, "Control band:  [%.4f, %.4f]", sum.LCL, sum.UCL)
	boxLine(w, "Outliers:      %d (%.1f%%)", sum.Outliers, sum.OutlierRatio*100)
	boxLine(w, "Out of spec:   %s", sum.OutOfSpecText())
	fmt.Fprintln(w, "╠"+rule+"╣")
	if ia.Capability.Applicable() {
		c := ia.Capability
		boxLine(w, "Cp %s  Cpu %s  Cpl %s  Cpk %s", c.Cp.String(), c.Cpu.String(), c.Cpl.String(), c.Cpk.String())
		boxLine(w, "Expected PPM:  %s", c.PPM.String())
	} else {
		boxLine(w, "Capability:    no specification limits")
	}
	fmt.Fprintln(w, "╠"+rule+"╣")
	boxLine(w, "Mean deviation: %+.4f  p = %.4f", sum.MeanDeviation, sum.PValue)
	boxLine(w, "%s", sum.Judgment)
	boxLine(w, "%s", sum.Diagnosis)
	fmt.Fprintln(w, "╠"+rule+"╣")

	boxLine(w, "%-10s %9s %9s %9s %7s  %s", "DATE", "ACTUAL", "MIX", "DEV", "σ", "FLAGS")
	for _, p := range ia.Points {
		boxLine(w, "%-10s %9.3f %9.3f %+9.3f %7.2f  %s",
			p.Date.Format(apitypes.DateLayout), p.Actual, p.Mix, p.Deviation, p.SigmaDistance, pointFlags(p))
	}
	for _, warn := range warnings {
		boxLine(w, "! %s", warn)
	}
	fmt.Fprintln(w, "╚"+rule+"╝")
	return nil
}

func writeItemMarkdown(w io.Writer, product string, ia *report.ItemAnalysis, warnings []string) error {
	sum := apitypes.NewItemSummary(*ia)

	fmt.Fprintf(w, "## %s / %s\n\n", product, ia.Item)
	fmt.Fprintln(w, "| Metric | Value |")
	fmt.Fprintln(w, "|--------|-------|")
	fmt.Fprintf(w, "| **N** | %d |\n", sum.N)
	fmt.Fprintf(w, "| **Mean** | %.4f |\n", sum.Mean)
	fmt.Fprintf(w, "| **Std dev** | %.4f |\n", sum.StdDev)
	fmt.Fprintf(w, "| **Control band** | %.4f to %.4f |\n", sum.LCL, sum.UCL)
	fmt.Fprintf(w, "| **Out of spec** | %s |\n", sum.OutOfSpecText())
	fmt.Fprintf(w, "| **Cpk** | %s |\n", sum.Capability.Cpk.String())
	fmt.Fprintf(w, "| **PPM** | %s |\n", sum.Capability.PPM.String())
	fmt.Fprintf(w, "| **p-value** | %.4f |\n", sum.PValue)
	fmt.Fprintf(w, "| **Judgment** | %s |\n", sum.Judgment)

	fmt.Fprintln(w, "\n### Points")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Date | Actual | Mix | Deviation | σ | Flags |")
	fmt.Fprintln(w, "|------|--------|-----|-----------|---|-------|")
	for _, p := range ia.Points {
		fmt.Fprintf(w, "| %s | %.3f | %.3f | %+.3f | %.2f | %s |\n",
			p.Date.Format(apitypes.DateLayout), p.Actual, p.Mix, p.Deviation, p.SigmaDistance, pointFlags(p))
	}

	for _, warn := range warnings {
		fmt.Fprintf(w, "\n> %s\n", warn)
	}
	return nil
}

func pointFlags(p report.Point) string {
	switch {
	case p.Outlier && p.OutOfSpec:
		return "outlier, out of spec"
	case p.Outlier:
		return "outlier"
	case p.OutOfSpec:
		return "out of spec"
	}
	return ""
}

func windowLabel(resp apitypes.AnalyzeResponse) string {
	if resp.From != "" || resp.To != "" {
		return fmt.Sprintf("%s (%s .. %s)", resp.Window, resp.From, resp.To)
	}
	if resp.FirstDate != "" {
		return fmt.Sprintf("%s (%s .. %s)", resp.Window, resp.FirstDate, resp.LastDate)
	}
	return resp.Window
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
