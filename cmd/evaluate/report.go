package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

func writeResults(path string, results []CaseResult) error {
	raw, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// renderReport produces the markdown results table.
func renderReport(results []CaseResult) string {
	var b strings.Builder
	b.WriteString("# 评估报告\n\n")
	b.WriteString("| 用例ID | HTTP | 耗时ms | 通过 | 状态 | 疾病 | 备注 |\n")
	b.WriteString("| --- | --- | ---: | --- | --- | --- | --- |\n")

	passed := 0
	for _, r := range results {
		mark := "❌"
		if r.Pass {
			mark = "✅"
			passed++
		}
		fmt.Fprintf(&b, "| %s | %d | %d | %s | %s | %s | %s |\n",
			r.ID, r.HTTP, r.DurationMS, mark, r.Result.Status, r.Result.DiseaseName, cell(r.Error))
	}
	fmt.Fprintf(&b, "\n通过 %d/%d\n", passed, len(results))
	return b.String()
}

func cell(s string) string {
	return strings.NewReplacer("|", "\\|", "\n", " ").Replace(s)
}

func failures(results []CaseResult) []string {
	var ids []string
	for _, r := range results {
		if !r.Pass {
			ids = append(ids, r.ID)
		}
	}
	return ids
}
