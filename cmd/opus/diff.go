package main

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const diffContext = 3

type hunk struct {
	oldStart, oldCount int
	newStart, newCount int
	lines              []string
}

// unifiedDiff renders a line based diff of before and after. It returns ""
// when they are equal.
func unifiedDiff(beforeName, afterName, before, after string) string {
	dmp := diffmatchpatch.New()
	chars1, chars2, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(chars1, chars2, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var hunks []hunk
	var cur *hunk
	oldLine, newLine := 1, 1
	var trailing []string

	for i, d := range diffs {
		if d.Text == "" {
			continue
		}
		lines := strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n")

		switch d.Type {
		case diffmatchpatch.DiffEqual:
			if cur != nil {
				last := i == len(diffs)-1
				if len(lines) > 2*diffContext || last {
					n := min(diffContext, len(lines))
					for _, l := range lines[:n] {
						cur.lines = append(cur.lines, " "+l)
						cur.oldCount++
						cur.newCount++
					}
					hunks = append(hunks, *cur)
					cur = nil
				} else {
					for _, l := range lines {
						cur.lines = append(cur.lines, " "+l)
						cur.oldCount++
						cur.newCount++
					}
				}
			}
			trailing = lines
			oldLine += len(lines)
			newLine += len(lines)

		case diffmatchpatch.DiffDelete, diffmatchpatch.DiffInsert:
			if cur == nil {
				lead := trailing[max(0, len(trailing)-diffContext):]
				cur = &hunk{oldStart: oldLine - len(lead), newStart: newLine - len(lead)}
				for _, l := range lead {
					cur.lines = append(cur.lines, " "+l)
					cur.oldCount++
					cur.newCount++
				}
			}
			prefix := "+"
			if d.Type == diffmatchpatch.DiffDelete {
				prefix = "-"
			}
			for _, l := range lines {
				cur.lines = append(cur.lines, prefix+l)
				if d.Type == diffmatchpatch.DiffDelete {
					cur.oldCount++
				} else {
					cur.newCount++
				}
			}
			if d.Type == diffmatchpatch.DiffDelete {
				oldLine += len(lines)
			} else {
				newLine += len(lines)
			}
			trailing = nil
		}
	}
	if cur != nil {
		hunks = append(hunks, *cur)
	}
	if len(hunks) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", beforeName, afterName)
	for _, h := range hunks {
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.oldStart, h.oldCount, h.newStart, h.newCount)
		for _, l := range h.lines {
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
