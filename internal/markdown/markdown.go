// Package markdown implements the Taskell-compatible Markdown codec
// (§4.7, component C7): Serialize renders a board deterministically;
// Parse reads it back, collecting non-fatal, line-numbered errors instead
// of aborting.
//
// No file in the retrieved pack implements a Markdown codec directly —
// this is grounded on the teacher's JSONL persistence helpers
// (internal/sqlite/crumbs_table.go persistAllCrumbsJSONL/persistTableJSONL)
// for the "serialize a table to a git-friendly text format" shape, and on
// the relative-date/line-oriented parsing style of
// internal/validate/date.go (itself following §9's "standalone state
// machine" note) for Parse's single-pass, line-by-line structure.
package markdown

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kaban-dev/kaban/internal/validate"
	"github.com/kaban-dev/kaban/pkg/types"
)

// Board is the minimal view Serialize needs: a name, its columns, and
// each column's tasks. Kept separate from types.Board/Column/Task so the
// codec does not depend on the store's full row shape.
type Board struct {
	Name    string
	Columns []Column
}

type Column struct {
	Config types.ColumnConfig
	Tasks  []types.Task
}

// Serialize renders board per the export grammar in §4.7: a "# <board>"
// header, "## <name>" column headers with WIP/terminal metadata comments,
// and "- <title>" task items with 4-space-indented sub-lines. Archived
// tasks are excluded unless opts.IncludeArchived; the "<!-- id:... -->"
// trailer is emitted iff opts.IncludeMetadata.
func Serialize(board Board, opts types.MarkdownExportOptions) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", escapeLine(board.Name))

	for _, col := range board.Columns {
		fmt.Fprintf(&b, "## %s\n", escapeLine(col.Config.Name))
		if col.Config.WipLimit > 0 {
			fmt.Fprintf(&b, "<!-- WIP Limit: %d -->\n", col.Config.WipLimit)
		}
		if col.Config.IsTerminal {
			b.WriteString("<!-- Terminal column -->\n")
		}
		b.WriteString("\n")

		tasks := make([]types.Task, 0, len(col.Tasks))
		for _, t := range col.Tasks {
			if t.Archived && !opts.IncludeArchived {
				continue
			}
			tasks = append(tasks, t)
		}
		sort.SliceStable(tasks, func(i, j int) bool {
			if tasks[i].Position != tasks[j].Position {
				return tasks[i].Position < tasks[j].Position
			}
			return tasks[i].ID < tasks[j].ID
		})

		for _, t := range tasks {
			writeTask(&b, t, opts)
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeTask(b *strings.Builder, t types.Task, opts types.MarkdownExportOptions) {
	b.WriteString("- ")
	b.WriteString(escapeLine(t.Title))
	if opts.IncludeMetadata {
		fmt.Fprintf(b, " <!-- id:%s -->", t.ID)
	}
	b.WriteString("\n")

	if t.DueDate != nil {
		fmt.Fprintf(b, "    @ %s", validate.FormatDate(*t.DueDate))
		if t.CompletedAt != nil {
			b.WriteString(" ✓")
		}
		b.WriteString("\n")
	} else if t.CompletedAt != nil {
		b.WriteString("    @ done ✓\n")
	}

	if len(t.Labels) > 0 {
		fmt.Fprintf(b, "    # %s\n", strings.Join(t.Labels, ", "))
	}

	if t.AssignedTo != "" {
		fmt.Fprintf(b, "    @ assigned: %s\n", t.AssignedTo)
	}

	if t.Description != "" {
		for _, line := range strings.Split(t.Description, "\n") {
			fmt.Fprintf(b, "    > %s\n", escapeLine(line))
		}
	}
}

// escapeLine doubles backslashes and escapes a literal "<!--" so metadata
// comments stay unambiguous on round-trip (§4.7).
func escapeLine(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "<!--", `\<!--`)
	return s
}

func unescapeLine(s string) string {
	s = strings.ReplaceAll(s, `\<!--`, "<!--")
	s = strings.ReplaceAll(s, `\\`, `\`)
	return s
}

const idTrailerPattern = `<!-- id:`

// Parse reads a Markdown document per §4.7's parse grammar: line-oriented,
// single-pass, sensitive to a 4-space indent boundary. Unknown indented
// lines under a task are ignored but not fatal; a malformed date produces
// a line-numbered ParseError instead of aborting.
func Parse(doc string) types.ParsedBoard {
	lines := strings.Split(doc, "\n")
	result := types.ParsedBoard{}

	var curColumn *types.ParsedColumn
	var curTask *types.ParsedTask

	flushTask := func() {
		if curTask != nil && curColumn != nil {
			curColumn.Tasks = append(curColumn.Tasks, *curTask)
		}
		curTask = nil
	}
	flushColumn := func() {
		flushTask()
		if curColumn != nil {
			result.Columns = append(result.Columns, *curColumn)
		}
		curColumn = nil
	}

	for i, raw := range lines {
		lineNo := i + 1
		line := strings.TrimRight(raw, "\r")

		switch {
		case strings.HasPrefix(line, "# "):
			result.BoardName = unescapeLine(strings.TrimSpace(line[2:]))

		case strings.HasPrefix(line, "## "):
			flushColumn()
			name := unescapeLine(strings.TrimSpace(line[3:]))
			curColumn = &types.ParsedColumn{Name: name}

		case strings.HasPrefix(line, "<!-- WIP Limit:") && curColumn != nil:
			n := strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(line, "<!-- WIP Limit:")), "-->")
			if limit, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
				curColumn.WipLimit = limit
			}

		case strings.HasPrefix(line, "<!-- Terminal column") && curColumn != nil:
			curColumn.IsTerminal = true

		case strings.HasPrefix(line, "- ") && curColumn != nil:
			flushTask()
			title, id := parseTaskLine(line[2:])
			curTask = &types.ParsedTask{Title: title, ID: id}

		case strings.HasPrefix(line, "    ") && curTask != nil:
			parseTaskSubline(line[4:], curTask, lineNo, &result.Errors)

		case strings.TrimSpace(line) == "":
			// blank line: no state change.

		default:
			// unknown top-level line outside any recognized block; ignored.
		}
	}
	flushColumn()

	return result
}

func parseTaskLine(rest string) (title, id string) {
	if idx := strings.Index(rest, idTrailerPattern); idx >= 0 {
		title = strings.TrimSpace(rest[:idx])
		tail := rest[idx+len(idTrailerPattern):]
		if end := strings.Index(tail, "-->"); end >= 0 {
			id = strings.TrimSpace(tail[:end])
		}
	} else {
		title = strings.TrimSpace(rest)
	}
	return unescapeLine(title), id
}

func parseTaskSubline(rest string, task *types.ParsedTask, lineNo int, errs *[]types.ParseError) {
	switch {
	case strings.HasPrefix(rest, "@ assigned:"):
		task.AssignedTo = strings.TrimSpace(strings.TrimPrefix(rest, "@ assigned:"))

	case strings.HasPrefix(rest, "@ "):
		value := strings.TrimPrefix(rest, "@ ")
		completed := strings.HasSuffix(value, "✓")
		value = strings.TrimSpace(strings.TrimSuffix(value, "✓"))
		task.Completed = completed
		if value == "done" {
			return
		}
		if _, err := validate.ValidateDateLine(value, lineNo); err != nil {
			*errs = append(*errs, types.ParseError{Line: lineNo, Message: err.Error()})
			return
		}
		task.DueDate = value

	case strings.HasPrefix(rest, "# "):
		labels := strings.Split(strings.TrimPrefix(rest, "# "), ",")
		for _, l := range labels {
			l = strings.TrimSpace(l)
			if l != "" {
				task.Labels = append(task.Labels, l)
			}
		}

	case strings.HasPrefix(rest, "> "):
		line := unescapeLine(strings.TrimPrefix(rest, "> "))
		if task.Description == "" {
			task.Description = line
		} else {
			task.Description += "\n" + line
		}

	default:
		// unknown indented line under a task: ignored, not fatal (§4.7).
	}
}
