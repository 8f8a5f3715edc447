package types

// MarkdownExportOptions controls what Serialize emits (§4.7).
type MarkdownExportOptions struct {
	IncludeMetadata bool // emit "<!-- id:... -->" trailers.
	IncludeArchived bool
}

// ParsedBoard is the result of Parse: a document broken into columns and
// tasks, plus any non-fatal parse errors encountered along the way.
type ParsedBoard struct {
	BoardName string
	Columns   []ParsedColumn
	Errors    []ParseError
}

// ParsedColumn is one "## <name>" section of a parsed document.
type ParsedColumn struct {
	Name       string
	WipLimit   int // 0 if absent.
	IsTerminal bool
	Tasks      []ParsedTask
}

// ParsedTask is one "- <title>" item under a parsed column.
type ParsedTask struct {
	ID          string // from the "<!-- id:... -->" trailer, if present.
	Title       string
	Completed   bool
	DueDate     string // raw "YYYY-MM-DD"; Parse leaves it empty and records a ParseError for an invalid date.
	Labels      []string
	AssignedTo  string
	Description string
}

// ParseError is a non-fatal issue encountered while parsing, tagged with
// the 1-based line number it occurred on.
type ParseError struct {
	Line    int
	Message string
}
