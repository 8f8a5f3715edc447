// Package validate holds the field validators shared by every service that
// accepts user input (§4.8), plus the relative-date mini-language parser
// (ParseDate, for callers) and the YYYY-MM-DD helpers the Markdown codec
// uses (FormatDate, ValidateDateLine).
package validate

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kaban-dev/kaban/pkg/kabanerr"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 5000
	maxLabelLen       = 32
	maxAgentNameLen   = 64
)

var agentNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
var columnIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Title validates a task title: non-empty, at most 200 printable
// characters, no leading or trailing whitespace (§4.8).
func Title(title string) error {
	if title == "" {
		return kabanerr.New(kabanerr.Validation, "title must not be empty").WithField("title")
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return kabanerr.Newf(kabanerr.Validation, "title must be at most %d characters", maxTitleLen).WithField("title")
	}
	if strings.TrimSpace(title) != title {
		return kabanerr.New(kabanerr.Validation, "title must not have leading or trailing whitespace").WithField("title")
	}
	for _, r := range title {
		if !unicode.IsPrint(r) && r != ' ' {
			return kabanerr.New(kabanerr.Validation, "title must contain only printable characters").WithField("title")
		}
	}
	return nil
}

// Description validates an optional task description: at most 5000
// characters. An empty description is always valid.
func Description(description string) error {
	if utf8.RuneCountInString(description) > maxDescriptionLen {
		return kabanerr.Newf(kabanerr.Validation, "description must be at most %d characters", maxDescriptionLen).WithField("description")
	}
	return nil
}

// ColumnID validates a column identifier: a lowercase slug starting with
// an alphanumeric character.
func ColumnID(id string) error {
	if !columnIDPattern.MatchString(id) {
		return kabanerr.Newf(kabanerr.Validation, "column id %q must be a lowercase slug", id).WithField("columnId")
	}
	return nil
}

// AgentName validates an actor/agent name: ^[A-Za-z0-9_-]{1,64}$ (§4.8).
func AgentName(name string) error {
	if !agentNamePattern.MatchString(name) {
		return kabanerr.Newf(kabanerr.Validation, "agent name %q must match ^[A-Za-z0-9_-]{1,64}$", name).WithField("agent")
	}
	return nil
}

// Labels validates a label set: each label at most 32 characters.
func Labels(labels []string) error {
	for _, l := range labels {
		if utf8.RuneCountInString(l) > maxLabelLen {
			return kabanerr.Newf(kabanerr.Validation, "label %q must be at most %d characters", l, maxLabelLen).WithField("labels")
		}
	}
	return nil
}
