package renderer

import (
	"fmt"
	"strings"

	"vrainweb/task"
)

const maxPageCount = 1000

// ValidateSubjectID checks that a book id is safe to hand to vrain.pl as
// the value of -b. The id becomes a path under books/, and a leading dash
// would be parsed as another flag.
func ValidateSubjectID(id string) error {
	if id == "" {
		return fmt.Errorf("book id is required")
	}
	if strings.HasPrefix(id, "-") {
		return fmt.Errorf("book id must not start with '-': %s", id)
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("book id must not contain path elements: %s", id)
	}
	if strings.ContainsAny(id, "|&;`$()<>\"'\x00\n\r") {
		return fmt.Errorf("disallowed character found in book id: %s", id)
	}
	return nil
}

// ValidateParameters rejects option combinations vrain.pl cannot render.
func ValidateParameters(p task.Parameters) error {
	if p.From < 0 || p.To < 0 {
		return fmt.Errorf("page numbers must be positive")
	}
	if p.From > 0 && p.To > 0 && p.From > p.To {
		return fmt.Errorf("start page %d is after end page %d", p.From, p.To)
	}
	if p.Pages < 0 || p.Pages > maxPageCount {
		return fmt.Errorf("preview page count must be between 1 and %d", maxPageCount)
	}
	return nil
}
