package task

import "strconv"

// DefaultPreviewPages is the page count rendered in test mode when none is given.
const DefaultPreviewPages = 5

// BuildArgs returns the renderer flags for t.
// vrain.pl reads its flags positionally, so the order here is fixed.
func BuildArgs(t Task) []string {
	p := t.Parameters
	args := []string{"-b", t.SubjectID}

	if p.From > 0 {
		args = append(args, "-f", strconv.Itoa(p.From))
	}
	if p.To > 0 {
		args = append(args, "-t", strconv.Itoa(p.To))
	}
	if p.Compress {
		args = append(args, "-c")
	}
	if p.Test || t.Kind == KindPreview {
		pages := p.Pages
		if pages <= 0 {
			pages = DefaultPreviewPages
		}
		args = append(args, "-z", strconv.Itoa(pages))
	}
	if p.Verbose {
		args = append(args, "-v")
	}
	return args
}
