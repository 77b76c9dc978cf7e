// Package progress maps renderer output lines to completion percentages.
//
// The renderer does not report progress in a structured way, so a line is
// recognized by the checkpoint phrases it prints while working through a
// book. Lines that carry no known phrase leave progress where it was.
package progress

import "strings"

// Checkpoint percentages reported by the default marker table.
const (
	ConfigLoaded   = 10
	CanvasLoaded   = 20
	TextLoaded     = 30
	OutputProduced = 80
	Finished       = 100
)

// Classifier turns a single output line into a progress value.
// ok is false when the line carries no checkpoint.
type Classifier interface {
	Classify(line string) (percent int, ok bool)
}

// ClassifierFunc adapts a plain function to the Classifier interface.
type ClassifierFunc func(line string) (int, bool)

func (f ClassifierFunc) Classify(line string) (int, bool) {
	return f(line)
}

// Marker pairs a substring of renderer output with the percentage it signals.
type Marker struct {
	Substring string
	Percent   int
}

// Table is an ordered list of markers. Earlier entries take priority.
type Table []Marker

// Classify returns the percentage of the first marker contained in line.
func (t Table) Classify(line string) (int, bool) {
	for _, m := range t {
		if m.Substring != "" && strings.Contains(line, m.Substring) {
			return m.Percent, true
		}
	}
	return 0, false
}

// Default is the marker table for vrain.pl output.
var Default = Table{
	{Substring: "读取书籍排版配置文件", Percent: ConfigLoaded},
	{Substring: "读取背景图配置文件", Percent: CanvasLoaded},
	{Substring: "读取该书籍全部文本文件", Percent: TextLoaded},
	{Substring: "生成PDF文件", Percent: OutputProduced},
	{Substring: "完成！", Percent: Finished},
}
