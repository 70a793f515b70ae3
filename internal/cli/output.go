package cli

import (
	"fmt"
	"io"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/alnah/corpusvad/internal/extract"
	"github.com/alnah/corpusvad/internal/logging"
	"github.com/alnah/corpusvad/internal/pool"
)

// progressLines returns an extraction callback that writes one
// machine-readable progress line per file to w. The parent pool parses
// these lines to drive its bars.
func progressLines(w io.Writer) func(extract.Event) {
	return func(ev extract.Event) {
		_, _ = fmt.Fprintln(w, pool.FormatProgress(ev.Done, ev.Total))
	}
}

// progressBar returns an extraction callback drawing a bar on w, and a
// wait func that flushes the bar. On a non-terminal w it falls back to
// one status line per file.
func progressBar(w io.Writer, total int) (func(extract.Event), func()) {
	if !logging.IsTerminal(w) {
		return func(ev extract.Event) {
			_, _ = fmt.Fprintf(w, "  [%d/%d] %s: %s\n", ev.Done, ev.Total, ev.File, ev.Outcome)
		}, func() {}
	}

	p := mpb.New(mpb.WithOutput(w), mpb.WithWidth(64))
	bar := p.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name("extract "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)
	update := func(ev extract.Event) {
		bar.SetCurrent(int64(ev.Done))
	}
	wait := func() {
		if !bar.Completed() {
			bar.Abort(false)
		}
		p.Wait()
	}
	return update, wait
}
