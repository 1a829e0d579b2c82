package internal

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/mattn/go-isatty"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Progress receives monotonically increasing byte increments from the
// reader workers and a terminal finish signal. Add must be safe for
// concurrent use.
type Progress interface {
	Add(n int)
	Finish()
}

// ProgressBar renders a byte counter on stderr when stderr is a terminal.
type ProgressBar struct {
	done     atomic.Uint64
	progress *mpb.Progress
	bar      *mpb.Bar
}

// NewProgressBar init a progress bar, the title will appear at the head of
// the bar. total may be 0 when the source size is unknown.
func NewProgressBar(title string, total int64, quiet bool) *ProgressBar {
	var out io.Writer
	if !quiet && isatty.IsTerminal(os.Stderr.Fd()) {
		out = os.Stderr
	}
	progress := mpb.New(mpb.WithWidth(64), mpb.WithOutput(out))
	bar := progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(title, decor.WCSyncWidth),
			decor.Counters(decor.SizeB1024(0), "% .1f / % .1f"),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Percentage(decor.WC{W: 5}), "done"),
			decor.Name(" "),
			decor.AverageSpeed(decor.SizeB1024(0), "% .1f"),
		),
	)
	return &ProgressBar{progress: progress, bar: bar}
}

func (p *ProgressBar) Add(n int) {
	p.done.Add(uint64(n))
	p.bar.IncrBy(n)
}

// Done returns the number of bytes reported so far.
func (p *ProgressBar) Done() uint64 {
	return p.done.Load()
}

// Finish marks the bar complete at the current count and waits for the
// renderer to exit.
func (p *ProgressBar) Finish() {
	p.bar.SetTotal(-1, true)
	p.progress.Wait()
}

// Abort stops rendering without completing the bar.
func (p *ProgressBar) Abort() {
	p.bar.Abort(false)
	p.progress.Wait()
}

// CountingProgress only counts; used when no bar is wanted.
type CountingProgress struct {
	done atomic.Uint64
}

func (p *CountingProgress) Add(n int) {
	p.done.Add(uint64(n))
}

func (p *CountingProgress) Finish() {}

func (p *CountingProgress) Done() uint64 {
	return p.done.Load()
}
