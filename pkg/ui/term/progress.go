package term

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"apps-console/pkg/rpc"
	"apps-console/pkg/ui"
)

// Progress renders job progress as a progress bar on Out.
type Progress struct {
	Out io.Writer
}

func (p *Progress) Open(title string) ui.Dialog {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(p.Out),
		progressbar.OptionSetDescription(title),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionFullWidth(),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(p.Out) }),
	)
	return &barDialog{title: title, bar: bar, out: p.Out}
}

type barDialog struct {
	mu     sync.Mutex
	title  string
	bar    *progressbar.ProgressBar
	out    io.Writer
	closed bool
}

func (d *barDialog) Update(p rpc.JobProgress) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if p.Description != "" {
		d.bar.Describe(d.title + ": " + p.Description)
	}
	_ = d.bar.Set(int(p.Percent))
}

func (d *barDialog) Fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	_ = d.bar.Exit()
	fmt.Fprintln(d.out)
	fmt.Fprintln(d.out, errorStyle.Render(d.title+" failed: ")+err.Error())
}

func (d *barDialog) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	_ = d.bar.Finish()
}
