// Package progress renders a progress bar over a batch of sync jobs on
// interactive terminals.
package progress

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// Bar counts completed jobs. A nil *Bar is valid and does nothing, so callers
// never need to check whether progress output is enabled.
type Bar struct {
	mu  sync.Mutex
	max int
	bar *progressbar.ProgressBar
}

// New returns a bar writing to out, or nil when out is not a terminal.
func New(out io.Writer, description string) *Bar {
	f, ok := out.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		return nil
	}

	return &Bar{
		bar: progressbar.NewOptions(0,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetDescription(description),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionClearOnFinish(),
		),
	}
}

// AddMax grows the total by n.
func (b *Bar) AddMax(n int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.max += n
	b.bar.ChangeMax(b.max)
}

// Add marks n jobs as done.
func (b *Bar) Add(n int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.bar.Add(n)
}

func (b *Bar) Finish() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.bar.Finish()
}
