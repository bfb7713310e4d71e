package scheduler

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/morikuni/aec"
	"golang.org/x/term"

	"github.com/qubesos/vmupdate/internal/update/status"
)

// defaultBarWidth is used whenever the output isn't a sized terminal
// (piped to a file, or GetSize fails).
const defaultBarWidth = 20

// barWidth mirrors devdashboard's console.go pattern of sizing a
// report column off term.GetSize(fd), clamped to a sane progress-bar
// range instead of the full terminal width.
func barWidth(out io.Writer) int {
	f, ok := out.(*os.File)
	if !ok {
		return defaultBarWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return defaultBarWidth
	}
	w := width - 60
	if w < 10 {
		w = 10
	}
	if w > 60 {
		w = 60
	}
	return w
}

// SimpleBar renders the machine-parseable "{qube} {status} {info}"
// line format from spec §6 (--just-print-progress), one line per
// event with no cursor control: safe for piping, logging, or a
// non-TTY destination.
type SimpleBar struct {
	Out io.Writer
}

func (b SimpleBar) Render(ch <-chan status.Info) {
	for info := range ch {
		fmt.Fprintln(b.Out, info.String())
	}
}

// NoopRenderer drains the progress channel without printing anything
// (spec §6's --no-progress): the scheduler still needs a consumer for
// its status.Info channel, but nothing is drawn.
type NoopRenderer struct{}

func (NoopRenderer) Render(ch <-chan status.Info) {
	for range ch {
	}
}

// MultiBar renders one live progress line per qube using aec's cursor
// control to redraw in place, the Go analogue of
// MultipleUpdateMultipleProgressBar's tqdm-per-qube bars. Rows are
// kept in first-seen order so qubes don't visually jump around as
// their percentages change.
type MultiBar struct {
	Out io.Writer

	mu    sync.Mutex
	rows  []string
	idx   map[string]int
	drawn int
	width int
}

func (b *MultiBar) Render(ch <-chan status.Info) {
	b.mu.Lock()
	if b.width == 0 {
		b.width = barWidth(b.Out)
	}
	b.mu.Unlock()

	for info := range ch {
		b.update(info)
	}
	b.finalRedraw()
}

func (b *MultiBar) update(info status.Info) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.idx == nil {
		b.idx = map[string]int{}
	}
	i, ok := b.idx[info.Qube]
	if !ok {
		i = len(b.rows)
		b.idx[info.Qube] = i
		b.rows = append(b.rows, "")
	}
	b.rows[i] = formatRow(info, b.width)
	b.redraw()
}

func (b *MultiBar) redraw() {
	if len(b.rows) == 0 {
		return
	}
	if b.drawn > 0 {
		fmt.Fprint(b.Out, aec.Up(uint16(b.drawn)))
	}
	for _, row := range b.rows {
		fmt.Fprint(b.Out, aec.EraseLine(aec.EraseModes.All))
		fmt.Fprintln(b.Out, row)
	}
	b.drawn = len(b.rows)
}

func (b *MultiBar) finalRedraw() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.redraw()
}

func formatRow(info status.Info, width int) string {
	if width <= 0 {
		width = defaultBarWidth
	}
	switch info.Phase {
	case status.Updating:
		return fmt.Sprintf("%-32s [%-*s] %5.1f%%", info.Qube, width, bar(info.Percent, width), info.Percent)
	case status.Done:
		return fmt.Sprintf("%-32s %s", info.Qube, info.Final)
	default:
		return fmt.Sprintf("%-32s pending", info.Qube)
	}
}

func bar(percent float64, width int) string {
	filled := int(percent / 100 * float64(width))
	if filled > width {
		filled = width
	}
	out := make([]byte, width)
	for i := range out {
		if i < filled {
			out[i] = '='
		} else {
			out[i] = ' '
		}
	}
	return string(out)
}
