// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package siamese

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	headerStyle       = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// maxUpdateFrequency is the time between updates of the progress display.
const maxUpdateFrequency = time.Millisecond * 200

// progress displays a progress bar over the batches of a training epoch, with a table of the running
// metrics above it. The terminal is updated asynchronously, so a slow terminal doesn't slow the training.
type progress struct {
	bar           *progressbar.ProgressBar
	term          *termenv.Output
	statsStyle    lipgloss.Style
	statsTable    *lgtable.Table
	isFirstOutput bool
	start         time.Time
	numBatches    int
	batches       int

	updates     chan progressUpdate
	updatesDone sync.WaitGroup
}

type progressUpdate struct {
	amount int
	rows   [][2]string
}

// newProgress starts the display for an epoch of numBatches batches. If numBatches is 0 (unknown), it shows
// a spinner instead.
func newProgress(epoch, numBatches int) *progress {
	total := numBatches
	if total <= 0 {
		total = -1
	}
	p := &progress{
		term:          termenv.NewOutput(os.Stdout),
		statsStyle:    lipgloss.NewStyle().PaddingLeft(8),
		statsTable:    newTable(),
		isFirstOutput: true,
		start:         time.Now(),
		numBatches:    numBatches,
		updates:       make(chan progressUpdate, 100),
	}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription(fmt.Sprintf("Epoch %d", epoch)),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionSetWriter(os.Stdout),
	)
	p.updatesDone.Add(1)
	go p.draw()
	return p
}

// Update enqueues the display of one more batch.
func (p *progress) Update(losses *Accumulator, learningRate float64) {
	p.batches++
	batches := humanize.Comma(int64(p.batches))
	if p.numBatches > 0 {
		batches = fmt.Sprintf("%s of %s", batches, humanize.Comma(int64(p.numBatches)))
	}
	p.updates <- progressUpdate{
		amount: 1,
		rows: [][2]string{
			{"Batches", batches},
			{"Examples", humanize.Comma(int64(losses.Count()))},
			{losses.Name, fmt.Sprintf("%.4f", losses.Avg())},
			{"Learning rate", fmt.Sprintf("%g", learningRate)},
			{"Elapsed", commandline.FormatDuration(time.Since(p.start))},
		},
	}
}

func (p *progress) draw() {
	defer p.updatesDone.Done()
	for update := range p.updates {
		amount := update.amount
	exhaust:
		for {
			select {
			case newUpdate, ok := <-p.updates:
				if !ok {
					break exhaust
				}
				amount += newUpdate.amount
				update = newUpdate
			default:
				break exhaust
			}
		}

		p.statsTable.Data(lgtable.NewStringData())
		for _, row := range update.rows {
			p.statsTable.Row(row[0], row[1])
		}
		p.term.HideCursor()
		if !p.isFirstOutput {
			// Table rows, its borders, the progress bar and the empty line.
			p.term.CursorPrevLine(len(update.rows) + 2 + 2)
		}
		p.isFirstOutput = false
		fmt.Println(p.statsStyle.Render(p.statsTable.String()))
		_ = p.bar.Add(amount)
		fmt.Println()
		p.term.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}

// Done waits for the pending updates to be displayed.
func (p *progress) Done() {
	close(p.updates)
	p.updatesDone.Wait()
	p.term.ShowCursor()
	fmt.Println()
}

func newTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row < 0:
				return headerStyle
			case col == 0:
				return rightAlignedStyle
			default:
				return normalStyle
			}
		})
}

// PrintSummary writes a table with the metrics of a phase (e.g. "Epoch 3"), and how long it took.
func PrintSummary(w io.Writer, title string, elapsed time.Duration, metrics ...*Accumulator) {
	table := newTable().Headers(title, commandline.FormatDuration(elapsed))
	for _, metric := range metrics {
		var value string
		if metric.MetricType == MetricTypeAccuracy {
			value = fmt.Sprintf("%.2f%%", 100*metric.Avg())
		} else {
			value = fmt.Sprintf("%.4f", metric.Avg())
		}
		table.Row(metric.Name, value)
	}
	_, _ = fmt.Fprintln(w, table.String())
}

// PrintKNN writes a table with the k-NN accuracies, in the order of ks.
func PrintKNN(w io.Writer, ks []int, accuracies map[int]*Accumulator) {
	table := newTable().Headers("k", "Accuracy", "Queries")
	for _, k := range ks {
		acc, found := accuracies[k]
		if !found {
			continue
		}
		table.Row(fmt.Sprintf("%d", k), fmt.Sprintf("%.2f%%", 100*acc.Avg()), humanize.Comma(int64(acc.Count())))
	}
	_, _ = fmt.Fprintln(w, table.String())
}
