package main

import (
	"fmt"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays a single-line progress message with elapsed time.
// It is single-use: Start at most once, Stop exactly once. Stop is safe to
// call from multiple goroutines and more than once.
type ProgressPrinter struct {
	prefix     string
	phase      atomic.Value // current phase name
	stopPhases map[string]struct{}
	startTime  time.Time
	ticker     atomic.Pointer[time.Ticker]
	stopChan   chan struct{}
	done       chan struct{}
	started    atomic.Bool
}

// NewProgressPrinter creates a printer showing elapsed seconds. Reaching one
// of stopPhases via Callback shuts the printer down automatically.
func NewProgressPrinter(prefix, phase string, stopPhases ...string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{prefix: prefix, stopPhases: stopSet}
	p.phase.Store(phase)
	return p
}

// Start begins the background display loop. Panics on reuse.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	fmt.Printf("\r%s (%s...)   ", p.prefix, p.phase.Load().(string))

	go func() {
		defer close(p.done)
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				phase := p.phase.Load().(string)
				if _, stop := p.stopPhases[phase]; stop {
					return
				}
				seconds := int(time.Since(p.startTime).Seconds())
				if seconds > 0 {
					fmt.Printf("\r%s (%s %ds)   ", p.prefix, phase, seconds)
				} else {
					fmt.Printf("\r%s (%s...)   ", p.prefix, phase)
				}
			}
		}
	}()
}

// Callback returns a phase-update function suitable for bridge progress
// reporting. A stop phase triggers Stop.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, stop := p.stopPhases[phase]; stop {
			p.Stop()
		}
	}
}

// Stop halts the display and clears the progress line. Idempotent.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return
	}
	ticker.Stop()
	close(p.stopChan)
	<-p.done
	fmt.Print(clearLineSequence)
}
