package logfollow

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/hub"
	"github.com/sirupsen/logrus"
)

// maxAggregationGap bounds how long the aggregator waits for a
// continuation line before flushing the event in progress.
const maxAggregationGap = 1500 * time.Millisecond

// Options configures how a Follower renders lines to stdout, independent
// of what it publishes to the hub (the hub always gets the raw aggregated
// line; these only affect the local terminal echo).
type Options struct {
	Color      bool
	Timestamps bool
	EmitStdout bool
}

// Follower reads one or more container log streams, aggregates multi-line
// events per service, strips ANSI escapes, and publishes the result to a
// LogHub. Each service is assigned a stable color from the round-robin
// palette for its stdout prefix.
type Follower struct {
	log  logrus.FieldLogger
	hub  *hub.LogHub
	opts Options

	mu        sync.Mutex
	colorOf   map[string]int
	nextColor int

	wg sync.WaitGroup
}

// New creates a Follower publishing to h.
func New(log logrus.FieldLogger, h *hub.LogHub, opts Options) *Follower {
	return &Follower{
		log:     log.WithField("component", "logfollow"),
		hub:     h,
		opts:    opts,
		colorOf: make(map[string]int),
	}
}

// Follow starts a goroutine reading lines from r under service's name,
// running until r returns EOF/error or stop is closed. Follow returns
// immediately; call Wait to block until every stream started this way has
// finished.
func (f *Follower) Follow(service string, r io.Reader, stop <-chan struct{}) {
	f.wg.Add(1)

	go func() {
		defer f.wg.Done()

		f.run(service, r, stop)
	}()
}

// Wait blocks until every stream started with Follow has finished.
func (f *Follower) Wait() {
	f.wg.Wait()
}

func (f *Follower) run(service string, r io.Reader, stop <-chan struct{}) {
	var stopped atomic.Bool

	done := make(chan struct{})

	go func() {
		select {
		case <-stop:
			stopped.Store(true)
		case <-done:
		}
	}()

	defer close(done)

	color := f.colorFor(service)
	agg := NewMultilineAggregator(maxAggregationGap)
	reader := bufio.NewReaderSize(r, 64*1024)

	for {
		if stopped.Load() {
			return
		}

		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			trimmed := trimNewline(line)
			clean := StripANSICodes([]byte(trimmed))

			for _, event := range agg.PushLine(clean, time.Now()) {
				f.emit(service, color, event)
			}
		}

		if err != nil {
			if event, ok := agg.Flush(); ok {
				f.emit(service, color, event)
			}

			if err != io.EOF {
				f.log.WithError(err).WithField("service", service).Debug("log stream ended with error")
			}

			return
		}
	}
}

func (f *Follower) emit(service string, color int, event AggregatedEvent) {
	f.hub.Publish(service, event.Line)

	if !f.opts.EmitStdout {
		return
	}

	prefix := service
	if f.opts.Timestamps && event.HasContainerTS {
		prefix = event.ContainerTS + " " + prefix
	}

	if f.opts.Color {
		fmt.Printf("\x1b[%dm%s\x1b[0m | %s\n", color, prefix, event.Line)
	} else {
		fmt.Printf("%s | %s\n", prefix, event.Line)
	}
}

// colorFor assigns each service name a stable color from the palette on
// first sight, round-robin.
func (f *Follower) colorFor(service string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.colorOf[service]; ok {
		return c
	}

	c := constants.LogColorPalette[f.nextColor%len(constants.LogColorPalette)]
	f.colorOf[service] = c
	f.nextColor++

	return c
}

func trimNewline(line string) string {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
	}

	if n > 0 && line[n-1] == '\r' {
		n--
	}

	return line[:n]
}
