package tailer

import (
	"bufio"
	"fmt"
	"io"
	"log"

	"tlifarm/internal/logevent"
	"tlifarm/internal/logparser"
)

// maxBlockLines bounds a price response that never sees its end marker.
const maxBlockLines = 4096

type blockState int

const (
	stateIdle blockState = iota
	stateBuffering
)

// lineProcessor feeds complete lines to the parser, buffering multi-line
// price responses until their end marker so the published price search
// carries its prices.
type lineProcessor struct {
	parser *logparser.Shared
	emit   func(logevent.Event) error

	state   blockState
	lines   []string
	pending *logevent.Event
}

func newLineProcessor(parser *logparser.Shared, emit func(logevent.Event) error) *lineProcessor {
	return &lineProcessor{parser: parser, emit: emit}
}

// reset discards any in-flight block.
func (p *lineProcessor) reset() {
	p.state = stateIdle
	p.lines = nil
	p.pending = nil
}

func (p *lineProcessor) handle(line string) error {
	if logparser.IsPriceResponseStart(line) {
		// The start line carries the correlation id; parse it before
		// buffering so the pending event exists.
		if ev, ok := p.parser.ParseLine(line); ok && ev.Type == logevent.EventPriceSearch {
			p.pending = &ev
		}
		p.state = stateBuffering
		p.lines = append(p.lines[:0], line)
		return nil
	}

	if p.state == stateBuffering {
		p.lines = append(p.lines, line)
		if !logparser.IsPriceResponseEnd(line) {
			if len(p.lines) > maxBlockLines {
				log.Printf("tailer: price block exceeded %d lines, dropping", maxBlockLines)
				p.reset()
			}
			return nil
		}
		pending := p.pending
		prices, currency := p.parser.ParsePriceBlock(p.lines)
		p.reset()
		if pending == nil || len(prices) == 0 {
			return nil
		}
		return p.emit(pending.WithPrices(prices, currency))
	}

	ev, ok := p.parser.ParseLine(line)
	if !ok {
		return nil
	}
	if ev.Type == logevent.EventPriceSearch {
		// Held until its response block completes.
		p.pending = &ev
		return nil
	}
	return p.emit(ev)
}

// Replay runs a whole log through parser with the same block handling as
// the live tailer, calling emit for every event in file order. It returns
// the number of lines read. An error from emit stops the replay.
func Replay(r io.Reader, parser *logparser.Shared, emit func(logevent.Event) error) (int, error) {
	proc := newLineProcessor(parser, emit)
	br := bufio.NewReader(r)
	n := 0
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			n++
			if herr := proc.handle(trimEOL(line)); herr != nil {
				return n, herr
			}
		}
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("read log: %w", err)
		}
	}
}
