// Package cli handles cmd line input and predictions for debugging the engine
// in real time.
package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bastiangx/nextword/internal/logger"
	"github.com/bastiangx/nextword/internal/utils"
	"github.com/bastiangx/nextword/pkg/predict"
	"github.com/charmbracelet/log"
)

// Engine is what the CLI needs from the prediction core.
type Engine interface {
	PredictText(ctx context.Context, text string, maxResults int) predict.RankedList
	Observe(words []string)
	Stats() map[string]int
}

// Observer is told about every learned line, e.g. to schedule saves.
type Observer interface {
	Observed(n int)
}

// InputHandler reads typed text line by line and prints predictions.
// A line starting with "+" is learned instead; ":stats" prints counters.
// Text keeps its trailing space, so "i want " asks for the next word and
// "i want t" completes the word being typed.
type InputHandler struct {
	engine       Engine
	observer     Observer
	suggestLimit int
	maxText      int
	requestCount int

	in  io.Reader
	log *log.Logger
}

// NewInputHandler creates a CLI handler on stdin and stderr.
func NewInputHandler(engine Engine, limit, maxText int) *InputHandler {
	if limit < 1 {
		limit = 6
	}
	if maxText < 1 {
		maxText = 512
	}
	return &InputHandler{
		engine:       engine,
		suggestLimit: limit,
		maxText:      maxText,
		in:           os.Stdin,
		log:          logger.NewWithConfig(os.Stderr, "", log.GetLevel(), false, false, log.TextFormatter),
	}
}

// WithObserver reports learned lines to o.
func (h *InputHandler) WithObserver(o Observer) *InputHandler {
	h.observer = o
	return h
}

// WithIO replaces stdin and the output writer.
func (h *InputHandler) WithIO(in io.Reader, out io.Writer) *InputHandler {
	h.in = in
	h.log = logger.NewWithConfig(out, "", log.GetLevel(), false, false, log.TextFormatter)
	return h
}

// Start runs the input loop until the input ends or ctx is done.
func (h *InputHandler) Start(ctx context.Context) error {
	h.log.Print("nextword CLI [BETA]")
	h.log.Print("type some words, press enter to see predictions; +text learns it (Ctrl+C to exit):")

	reader := bufio.NewReader(h.in)
	for {
		if ctx.Err() != nil {
			return nil
		}
		h.log.Print("> ")
		line, err := reader.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			h.handleInput(ctx, line)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (h *InputHandler) handleInput(ctx context.Context, line string) {
	h.requestCount++

	if len(line) > h.maxText {
		h.log.Errorf("Input too long: %d bytes (max %d)", len(line), h.maxText)
		return
	}

	switch {
	case strings.HasPrefix(line, "+"):
		h.learn(line[1:])
	case strings.TrimSpace(line) == ":stats":
		h.printStats(h.engine.Stats())
	default:
		h.predict(ctx, line)
	}
}

func (h *InputHandler) learn(text string) {
	words := utils.Tokenize(text)
	if len(words) == 0 {
		h.log.Warnf("Nothing to learn in %q", text)
		return
	}
	h.engine.Observe(words)
	if h.observer != nil {
		h.observer.Observed(1)
	}
	h.log.Printf("Learned %d words: %s", len(words), strings.Join(words, " "))
}

func (h *InputHandler) predict(ctx context.Context, text string) {
	c := predict.ParseContext(text)
	start := time.Now()
	list := h.engine.PredictText(ctx, text, h.suggestLimit)
	elapsed := time.Since(start)
	h.log.Debugf("Took [ %v ] for %q", elapsed, c.String())

	if len(list) == 0 {
		h.log.Warnf("No predictions for %q", c.String())
		return
	}

	_, caps := utils.ProcessCapitals(c.Partial)
	defer caps.Release()

	h.log.Printf("Found %d predictions for %q:", len(list), c.String())
	for i, cand := range list {
		h.log.Print(formatCandidate(i+1, utils.ApplyCapitals(cand.Token, caps), cand))
	}
}
