package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bastiangx/nextword/internal/logger"
	"github.com/bastiangx/nextword/internal/utils"
	"github.com/bastiangx/nextword/pkg/availability"
	"github.com/bastiangx/nextword/pkg/config"
	"github.com/bastiangx/nextword/pkg/predict"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Engine is the prediction core the server drives.
type Engine interface {
	Predict(ctx context.Context, c predict.Context, maxResults int) predict.RankedList
	Observe(words []string)
	ReloadConfig(cfg config.Engine) error
	Stats() map[string]int
}

// Saver persists the model.
type Saver interface {
	Observed(n int)
	Flush() error
	Stats() map[string]int
}

// Server handles IPC for predictions
type Server struct {
	engine Engine
	limits config.ServerConfig
	reload func() (config.Engine, error)
	saver  Saver
	health func() availability.State
	log    *log.Logger

	reader io.Reader
	mu     sync.Mutex
	enc    *msgpack.Encoder
	bw     *bufio.Writer

	requests int
}

// Option configures a Server.
type Option func(*Server)

// WithIO replaces stdin and stdout.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(s *Server) {
		s.reader = r
		s.bw = bufio.NewWriter(w)
	}
}

// WithReloader sets how the reload action reads fresh settings.
func WithReloader(fn func() (config.Engine, error)) Option {
	return func(s *Server) { s.reload = fn }
}

// WithSaver enables the save action and counts observations toward autosave.
func WithSaver(saver Saver) Option {
	return func(s *Server) { s.saver = saver }
}

// WithHealth adds the remote state to health responses.
func WithHealth(fn func() availability.State) Option {
	return func(s *Server) { s.health = fn }
}

// NewServer creates a server over stdin and stdout.
func NewServer(engine Engine, limits config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		limits: limits,
		log:    logger.New("server"),
		reader: os.Stdin,
		bw:     bufio.NewWriter(os.Stdout),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limits.MaxLimit < 1 {
		s.limits.MaxLimit = 10
	}
	if s.limits.MaxText < 1 {
		s.limits.MaxText = 512
	}
	if s.limits.DefaultLimit < 1 || s.limits.DefaultLimit > s.limits.MaxLimit {
		s.limits.DefaultLimit = s.limits.MaxLimit
	}
	s.enc = msgpack.NewEncoder(s.bw)
	return s
}

// Start serves requests until the input ends or ctx is done. A message that
// cannot be decoded ends the stream, since msgpack has no way to resync.
func (s *Server) Start(ctx context.Context) error {
	s.log.Debug("Starting server")
	s.send(StatusResponse{Status: "ready"})

	dec := msgpack.NewDecoder(bufio.NewReader(s.reader))
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		var req Request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			s.sendError("", "invalid msgpack request", 400)
			return fmt.Errorf("decoding request: %w", err)
		}
		s.handleRequest(ctx, req)
	}
}

func (s *Server) handleRequest(ctx context.Context, req Request) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	s.requests++

	switch strings.ToLower(req.Action) {
	case "", ActionPredict:
		s.handlePredict(ctx, req)
	case ActionObserve:
		s.handleObserve(req)
	case ActionReload:
		s.handleReload(req)
	case ActionStats:
		s.send(StatusResponse{ID: req.ID, Status: "ok", Stats: s.stats()})
	case ActionHealth:
		resp := StatusResponse{ID: req.ID, Status: "ok"}
		if s.health != nil {
			st := s.health()
			resp.Remote = &st
		}
		s.send(resp)
	case ActionSave:
		s.handleSave(req)
	default:
		s.sendError(req.ID, fmt.Sprintf("unknown action: %s", req.Action), 400)
	}
}

func (s *Server) handlePredict(ctx context.Context, req Request) {
	if len(req.Text) > s.limits.MaxText {
		s.sendError(req.ID, fmt.Sprintf("text exceeds maximum length of %d bytes", s.limits.MaxText), 400)
		return
	}
	limit := req.Limit
	if limit < 1 {
		limit = s.limits.DefaultLimit
	}
	if limit > s.limits.MaxLimit {
		limit = s.limits.MaxLimit
	}

	var c predict.Context
	if req.Text != "" {
		c = predict.ParseContext(req.Text)
	} else {
		c = predict.NewContext(req.Words, req.Partial)
	}

	start := time.Now()
	list := s.engine.Predict(ctx, c, limit)
	elapsed := time.Since(start)

	_, caps := utils.ProcessCapitals(c.Partial)
	defer caps.Release()

	suggestions := make([]Suggestion, len(list))
	for i, cand := range list {
		suggestions[i] = Suggestion{
			Word:   utils.ApplyCapitals(cand.Token, caps),
			Rank:   uint16(i + 1),
			Score:  cand.Score,
			Source: string(cand.Source),
		}
	}
	s.log.Debugf("Request %s: %d suggestions for %q in %v", req.ID, len(suggestions), c.String(), elapsed)
	s.send(PredictResponse{
		ID:          req.ID,
		Suggestions: suggestions,
		Count:       len(suggestions),
		TimeTaken:   elapsed.Microseconds(),
	})
}

func (s *Server) handleObserve(req Request) {
	var words []string
	if req.Text != "" {
		if len(req.Text) > s.limits.MaxText {
			s.sendError(req.ID, fmt.Sprintf("text exceeds maximum length of %d bytes", s.limits.MaxText), 400)
			return
		}
		words = utils.Tokenize(req.Text)
	} else {
		words = utils.Tokenize(strings.Join(req.Words, " "))
	}
	if len(words) == 0 {
		s.sendError(req.ID, "nothing to observe", 400)
		return
	}
	s.engine.Observe(words)
	if s.saver != nil {
		s.saver.Observed(1)
	}
	s.send(StatusResponse{ID: req.ID, Status: "ok", Stats: map[string]int{"words": len(words)}})
}

func (s *Server) handleReload(req Request) {
	if s.reload == nil {
		s.sendError(req.ID, "reload not available", 501)
		return
	}
	cfg, err := s.reload()
	if err == nil {
		err = s.engine.ReloadConfig(cfg)
	}
	if err != nil {
		// The previous settings stay in effect.
		s.log.Warnf("Config reload rejected: %v", err)
		s.send(StatusResponse{ID: req.ID, Status: "error", Error: err.Error()})
		return
	}
	s.log.Info("Config reloaded")
	s.send(StatusResponse{ID: req.ID, Status: "ok"})
}

func (s *Server) handleSave(req Request) {
	if s.saver == nil {
		s.sendError(req.ID, "save not available", 501)
		return
	}
	if err := s.saver.Flush(); err != nil {
		s.log.Errorf("Saving model: %v", err)
		s.send(StatusResponse{ID: req.ID, Status: "error", Error: err.Error()})
		return
	}
	s.send(StatusResponse{ID: req.ID, Status: "ok"})
}

func (s *Server) stats() map[string]int {
	stats := s.engine.Stats()
	if s.saver != nil {
		for k, v := range s.saver.Stats() {
			stats[k] = v
		}
	}
	stats["requests"] = s.requests
	return stats
}

// send encodes response and flushes it so the client sees it at once.
func (s *Server) send(response any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(response); err != nil {
		s.log.Errorf("Encoding response: %v", err)
		return
	}
	if err := s.bw.Flush(); err != nil {
		s.log.Errorf("Writing response: %v", err)
	}
}

func (s *Server) sendError(id, message string, code int) {
	s.send(ErrorResponse{ID: id, Error: message, Code: code})
}
