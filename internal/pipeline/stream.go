package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dhintech/translate-gateway/internal/engine"
	"github.com/dhintech/translate-gateway/internal/normalize"
	"github.com/dhintech/translate-gateway/internal/observability"
	"github.com/dhintech/translate-gateway/internal/protocol"
)

// ErrQueueFull is returned by Submit when the speaker's chunk queue is at
// capacity. The caller decides whether to drop or throttle.
var ErrQueueFull = errors.New("chunk queue full")

// utterance states
const (
	utteranceAccumulating = iota
	utteranceFinalizing
	utteranceDone
)

// EmitFunc receives translation events in emission order.
type EmitFunc func(msg protocol.TranslationMessage)

// StreamConfig bounds a single speaker stream.
type StreamConfig struct {
	// SourceLang is the room's configured source language; empty means
	// detect per utterance.
	SourceLang string

	// TargetLangs receive one PARTIAL/FINAL each per emission.
	TargetLangs []string

	// MinEmitDelta is the number of runes the normalized buffer must grow
	// by before another partial is emitted.
	MinEmitDelta int

	// QueueSize bounds the inbound chunk queue.
	QueueSize int

	// UtteranceTimeout abandons utterances that stop receiving chunks.
	UtteranceTimeout time.Duration
}

type chunk struct {
	utteranceID string
	seq         uint64
	text        string
	isFinal     bool
}

type utterance struct {
	id         string
	buf        strings.Builder
	state      int
	lastSeq    uint64
	gotSeq     bool
	srcLang    string
	detected   bool
	lastEmit   int               // rune length of the buffer at last emission
	lastText   map[string]string // last partial translation per target lang
	lastChunk  time.Time
	cancelCtx  context.Context
	cancelFunc context.CancelFunc
}

// Stream processes one speaker's chunks in arrival order. A single worker
// goroutine drains the queue, so events for this speaker never reorder, while
// slow engine calls only ever delay this one speaker.
type Stream struct {
	cfg        StreamConfig
	translator *Translator
	normalizer normalize.Normalizer
	emit       EmitFunc
	logger     zerolog.Logger

	chunks chan chunk

	mu         sync.Mutex
	utterances map[string]*utterance
	// finished holds recently completed or cancelled utterance IDs so a
	// late or replayed chunk cannot resurrect one and emit a second FINAL.
	finished map[string]time.Time
	closed   bool

	done chan struct{}
}

// NewStream starts the worker for one speaker.
func NewStream(cfg StreamConfig, tr *Translator, norm normalize.Normalizer, emit EmitFunc, logger zerolog.Logger) *Stream {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.MinEmitDelta <= 0 {
		cfg.MinEmitDelta = 12
	}
	if cfg.UtteranceTimeout <= 0 {
		cfg.UtteranceTimeout = 30 * time.Second
	}
	if norm == nil {
		norm = normalize.Passthrough{}
	}

	s := &Stream{
		cfg:        cfg,
		translator: tr,
		normalizer: norm,
		emit:       emit,
		logger:     logger,
		chunks:     make(chan chunk, cfg.QueueSize),
		utterances: make(map[string]*utterance),
		finished:   make(map[string]time.Time),
		done:       make(chan struct{}),
	}
	go s.run()
	return s
}

// Submit enqueues a chunk without blocking.
func (s *Stream) Submit(utteranceID string, seq uint64, text string, isFinal bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("stream closed")
	}
	s.mu.Unlock()

	select {
	case s.chunks <- chunk{utteranceID: utteranceID, seq: seq, text: text, isFinal: isFinal}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Cancel abandons an utterance. No FINAL is emitted for it and any in-flight
// engine call is interrupted; a late result is discarded.
func (s *Stream) Cancel(utteranceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if utt, ok := s.utterances[utteranceID]; ok {
		utt.state = utteranceDone
		utt.cancelFunc()
		delete(s.utterances, utteranceID)
	}
	s.finished[utteranceID] = time.Now()
}

// Close stops the worker and abandons all in-flight utterances.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, utt := range s.utterances {
		utt.cancelFunc()
		delete(s.utterances, id)
	}
	s.mu.Unlock()

	close(s.done)
}

func (s *Stream) run() {
	sweep := time.NewTicker(s.cfg.UtteranceTimeout / 2)
	defer sweep.Stop()

	for {
		select {
		case c := <-s.chunks:
			s.process(c)
		case <-sweep.C:
			s.sweepStale()
		case <-s.done:
			return
		}
	}
}

// process runs entirely on the worker goroutine. The stream mutex is only
// taken to touch the utterance map, never across an engine call.
func (s *Stream) process(c chunk) {
	utt := s.getOrCreate(c.utteranceID)
	if utt == nil {
		return // cancelled or stream closed
	}

	// Re-delivered and out-of-order chunks are dropped; sequence numbers
	// only move forward within an utterance.
	if utt.gotSeq && c.seq <= utt.lastSeq {
		return
	}
	utt.gotSeq = true
	utt.lastSeq = c.seq
	utt.lastChunk = time.Now()

	// Chunks append verbatim; the client owns word boundaries, so a chunk
	// split mid-word reassembles exactly.
	utt.buf.WriteString(c.text)
	if c.isFinal {
		utt.state = utteranceFinalizing
	}

	norm := s.normalizer.Normalize(utt.buf.String(), utt.srcLang)
	grown := len([]rune(norm)) - utt.lastEmit
	if !c.isFinal && grown < s.cfg.MinEmitDelta {
		return
	}
	if norm == "" {
		if c.isFinal {
			s.finish(utt)
		}
		return
	}

	s.resolveLang(utt, norm)
	s.translateAndEmit(utt, norm, c.isFinal)

	if c.isFinal {
		s.finish(utt)
	}
}

// resolveLang fixes the source language for the utterance. Detection runs at
// most once; later chunks never re-detect, so targets cannot flap
// mid-utterance.
func (s *Stream) resolveLang(utt *utterance, norm string) {
	if utt.srcLang != "" || utt.detected {
		return
	}
	utt.detected = true

	lang, err := s.translator.DetectLanguage(utt.cancelCtx, norm)
	if err != nil {
		s.logger.Warn().Err(err).Str("utterance_id", utt.id).Msg("Language detection failed")
		observability.RecordError("detect_language", "pipeline")
		return
	}
	if lang != engine.LangUnknown {
		utt.srcLang = lang
	}
}

func (s *Stream) translateAndEmit(utt *utterance, norm string, isFinal bool) {
	for _, tgt := range s.cfg.TargetLangs {
		res, err := s.translator.Translate(utt.cancelCtx, norm, utt.srcLang, tgt, isFinal)
		if s.abandoned(utt.id) {
			return // cancelled while the engine was busy; discard
		}
		if err != nil {
			if !isFinal {
				s.logger.Debug().Err(err).Str("utterance_id", utt.id).Msg("Partial translation failed")
				continue
			}
			// Degrade to the best known partial rather than losing
			// the utterance.
			s.emitDegraded(utt, norm, tgt, err)
			continue
		}

		utt.lastText[tgt] = res.Text
		msgType := protocol.MsgTypePartial
		if isFinal {
			msgType = protocol.MsgTypeFinal
		} else {
			observability.RecordPartialEmission()
		}
		s.emit(protocol.TranslationMessage{
			Type:        msgType,
			UtteranceID: utt.id,
			Original:    norm,
			Text:        res.Text,
			SourceLang:  utt.srcLang,
			TargetLang:  tgt,
		})
	}
	utt.lastEmit = len([]rune(norm))
}

func (s *Stream) emitDegraded(utt *utterance, norm, tgt string, cause error) {
	s.logger.Warn().Err(cause).
		Str("utterance_id", utt.id).
		Str("target_lang", tgt).
		Msg("Engine failed, degrading final to last partial")
	observability.RecordTranslation("degraded")

	text, ok := utt.lastText[tgt]
	if !ok {
		text = norm
	}
	s.emit(protocol.TranslationMessage{
		Type:        protocol.MsgTypeFinal,
		UtteranceID: utt.id,
		Original:    norm,
		Text:        text,
		SourceLang:  utt.srcLang,
		TargetLang:  tgt,
		Degraded:    true,
	})
}

func (s *Stream) getOrCreate(id string) *utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if _, done := s.finished[id]; done {
		return nil
	}
	if utt, ok := s.utterances[id]; ok {
		if utt.state != utteranceAccumulating {
			return nil
		}
		return utt
	}

	ctx, cancel := context.WithCancel(context.Background())
	utt := &utterance{
		id:         id,
		srcLang:    s.cfg.SourceLang,
		lastText:   make(map[string]string),
		lastChunk:  time.Now(),
		cancelCtx:  ctx,
		cancelFunc: cancel,
	}
	s.utterances[id] = utt
	return utt
}

func (s *Stream) finish(utt *utterance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	utt.state = utteranceDone
	utt.cancelFunc()
	delete(s.utterances, utt.id)
	s.finished[utt.id] = time.Now()
}

func (s *Stream) abandoned(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.utterances[id]
	return !ok
}

// sweepStale abandons utterances whose speaker went silent without a final
// chunk. They get no FINAL event.
func (s *Stream) sweepStale() {
	cutoff := time.Now().Add(-s.cfg.UtteranceTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, utt := range s.utterances {
		if utt.lastChunk.Before(cutoff) {
			s.logger.Debug().Str("utterance_id", id).Msg("Abandoning stale utterance")
			utt.cancelFunc()
			delete(s.utterances, id)
			s.finished[id] = time.Now()
		}
	}
	for id, at := range s.finished {
		if at.Before(cutoff) {
			delete(s.finished, id)
		}
	}
}
