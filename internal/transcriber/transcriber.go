// Package transcriber implements streaming speech-to-text: a producer
// goroutine classifies incoming audio with VAD and assembles segments, while
// a decoupled consumer goroutine feeds those segments to the Whisper worker
// and emits provisional and final transcription events.
package transcriber

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zarvent/v2m/internal/audioio"
	"github.com/zarvent/v2m/internal/logging"
	"github.com/zarvent/v2m/internal/vad"
	"github.com/zarvent/v2m/internal/whisperio"
)

// Tunables taken from the daemon-backend implementation this system was
// distilled from; kept as named constants rather than magic numbers
// scattered through the state machine.
const (
	PreRollChunks       = 3
	MinSegmentDuration  = 300 * time.Millisecond
	ProvisionalInterval = 500 * time.Millisecond
	ContextWindowChars  = 200
	ContextResetAfter   = 3000 * time.Millisecond
	HeartbeatInterval   = 2 * time.Second
	SilenceCommitMS     = 1000

	// ProducerDrainTimeout bounds how long Stop waits for the producer to
	// notice the source has closed and flush its in-progress segment.
	ProducerDrainTimeout = 2 * time.Second
	// ConsumerDrainTimeout bounds how long Stop waits for one last final
	// inference to complete after the producer has flushed.
	ConsumerDrainTimeout = 10 * time.Second
)

// EventKind discriminates the events a Transcriber emits.
type EventKind int

const (
	EventPartial EventKind = iota
	EventFinal
	EventHeartbeat
)

// Event is pushed to the channel returned by Start.
type Event struct {
	Kind      EventKind
	Text      string
	Timestamp time.Time
}

// Config configures one Transcriber instance. Zero values fall back to the
// package constants above.
type Config struct {
	Language        string
	VADThreshold    float64
	SilenceCommitMS int
	MinConfirmed    int
	BeamSize        int
	Temperature     float64
}

// Transcriber runs the producer/consumer streaming pipeline for a single
// recording session.
type Transcriber struct {
	cfg    Config
	source audioio.Source
	worker *whisperio.Worker
	filter *hallucinationFilter
	warnRL *rate.Limiter

	events chan Event
	cancel context.CancelFunc
	drained chan struct{}

	mu     sync.Mutex
	finals []string
}

// New builds a Transcriber bound to an audio source and a (already-loaded)
// Whisper worker. Start and Stop also start and stop the source; closing
// it remains the caller's job.
func New(cfg Config, source audioio.Source, worker *whisperio.Worker) *Transcriber {
	return &Transcriber{
		cfg:    cfg,
		source: source,
		worker: worker,
		filter: newHallucinationFilter(),
		warnRL: rate.NewLimiter(rate.Every(5*time.Second), 1),
		events: make(chan Event, 32),
	}
}

// Start begins the producer/consumer pipeline and returns the event channel,
// closed once Stop has drained both goroutines (or ctx is cancelled).
func (t *Transcriber) Start(ctx context.Context) (<-chan Event, error) {
	chunks, err := t.source.Start(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	silenceLimit := time.Duration(t.cfg.SilenceCommitMS) * time.Millisecond
	if silenceLimit <= 0 {
		silenceLimit = SilenceCommitMS * time.Millisecond
	}
	detector := vad.NewRMSDetector(t.cfg.VADThreshold, silenceLimit, t.cfg.MinConfirmed)

	segments := make(chan [][]float32, 64)  // holds up to 64 committed segments; when full the producer blocks and stops reading chunks, and the capture ring then drops new samples (counted as overruns)
	provisional := make(chan [][]float32, 1) // latest-snapshot only; a stale provisional is worthless

	grp, gctx := errgroup.WithContext(runCtx)
	grp.Go(func() error {
		return t.produce(gctx, chunks, detector, segments, provisional)
	})
	grp.Go(func() error {
		return t.consume(gctx, segments, provisional)
	})

	t.drained = make(chan struct{})
	go func() {
		_ = grp.Wait()
		close(t.drained)
	}()

	go func() { _ = t.heartbeat(runCtx) }()

	go func() {
		<-t.drained
		cancel() // producer/consumer are done; let the heartbeat wind down too
		close(t.events)
	}()

	return t.events, nil
}

// produce classifies each incoming chunk with VAD, maintains the pre-roll
// ring so the start of speech isn't clipped, forwards committed segments to
// the consumer, and periodically snapshots the in-progress segment onto
// provisional for greedy partial inference.
func (t *Transcriber) produce(ctx context.Context, chunks <-chan audioio.Chunk, detector *vad.RMSDetector, out chan<- [][]float32, provisional chan<- [][]float32) error {
	defer close(out)

	var preroll [][]float32
	var current [][]float32
	var segStart time.Time
	inSpeech := false

	pushPreroll := func(samples []float32) {
		preroll = append(preroll, samples)
		if len(preroll) > PreRollChunks {
			preroll = preroll[len(preroll)-PreRollChunks:]
		}
	}

	// flush sends whatever is left of an in-progress segment when the source
	// stops mid-utterance, satisfying the stop-protocol requirement that no
	// segment at or above MinSegmentDuration is silently dropped.
	flush := func() {
		if inSpeech && time.Since(segStart) >= MinSegmentDuration {
			select {
			case out <- current:
			case <-ctx.Done():
			}
		}
	}

	ticker := time.NewTicker(ProvisionalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()

		case <-ticker.C:
			if inSpeech && time.Since(segStart) >= MinSegmentDuration {
				snapshot := append([][]float32{}, current...)
				select {
				case provisional <- snapshot:
				default: // consumer hasn't drained the previous snapshot yet; skip this tick
				}
			}

		case chunk, ok := <-chunks:
			if !ok {
				flush()
				return nil
			}

			ev, fired := detector.Process(chunk.Samples)
			if fired {
				switch ev.Type {
				case vad.EventSpeechStart:
					inSpeech = true
					segStart = time.Now()
					current = append([][]float32{}, preroll...)
				case vad.EventSpeechEnd:
					inSpeech = false
					if time.Since(segStart) >= MinSegmentDuration {
						select {
						case out <- current:
						case <-ctx.Done():
							return ctx.Err()
						}
					}
					current = nil
					preroll = nil
				}
			}

			if inSpeech {
				current = append(current, chunk.Samples)
			} else {
				pushPreroll(chunk.Samples)
			}
		}
	}
}

// consume feeds committed segments to the Whisper worker for final inference
// and the periodic in-progress snapshot for cheap greedy provisional
// inference, filters hallucinated output, and emits Partial/Final events.
func (t *Transcriber) consume(ctx context.Context, segments <-chan [][]float32, provisional <-chan [][]float32) error {
	var contextWindow strings.Builder
	var lastFinal time.Time
	var lastProvisional string

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case chunks, ok := <-segments:
			if !ok {
				return nil
			}
			samples := flatten(chunks)
			if len(samples) == 0 {
				continue
			}

			if !lastFinal.IsZero() && time.Since(lastFinal) >= ContextResetAfter {
				contextWindow.Reset()
			}

			segs, err := t.worker.Transcribe(ctx, samples, whisperio.Options{
				Language:    t.cfg.Language,
				Prompt:      contextWindow.String(),
				BeamSize:    t.cfg.BeamSize,
				Temperature: t.cfg.Temperature,
				VADFilter:   true,
			})
			if err != nil {
				if t.warnRL.Allow() {
					logging.Warn(logging.CategoryTransc, "inference failed: %v", err)
				}
				continue
			}

			text := joinSegments(segs)
			text = t.filter.Clean(text)
			if text == "" {
				continue
			}

			appendToContext(&contextWindow, text)
			lastFinal = time.Now()
			lastProvisional = ""

			t.mu.Lock()
			t.finals = append(t.finals, text)
			t.mu.Unlock()

			select {
			case t.events <- Event{Kind: EventFinal, Text: text, Timestamp: lastFinal}:
			case <-ctx.Done():
				return ctx.Err()
			}

		case chunks, ok := <-provisional:
			if !ok {
				continue
			}
			samples := flatten(chunks)
			if len(samples) == 0 {
				continue
			}

			segs, err := t.worker.Transcribe(ctx, samples, whisperio.Options{
				Language: t.cfg.Language,
				Prompt:   contextWindow.String(),
				Greedy:   true,
			})
			if err != nil {
				continue
			}

			text := t.filter.Clean(joinSegments(segs))
			if text == "" || text == lastProvisional {
				continue
			}
			lastProvisional = text

			select {
			case t.events <- Event{Kind: EventPartial, Text: text, Timestamp: time.Now()}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (t *Transcriber) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			select {
			case t.events <- Event{Kind: EventHeartbeat, Timestamp: now}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Stop halts audio capture, waits for the producer to flush any remaining
// in-progress segment and the consumer to run one last final inference on
// it, then returns the whitespace-joined concatenation of every final text
// emitted over the session.
func (t *Transcriber) Stop() string {
	if err := t.source.Stop(); err != nil {
		logging.Warn(logging.CategoryTransc, "stop source: %v", err)
	}

	if t.drained != nil {
		select {
		case <-t.drained:
		case <-time.After(ProducerDrainTimeout + ConsumerDrainTimeout):
			logging.Warn(logging.CategoryTransc, "producer/consumer drain timed out, forcing shutdown")
		}
	}
	if t.cancel != nil {
		t.cancel()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.finals, " ")
}

// CleanText runs the hallucination filter over a single string, for callers
// outside the streaming pipeline (the non-streaming bulk fallback's single
// final inference result).
func CleanText(text string) string {
	return newHallucinationFilter().Clean(text)
}

func flatten(chunks [][]float32) []float32 {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]float32, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func joinSegments(segs []whisperio.Segment) string {
	var b strings.Builder
	for _, s := range segs {
		if s.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strings.TrimSpace(s.Text))
	}
	return b.String()
}

// appendToContext keeps the rolling context window at or below
// ContextWindowChars by dropping the oldest runes once full.
func appendToContext(b *strings.Builder, text string) {
	combined := b.String()
	if combined != "" {
		combined += " "
	}
	combined += text
	if runes := []rune(combined); len(runes) > ContextWindowChars {
		combined = string(runes[len(runes)-ContextWindowChars:])
	}
	b.Reset()
	b.WriteString(combined)
}

// hallucinationFilter strips whisper.cpp's common noise-marker artifacts and
// drops the whole text when it is punctuation only, matches a known spurious
// subtitle/credit phrase, or contains a repeated-phrase run — the dominant
// failure modes on near-silent or noisy audio.
type hallucinationFilter struct {
	bracketNoise *regexp.Regexp
	parenNoise   *regexp.Regexp
	timestamps   *regexp.Regexp
	spaces       *regexp.Regexp
	spurious     *regexp.Regexp
}

func newHallucinationFilter() *hallucinationFilter {
	return &hallucinationFilter{
		bracketNoise: regexp.MustCompile(`(?i)\[(?:music|applause|laughter|inaudible|noise|crosstalk|silence)\]`),
		parenNoise:   regexp.MustCompile(`(?i)\([^)]*(?:music|noise|applause|laughter)[^)]*\)`),
		timestamps:   regexp.MustCompile(`\[\d{2}:\d{2}:\d{2}\.\d{3}\s*-->\s*\d{2}:\d{2}:\d{2}\.\d{3}\]`),
		spaces:       regexp.MustCompile(`\s+`),
		// Known spurious artifacts whisper.cpp hallucinates on silence or
		// noise: media-player subtitle credits, outro boilerplate, and music
		// glyphs that never correspond to actual speech.
		spurious: regexp.MustCompile(`(?i)(subt[ií]tulos? (?:realizados?|creados?|by)|subtitles? by|subs by|translated? by|thanks? for watching|thank you for watching|please (?:like and )?subscribe|subscribe to (?:my|the|this) channel|www\.[a-z0-9.-]+\.[a-z]{2,}|♪+)`),
	}
}

func (f *hallucinationFilter) Clean(text string) string {
	text = f.timestamps.ReplaceAllString(text, "")
	text = f.bracketNoise.ReplaceAllString(text, "")
	text = f.parenNoise.ReplaceAllString(text, "")
	text = f.spaces.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	if isPunctuationOnly(text) {
		return ""
	}
	if f.spurious.MatchString(text) {
		return ""
	}
	if isDegenerateRepetition(text) {
		return ""
	}
	return text
}

func isPunctuationOnly(text string) bool {
	if text == "" {
		return true
	}
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// isDegenerateRepetition flags text containing the same phrase of at least
// 5 characters repeated 3 or more times consecutively, e.g. "subtítulos
// subtítulos subtítulos" or "the the the the the the the" — whisper.cpp's
// most common hallucination mode on near-silent or noisy audio.
func isDegenerateRepetition(text string) bool {
	words := strings.Fields(text)
	n := len(words)
	for phraseLen := 1; phraseLen*3 <= n; phraseLen++ {
		for start := 0; start+phraseLen*3 <= n; start++ {
			phrase := strings.Join(words[start:start+phraseLen], " ")
			if len(phrase) < 5 {
				continue
			}
			repeat1 := strings.Join(words[start+phraseLen:start+2*phraseLen], " ")
			repeat2 := strings.Join(words[start+2*phraseLen:start+3*phraseLen], " ")
			if strings.EqualFold(phrase, repeat1) && strings.EqualFold(phrase, repeat2) {
				return true
			}
		}
	}
	return false
}
