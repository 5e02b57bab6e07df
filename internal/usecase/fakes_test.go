package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"pillhelper/internal/domain"
	"pillhelper/internal/ports"
)

type stateChange struct {
	state  domain.SpeechState
	reason domain.SpeechStateReason
}

type appError struct {
	code   domain.ErrorCode
	detail string
}

type fakeEventSink struct {
	mu         sync.Mutex
	states     []stateChange
	views      []domain.View
	scans      int
	identified []domain.HistoryEntry
	errors     []appError
}

func (f *fakeEventSink) SpeechStateChanged(state domain.SpeechState, reason domain.SpeechStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateChange{state: state, reason: reason})
}

func (f *fakeEventSink) ViewChanged(view domain.View) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views = append(f.views, view)
}

func (f *fakeEventSink) ScanStarted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
}

func (f *fakeEventSink) MedicationIdentified(_ domain.MedicationRecord, entry domain.HistoryEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identified = append(f.identified, entry)
}

func (f *fakeEventSink) AppError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, appError{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stateChange(nil), f.states...)
}

func (f *fakeEventSink) snapshotErrors() []appError {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]appError(nil), f.errors...)
}

func (f *fakeEventSink) snapshotViews() []domain.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.View(nil), f.views...)
}

// fakeDevice records speak requests. When gated, the n-th Speak call blocks
// until release(n) (or its context ends, unless ignoreCtx is set).
type fakeDevice struct {
	supported    []string
	supportedErr error
	answers      map[string]bool
	answerErrs   map[string]error
	speakErr     error
	speakPanic   any
	stopPanic    any
	gated        bool
	ignoreCtx    bool
	stopEntered  chan struct{}
	stopGate     chan struct{}

	mu       sync.Mutex
	requests []ports.SpeakRequest
	queries  []string
	gates    map[int]chan struct{}
	stops    int
	returned atomic.Int32
}

func (d *fakeDevice) SupportedLanguages(context.Context) ([]string, error) {
	return d.supported, d.supportedErr
}

func (d *fakeDevice) IsLanguageSupported(_ context.Context, tag string) (bool, error) {
	d.mu.Lock()
	d.queries = append(d.queries, tag)
	d.mu.Unlock()
	if err := d.answerErrs[tag]; err != nil {
		return false, err
	}
	return d.answers[tag], nil
}

func (d *fakeDevice) Speak(ctx context.Context, req ports.SpeakRequest) error {
	defer d.returned.Add(1)

	d.mu.Lock()
	index := len(d.requests)
	d.requests = append(d.requests, req)
	d.mu.Unlock()

	if d.speakPanic != nil {
		panic(d.speakPanic)
	}
	if d.gated {
		gate := d.gate(index)
		if d.ignoreCtx {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return d.speakErr
}

func (d *fakeDevice) Stop(context.Context) error {
	d.mu.Lock()
	d.stops++
	d.mu.Unlock()
	if d.stopEntered != nil {
		select {
		case d.stopEntered <- struct{}{}:
		default:
		}
	}
	if d.stopGate != nil {
		<-d.stopGate
	}
	if d.stopPanic != nil {
		panic(d.stopPanic)
	}
	return nil
}

func (d *fakeDevice) gate(index int) chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gates == nil {
		d.gates = map[int]chan struct{}{}
	}
	gate, ok := d.gates[index]
	if !ok {
		gate = make(chan struct{})
		d.gates[index] = gate
	}
	return gate
}

func (d *fakeDevice) release(index int) {
	close(d.gate(index))
}

func (d *fakeDevice) speakCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

func (d *fakeDevice) lastRequest() ports.SpeakRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.requests) == 0 {
		return ports.SpeakRequest{}
	}
	return d.requests[len(d.requests)-1]
}

func (d *fakeDevice) stopCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

type remoteReply struct {
	audio string
	err   error
}

type fakeRemote struct {
	configured bool
	replies    []remoteReply

	mu     sync.Mutex
	voices []ports.RemoteVoice
}

func (r *fakeRemote) Configured() bool { return r.configured }

func (r *fakeRemote) Synthesize(_ context.Context, _ string, voice ports.RemoteVoice) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	index := len(r.voices)
	r.voices = append(r.voices, voice)
	if index < len(r.replies) {
		return r.replies[index].audio, r.replies[index].err
	}
	return "", errors.New("no reply")
}

func (r *fakeRemote) calls() []ports.RemoteVoice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ports.RemoteVoice(nil), r.voices...)
}

type fakePlayer struct {
	playErr error
	stopErr error

	mu     sync.Mutex
	played [][]byte
	stops  int
}

func (p *fakePlayer) Play(_ context.Context, audio []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, audio)
	return p.playErr
}

func (p *fakePlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return p.stopErr
}

func (p *fakePlayer) snapshot() ([][]byte, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.played...), p.stops
}

type fakeQueue struct {
	cancels atomic.Int32
}

func (q *fakeQueue) Cancel() error {
	q.cancels.Add(1)
	return nil
}

type fakeRules struct {
	replace func(string, domain.Language) (string, error)
}

func (r fakeRules) Apply(text string, lang domain.Language) (string, error) {
	return r.replace(text, lang)
}

type fakeStore struct {
	loaded  []domain.HistoryEntry
	loadErr error
	saveErr error

	mu    sync.Mutex
	saves [][]domain.HistoryEntry
}

func (s *fakeStore) Load(context.Context) ([]domain.HistoryEntry, error) {
	return s.loaded, s.loadErr
}

func (s *fakeStore) Save(_ context.Context, entries []domain.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, append([]domain.HistoryEntry(nil), entries...))
	return s.saveErr
}

type fakeSource struct {
	image string
	err   error
	calls int
}

func (s *fakeSource) Capture(context.Context, ports.CaptureSource) (string, error) {
	s.calls++
	return s.image, s.err
}

type fakeIdentifier struct {
	record domain.MedicationRecord
	err    error
	langs  []domain.Language
}

func (f *fakeIdentifier) Identify(_ context.Context, _ string, lang domain.Language) (domain.MedicationRecord, error) {
	f.langs = append(f.langs, lang)
	return f.record, f.err
}

type fakeStopper struct {
	stops atomic.Int32
}

func (s *fakeStopper) StopAll() {
	s.stops.Add(1)
}

func aspirin() *domain.MedicationRecord {
	return &domain.MedicationRecord{
		Name:        "Aspirin",
		Dosage:      "1 tablet",
		Frequency:   "every 6 hours",
		Purpose:     "pain relief",
		Precautions: "take with food",
	}
}
