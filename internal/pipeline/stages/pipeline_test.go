package stages

import (
	"context"
	"testing"

	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/envelope"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/fingerprint"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/pipeline"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/repository"
)

// happyLedger fails the test if any stage records a failure.
type happyLedger struct {
	t *testing.T
}

func (l *happyLedger) RecordFailure(_ context.Context, env *envelope.Envelope, step int, cause error) error {
	l.t.Fatalf("unexpected failure at step %d for %s: %v", step, env.JobID, cause)
	return nil
}

func (l *happyLedger) Resolve(context.Context, string) error { return nil }
func (l *happyLedger) ListUnresolved(context.Context) ([]repository.RetryJob, error) {
	return nil, nil
}
func (l *happyLedger) GetForStep(context.Context, []int64, int) ([]repository.RetryJob, error) {
	return nil, nil
}
func (l *happyLedger) ListAll(context.Context) ([]repository.RetryJob, error) { return nil, nil }

type captureNotifier struct {
	artifacts map[string]string
}

func (n *captureNotifier) Notify(_ context.Context, jobID, locator string) error {
	n.artifacts[jobID] = locator
	return nil
}

// testPipeline wires the three stage executors over an in-memory bus so a
// submitted job can be driven to completion synchronously.
type testPipeline struct {
	t          *testing.T
	bus        *memBus
	store      *memStore
	content    *memLookup
	text       *memLookup
	intake     *Intake
	extractor  *stubExtractor
	translator *stubTranslator
	renderer   *stubRenderer
	notifier   *captureNotifier
	executors  map[string]*pipeline.Executor
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()
	p := &testPipeline{
		t:          t,
		bus:        &memBus{},
		store:      newMemStore(),
		content:    newMemLookup(),
		text:       newMemLookup(),
		extractor:  &stubExtractor{byContent: map[string]string{}},
		translator: &stubTranslator{},
		renderer:   &stubRenderer{},
		notifier:   &captureNotifier{artifacts: map[string]string{}},
	}
	p.intake = NewIntake(p.content, p.store, p.bus, false, nil)

	ledger := &happyLedger{t: t}
	handlers := []pipeline.Handler{
		NewExtract(p.store, p.extractor, p.text, nil),
		NewTranslate(p.translator, nil),
		NewRender(p.renderer, p.store, nil),
	}
	p.executors = map[string]*pipeline.Executor{}
	for _, h := range handlers {
		stream, err := pipeline.StreamForStep(h.Step())
		if err != nil {
			t.Fatalf("stream for step %d: %v", h.Step(), err)
		}
		exec, err := pipeline.NewExecutor(h, p.content, p.text, ledger, p.bus, p.notifier, nil)
		if err != nil {
			t.Fatalf("executor for step %d: %v", h.Step(), err)
		}
		p.executors[stream] = exec
	}
	return p
}

// drain delivers queued messages until the bus is empty.
func (p *testPipeline) drain() {
	p.t.Helper()
	for {
		msg, ok := p.bus.pop()
		if !ok {
			return
		}
		exec, ok := p.executors[msg.stream]
		if !ok {
			p.t.Fatalf("message on unknown stream %s", msg.stream)
		}
		if err := exec.HandleDelivery(context.Background(), msg.body); err != nil {
			p.t.Fatalf("delivery on %s failed: %v", msg.stream, err)
		}
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t)
	image := []byte("photo of a menu")
	p.extractor.byContent[string(image)] = "pho bo 50k"

	res, err := p.intake.Submit(context.Background(), "menu.jpg", image)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	p.drain()

	artifact, ok := p.notifier.artifacts[res.JobID]
	if !ok {
		t.Fatal("requester never notified")
	}
	pdf, err := p.store.Fetch(context.Background(), artifact)
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if len(pdf) == 0 {
		t.Fatal("artifact empty")
	}
	if p.extractor.calls != 1 || p.translator.calls != 1 || p.renderer.calls != 1 {
		t.Fatalf("each stage should run once: ocr=%d translate=%d render=%d",
			p.extractor.calls, p.translator.calls, p.renderer.calls)
	}

	hash := fingerprint.HashContent(image)
	if p.content.entries[hash] != artifact {
		t.Fatalf("content cache not populated: %v", p.content.entries)
	}
	textKey := fingerprint.EncodeText("pho bo 50k")
	if p.text.entries[textKey] != artifact {
		t.Fatalf("text cache not populated: %v", p.text.entries)
	}
}

func TestPipelineDuplicateContentShortCircuits(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t)
	image := []byte("same bytes")
	p.extractor.byContent[string(image)] = "some text"

	first, err := p.intake.Submit(context.Background(), "a.jpg", image)
	if err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	p.drain()
	artifact := p.notifier.artifacts[first.JobID]

	second, err := p.intake.Submit(context.Background(), "b.jpg", image)
	if err != nil {
		t.Fatalf("second Submit failed: %v", err)
	}
	if !second.CacheHit || second.ArtifactURL != artifact {
		t.Fatalf("duplicate upload should hit the cache: %+v", second)
	}
	if p.extractor.calls != 1 || p.translator.calls != 1 || p.renderer.calls != 1 {
		t.Fatal("duplicate upload must not re-run any stage")
	}
}

// Two byte-distinct photos of the same text: the second job runs recognition
// but stops there, reusing the first job's artifact via the text cache.
func TestPipelineDuplicateTextShortCircuits(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t)
	photoA := []byte("photo from the left")
	photoB := []byte("photo from the right")
	p.extractor.byContent[string(photoA)] = "identical menu text"
	p.extractor.byContent[string(photoB)] = "identical menu text"

	first, err := p.intake.Submit(context.Background(), "a.jpg", photoA)
	if err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	p.drain()
	artifact := p.notifier.artifacts[first.JobID]

	second, err := p.intake.Submit(context.Background(), "b.jpg", photoB)
	if err != nil {
		t.Fatalf("second Submit failed: %v", err)
	}
	if second.CacheHit {
		t.Fatal("distinct bytes must not hit the content cache at intake")
	}
	p.drain()

	if p.notifier.artifacts[second.JobID] != artifact {
		t.Fatalf("second job should reuse the first artifact, got %q", p.notifier.artifacts[second.JobID])
	}
	if p.extractor.calls != 2 {
		t.Fatalf("recognition should run for both photos, ran %d times", p.extractor.calls)
	}
	if p.translator.calls != 1 || p.renderer.calls != 1 {
		t.Fatalf("translate/render must not re-run: translate=%d render=%d",
			p.translator.calls, p.renderer.calls)
	}
	// The second photo's fingerprint now resolves directly as well.
	if p.content.entries[fingerprint.HashContent(photoB)] != artifact {
		t.Fatal("second photo's content fingerprint should be backfilled")
	}
}
