package stages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/envelope"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/fingerprint"
	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/pipeline"
)

type memLookup struct {
	entries map[string]string
}

func newMemLookup() *memLookup { return &memLookup{entries: map[string]string{}} }

func (m *memLookup) Get(_ context.Context, key string) (string, bool, error) {
	loc, ok := m.entries[key]
	return loc, ok, nil
}

func (m *memLookup) Set(_ context.Context, key, locator string) error {
	m.entries[key] = locator
	return nil
}

type memMessage struct {
	stream string
	body   []byte
}

type memBus struct {
	queue []memMessage
}

func (b *memBus) Publish(_ context.Context, stream string, body []byte) error {
	b.queue = append(b.queue, memMessage{stream, body})
	return nil
}

func (b *memBus) DeadLetter(_ context.Context, _ string, _ []byte, _ error) error {
	return errors.New("unexpected dead-letter")
}

func (b *memBus) pop() (memMessage, bool) {
	if len(b.queue) == 0 {
		return memMessage{}, false
	}
	msg := b.queue[0]
	b.queue = b.queue[1:]
	return msg, true
}

type memStore struct {
	objects map[string][]byte
	putErr  error
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (s *memStore) Put(_ context.Context, name string, data []byte) (string, error) {
	if s.putErr != nil {
		return "", s.putErr
	}
	locator := "mem://" + name
	s.objects[locator] = append([]byte(nil), data...)
	return locator, nil
}

func (s *memStore) Fetch(_ context.Context, locator string) ([]byte, error) {
	data, ok := s.objects[locator]
	if !ok {
		return nil, fmt.Errorf("no object at %s", locator)
	}
	return data, nil
}

// stubExtractor maps image bytes to text, counting invocations.
type stubExtractor struct {
	byContent map[string]string
	err       error
	calls     int
}

func (e *stubExtractor) Extract(_ context.Context, image []byte) (string, error) {
	e.calls++
	if e.err != nil {
		return "", e.err
	}
	if text, ok := e.byContent[string(image)]; ok {
		return text, nil
	}
	return "recognized text", nil
}

type stubTranslator struct {
	err   error
	calls int
}

func (t *stubTranslator) Translate(_ context.Context, text string) (string, error) {
	t.calls++
	if t.err != nil {
		return "", t.err
	}
	return "translated: " + text, nil
}

type stubRenderer struct {
	err   error
	calls int
}

func (r *stubRenderer) Render(text string) ([]byte, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return append([]byte("%PDF "), text...), nil
}

func TestIntakeSubmitPublishesJob(t *testing.T) {
	t.Parallel()
	content := newMemLookup()
	store := newMemStore()
	bus := &memBus{}
	intake := NewIntake(content, store, bus, false, nil)

	res, err := intake.Submit(context.Background(), "menu.jpg", []byte("image bytes"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.CacheHit || res.JobID == "" {
		t.Fatalf("expected a fresh job, got %+v", res)
	}
	msg, ok := bus.pop()
	if !ok {
		t.Fatal("no message published")
	}
	if msg.stream != pipeline.StreamIngestToExtract {
		t.Fatalf("published to wrong stream: %s", msg.stream)
	}
	decoded, err := envelope.Decode(msg.body)
	if err != nil {
		t.Fatalf("published message malformed: %v", err)
	}
	env := decoded.Env
	if env.Type != envelope.TypeFileUploaded || env.JobID != res.JobID {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.ContentFingerprint != fingerprint.HashContent([]byte("image bytes")) {
		t.Fatalf("wrong fingerprint: %s", env.ContentFingerprint)
	}
	if !strings.HasSuffix(env.ContentRef, res.JobID+".jpg") {
		t.Fatalf("content stored under unexpected name: %s", env.ContentRef)
	}
	if _, ok := store.objects[env.ContentRef]; !ok {
		t.Fatal("raw content not persisted")
	}
}

func TestIntakeSubmitCacheHit(t *testing.T) {
	t.Parallel()
	content := newMemLookup()
	data := []byte("seen before")
	content.entries[fingerprint.HashContent(data)] = "mem://done.pdf"
	store := newMemStore()
	bus := &memBus{}
	intake := NewIntake(content, store, bus, false, nil)

	res, err := intake.Submit(context.Background(), "again.png", data)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !res.CacheHit || res.ArtifactURL != "mem://done.pdf" {
		t.Fatalf("expected cache hit, got %+v", res)
	}
	if len(bus.queue) != 0 || len(store.objects) != 0 {
		t.Fatal("cache hit must neither publish nor store")
	}
}

func TestIntakeSubmitRejectsEmptyContent(t *testing.T) {
	t.Parallel()
	intake := NewIntake(newMemLookup(), newMemStore(), &memBus{}, false, nil)
	if _, err := intake.Submit(context.Background(), "empty.jpg", nil); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestIntakeDefaultsExtensionlessUploads(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	bus := &memBus{}
	intake := NewIntake(newMemLookup(), store, bus, false, nil)

	res, err := intake.Submit(context.Background(), "scan", []byte("bytes"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	msg, _ := bus.pop()
	decoded, err := envelope.Decode(msg.body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasSuffix(decoded.Env.ContentRef, res.JobID+".bin") {
		t.Fatalf("expected .bin fallback, got %s", decoded.Env.ContentRef)
	}
}

func TestExtractFetchesContentAndAdvances(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	locator, err := store.Put(context.Background(), "j1.jpg", []byte("stored image"))
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	extractor := &stubExtractor{byContent: map[string]string{"stored image": "hello world"}}
	handler := NewExtract(store, extractor, newMemLookup(), nil)

	res := handler.Handle(context.Background(), &envelope.Envelope{
		Type:               envelope.TypeFileUploaded,
		ContentRef:         locator,
		ContentFingerprint: "h1",
		JobID:              "j1",
	})
	if res.Outcome != pipeline.OutcomeAdvance {
		t.Fatalf("expected advance, got %+v", res)
	}
	if res.Next.ExtractedText != "hello world" {
		t.Fatalf("wrong extracted text: %q", res.Next.ExtractedText)
	}
	if res.Next.TextFingerprint != fingerprint.EncodeText("hello world") {
		t.Fatalf("wrong text key: %q", res.Next.TextFingerprint)
	}
	if res.Next.Type != envelope.TypeTextExtracted {
		t.Fatalf("wrong type: %s", res.Next.Type)
	}
}

func TestExtractUsesInlineBytes(t *testing.T) {
	t.Parallel()
	extractor := &stubExtractor{byContent: map[string]string{"inline": "inline text"}}
	handler := NewExtract(newMemStore(), extractor, newMemLookup(), nil)

	res := handler.Handle(context.Background(), &envelope.Envelope{
		Type:               envelope.TypeFileUploaded,
		RawBytes:           []byte("inline"),
		ContentFingerprint: "h1",
		JobID:              "j1",
	})
	if res.Outcome != pipeline.OutcomeAdvance {
		t.Fatalf("expected advance, got %+v", res)
	}
	if res.Next.ExtractedText != "inline text" {
		t.Fatalf("wrong extracted text: %q", res.Next.ExtractedText)
	}
}

func TestExtractTerminatesOnTextCacheHit(t *testing.T) {
	t.Parallel()
	text := newMemLookup()
	text.entries[fingerprint.EncodeText("same menu")] = "mem://earlier.pdf"
	extractor := &stubExtractor{byContent: map[string]string{"photo b": "same menu"}}
	handler := NewExtract(newMemStore(), extractor, text, nil)

	res := handler.Handle(context.Background(), &envelope.Envelope{
		Type:               envelope.TypeFileUploaded,
		RawBytes:           []byte("photo b"),
		ContentFingerprint: "hB",
		JobID:              "j2",
	})
	if res.Outcome != pipeline.OutcomeTerminal {
		t.Fatalf("expected terminal, got %+v", res)
	}
	if res.Artifact != "mem://earlier.pdf" {
		t.Fatalf("wrong artifact: %s", res.Artifact)
	}
}

func TestExtractFailsWhenRecognitionFails(t *testing.T) {
	t.Parallel()
	extractor := &stubExtractor{err: errors.New("no text found")}
	handler := NewExtract(newMemStore(), extractor, newMemLookup(), nil)

	res := handler.Handle(context.Background(), &envelope.Envelope{
		RawBytes: []byte("noise"), ContentFingerprint: "h", JobID: "j",
	})
	if res.Outcome != pipeline.OutcomeFailure {
		t.Fatalf("expected failure, got %+v", res)
	}
}

func TestExtractFailsWhenContentMissing(t *testing.T) {
	t.Parallel()
	handler := NewExtract(newMemStore(), &stubExtractor{}, newMemLookup(), nil)

	res := handler.Handle(context.Background(), &envelope.Envelope{
		ContentRef: "mem://gone.jpg", ContentFingerprint: "h", JobID: "j",
	})
	if res.Outcome != pipeline.OutcomeFailure {
		t.Fatalf("expected failure, got %+v", res)
	}
}

func TestTranslateAdvances(t *testing.T) {
	t.Parallel()
	handler := NewTranslate(&stubTranslator{}, nil)

	res := handler.Handle(context.Background(), &envelope.Envelope{
		Type: envelope.TypeTextExtracted, ExtractedText: "xin chào",
		TextFingerprint: "k", ContentFingerprint: "h", JobID: "j",
	})
	if res.Outcome != pipeline.OutcomeAdvance {
		t.Fatalf("expected advance, got %+v", res)
	}
	if res.Next.TranslatedText != "translated: xin chào" {
		t.Fatalf("wrong translation: %q", res.Next.TranslatedText)
	}
	if res.Next.Type != envelope.TypeTextTranslated {
		t.Fatalf("wrong type: %s", res.Next.Type)
	}
}

func TestTranslateFailsWhenServiceDown(t *testing.T) {
	t.Parallel()
	handler := NewTranslate(&stubTranslator{err: errors.New("service unavailable")}, nil)
	res := handler.Handle(context.Background(), &envelope.Envelope{ExtractedText: "text"})
	if res.Outcome != pipeline.OutcomeFailure {
		t.Fatalf("expected failure, got %+v", res)
	}
}

func TestRenderStoresArtifact(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	handler := NewRender(&stubRenderer{}, store, nil)

	res := handler.Handle(context.Background(), &envelope.Envelope{
		TranslatedText: "hello", JobID: "j9",
	})
	if res.Outcome != pipeline.OutcomeTerminal {
		t.Fatalf("expected terminal, got %+v", res)
	}
	data, ok := store.objects[res.Artifact]
	if !ok {
		t.Fatalf("artifact not stored at %s", res.Artifact)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("stored artifact is not a PDF: %q", data[:8])
	}
	if !strings.HasSuffix(res.Artifact, "j9.pdf") {
		t.Fatalf("artifact named oddly: %s", res.Artifact)
	}
}

func TestRenderFailsWhenStoreFails(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.putErr = errors.New("disk full")
	handler := NewRender(&stubRenderer{}, store, nil)

	res := handler.Handle(context.Background(), &envelope.Envelope{TranslatedText: "hello", JobID: "j"})
	if res.Outcome != pipeline.OutcomeFailure {
		t.Fatalf("expected failure, got %+v", res)
	}
}
