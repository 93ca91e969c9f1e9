package internal

import (
	"context"
	"sync"
	"testing"
	"time"

	"bookflow/config"
	"bookflow/models"
)

type fakeSource struct {
	mu      sync.Mutex
	inst    *config.InstrumentConfig
	view    models.DepthView
	renders int
}

func (f *fakeSource) Instrument() (config.InstrumentConfig, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inst == nil {
		return config.InstrumentConfig{}, false
	}
	return *f.inst, true
}

func (f *fakeSource) DepthView(grouping float64, maxRows int) (models.DepthView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders++
	v := f.view
	v.Grouping = grouping
	return v, nil
}

func (f *fakeSource) renderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renders
}

func TestPublisherEmitsViews(t *testing.T) {
	src := &fakeSource{
		inst: &config.InstrumentConfig{Name: "BTC", ProductID: "PI_XBTUSD", Groupings: []float64{0.5}},
		view: models.DepthView{
			ProductID: "PI_XBTUSD",
			Bids:      []models.LevelWithTotal{{Price: 100, Size: 1, Total: 1}},
		},
	}
	ch := NewChannels(16)
	defer ch.Close()

	p := NewViewPublisher(src, ch, 5*time.Millisecond, 25)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	select {
	case view := <-ch.ViewChan:
		if view.Grouping != 0.5 {
			t.Fatalf("view grouping = %v, want instrument's smallest 0.5", view.Grouping)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no view published")
	}
}

func TestPublisherSilentWithoutInstrument(t *testing.T) {
	src := &fakeSource{}
	ch := NewChannels(4)
	defer ch.Close()

	p := NewViewPublisher(src, ch, time.Millisecond, 25)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	p.Stop()

	if src.renderCount() != 0 {
		t.Fatal("publisher must not render with no instrument subscribed")
	}
	if got := ch.Stats(); got.ViewsSent != 0 {
		t.Fatalf("stats = %+v, want nothing sent", got)
	}
}

func TestPublisherSkipsEmptyBook(t *testing.T) {
	src := &fakeSource{
		inst: &config.InstrumentConfig{Name: "BTC", Groupings: []float64{0.5}},
	}
	ch := NewChannels(4)
	defer ch.Close()

	p := NewViewPublisher(src, ch, time.Millisecond, 25)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	p.Stop()

	if got := ch.Stats(); got.ViewsSent != 0 {
		t.Fatalf("empty book must publish nothing, stats = %+v", got)
	}
}

func TestPublisherStartTwice(t *testing.T) {
	p := NewViewPublisher(&fakeSource{}, NewChannels(1), time.Minute, 25)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("second Start must error")
	}
}
