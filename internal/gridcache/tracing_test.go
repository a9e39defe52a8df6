package gridcache

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/bodul/wafflegram/internal/identity"
)

func spanAttr(s sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range s.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())

	c := newReadyCache(t, &fakeStore{}, WithTracerProvider(tp))
	kp, err := identity.Generate("suzy")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	c.Save(context.Background(), kp, red(1, 1))
	c.Save(context.Background(), nil, red(1, 1))
	// Close waits for bootstrap to return, which ends its span.
	c.Close()

	byName := map[string][]sdktrace.ReadOnlySpan{}
	for _, s := range rec.Ended() {
		byName[s.Name()] = append(byName[s.Name()], s)
	}

	boot := byName["gridcache.bootstrap"]
	if len(boot) != 1 {
		t.Fatalf("expected 1 bootstrap span, got %d", len(boot))
	}
	if v, ok := spanAttr(boot[0], "cells"); !ok || v.AsInt64() != 0 {
		t.Fatalf("expected cells=0 on bootstrap span, got %v", v)
	}

	saves := byName["gridcache.save"]
	if len(saves) != 2 {
		t.Fatalf("expected 2 save spans, got %d", len(saves))
	}
	if v, _ := spanAttr(saves[0], "outcome"); v.AsString() != "accepted" {
		t.Fatalf("expected accepted outcome, got %q", v.AsString())
	}
	if saves[1].Status().Code != codes.Error {
		t.Fatalf("expected rejected save to set error status, got %v", saves[1].Status())
	}
}
