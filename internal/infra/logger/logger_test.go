package logger

import "testing"

func TestNew_RejectsUnknownLevel(t *testing.T) {
	if _, err := New(Config{Level: "chatty"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNew_AttachesService(t *testing.T) {
	l, err := New(Config{Development: true, Level: "debug", Service: "powertrack"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if !l.Core().Enabled(-1) {
		t.Fatal("expected debug level to be enabled")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNew_RejectsUnknownEncoding(t *testing.T) {
	if _, err := New(Config{Encoding: "xml"}); err == nil {
		t.Fatal("expected error for unknown encoding")
	}
}

func TestNew_ProductionDefaultsToInfo(t *testing.T) {
	l, err := New(Config{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if l.Core().Enabled(-1) {
		t.Fatal("expected debug level to be disabled")
	}
}

func TestFields(t *testing.T) {
	if f := ClickID("clk_1"); f.Key != "click_id" || f.String != "clk_1" {
		t.Fatalf("unexpected click field %+v", f)
	}
	if f := OrderID("o-1"); f.Key != "order_id" {
		t.Fatalf("unexpected order field %+v", f)
	}
}
