package testutil

import (
	"context"
	"testing"

	"github.com/youwenMonkey/odoo-connector/internal/storage"
)

var _ storage.Ledger = (*FakeStore)(nil)

func TestFakeStorePing(t *testing.T) {
	t.Parallel()
	s := NewFakeStore()
	if err := s.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Error("expected ping to fail after close")
	}
}
