package kv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "access_token"); err != nil || ok {
		t.Fatalf("expected empty store, ok=%v err=%v", ok, err)
	}
	if err := s.SetMany(ctx, map[string]string{
		"access_token": "tok-1",
		"user_info":    `{"username":"alice"}`,
	}); err != nil {
		t.Fatalf("set many: %v", err)
	}
	got, ok, err := s.Get(ctx, "access_token")
	if err != nil || !ok || got != "tok-1" {
		t.Fatalf("unexpected token: %q ok=%v err=%v", got, ok, err)
	}
	got, ok, err = s.Get(ctx, "user_info")
	if err != nil || !ok || got != `{"username":"alice"}` {
		t.Fatalf("unexpected user info: %q ok=%v err=%v", got, ok, err)
	}

	if err := s.Delete(ctx, "access_token", "user_info"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, key := range []string{"access_token", "user_info"} {
		if _, ok, err := s.Get(ctx, key); err != nil || ok {
			t.Fatalf("expected %s cleared, ok=%v err=%v", key, ok, err)
		}
	}
	// deleting twice is fine
	if err := s.Delete(ctx, "access_token"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	exerciseStore(t, s)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected state file removed once empty, stat err: %v", err)
	}
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	first, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := first.SetMany(context.Background(), map[string]string{"access_token": "persisted"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	second, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen file store: %v", err)
	}
	got, ok, err := second.Get(context.Background(), "access_token")
	if err != nil || !ok || got != "persisted" {
		t.Fatalf("unexpected value after reopen: %q ok=%v err=%v", got, ok, err)
	}
}

func TestFileStoreCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if _, _, err := s.Get(context.Background(), "access_token"); err == nil {
		t.Fatalf("expected parse error for corrupt document")
	}
	if err := s.SetMany(context.Background(), map[string]string{"access_token": "fresh"}); err != nil {
		t.Fatalf("set over corrupt document: %v", err)
	}
	got, ok, err := s.Get(context.Background(), "access_token")
	if err != nil || !ok || got != "fresh" {
		t.Fatalf("unexpected value: %q ok=%v err=%v", got, ok, err)
	}
}

func TestRedisStore(t *testing.T) {
	redis := miniredis.RunT(t)
	s := NewRedisStore(redis.Addr(), "", "test:kv")
	defer s.Close()
	exerciseStore(t, s)
}

func TestRedisStoreUsesPrefix(t *testing.T) {
	redis := miniredis.RunT(t)
	s := NewRedisStore(redis.Addr(), "", "test:kv")
	defer s.Close()

	if err := s.SetMany(context.Background(), map[string]string{"access_token": "tok"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := redis.Get("test:kv:access_token")
	if err != nil {
		t.Fatalf("miniredis get: %v", err)
	}
	if got != "tok" {
		t.Fatalf("unexpected raw value: %q", got)
	}
}
