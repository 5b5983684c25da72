package memory

import (
	"context"
	"strings"
	"testing"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "runs/1/index.html", "text/html", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://runs/1/index.html" {
		t.Fatalf("unexpected uri %q", uri)
	}
	got, ok := store.Object("runs/1/index.html")
	if !ok || string(got) != "data" {
		t.Fatalf("Object() = %q, %v", got, ok)
	}
	got[0] = 'X'
	again, _ := store.Object("runs/1/index.html")
	if string(again) != "data" {
		t.Fatal("expected Object to return a copy")
	}
	if paths := store.Paths(); len(paths) != 1 || paths[0] != "runs/1/index.html" {
		t.Fatalf("unexpected paths %v", paths)
	}
}
