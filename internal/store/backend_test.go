package store

import (
	"context"
	"errors"
	"testing"
)

// testBackendSemantics checks the behaviour every Backend must share.
func testBackendSemantics(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("create folder twice", func(t *testing.T) {
		if err := b.CreateFolder(ctx, "/r1"); err != nil {
			t.Fatalf("CreateFolder() error = %v", err)
		}
		if err := b.CreateFolder(ctx, "/r1"); !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("second CreateFolder() error = %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("create folder with missing parent", func(t *testing.T) {
		if err := b.CreateFolder(ctx, "/missing/child"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("CreateFolder() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("upload and download", func(t *testing.T) {
		if err := b.Upload(ctx, "/r1/a.txt", []byte("hello"), "text/plain", true); err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
		got, err := b.Download(ctx, "/r1/a.txt")
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if string(got) != "hello" {
			t.Errorf("Download() = %q, want hello", got)
		}
	})

	t.Run("upload without parent", func(t *testing.T) {
		err := b.Upload(ctx, "/nope/a.txt", []byte("x"), "", true)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Upload() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("create if absent", func(t *testing.T) {
		if err := b.Upload(ctx, "/r1/lock.json", []byte("first"), "", false); err != nil {
			t.Fatalf("first Upload() error = %v", err)
		}
		err := b.Upload(ctx, "/r1/lock.json", []byte("second"), "", false)
		if !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("second Upload() error = %v, want ErrAlreadyExists", err)
		}
		got, _ := b.Download(ctx, "/r1/lock.json")
		if string(got) != "first" {
			t.Errorf("content = %q, want first", got)
		}
	})

	t.Run("list", func(t *testing.T) {
		if err := b.CreateFolder(ctx, "/r1/sub"); err != nil {
			t.Fatalf("CreateFolder() error = %v", err)
		}
		entries, err := b.List(ctx, "/r1")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		names := map[string]bool{}
		for _, e := range entries {
			names[e.Name] = e.IsDir
		}
		if isDir, ok := names["sub"]; !ok || !isDir {
			t.Errorf("List() missing folder sub: %v", names)
		}
		if isDir, ok := names["a.txt"]; !ok || isDir {
			t.Errorf("List() missing file a.txt: %v", names)
		}
		if _, err := b.List(ctx, "/absent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("List(absent) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("stat", func(t *testing.T) {
		e, err := b.Stat(ctx, "/r1/a.txt")
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if e.IsDir || e.Size != 5 || e.Name != "a.txt" {
			t.Errorf("Stat() = %+v", e)
		}
		if _, err := b.Stat(ctx, "/r1/zzz"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Stat(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("move folder", func(t *testing.T) {
		if err := b.Upload(ctx, "/r1/sub/p.jpg", []byte("jpg"), "image/jpeg", true); err != nil {
			t.Fatal(err)
		}
		if err := b.CreateFolder(ctx, "/archive"); err != nil {
			t.Fatal(err)
		}
		if err := b.Move(ctx, "/r1/sub", "/archive/sub", false); err != nil {
			t.Fatalf("Move() error = %v", err)
		}
		if _, err := b.Stat(ctx, "/r1/sub"); !errors.Is(err, ErrNotFound) {
			t.Errorf("source still present: %v", err)
		}
		got, err := b.Download(ctx, "/archive/sub/p.jpg")
		if err != nil || string(got) != "jpg" {
			t.Errorf("moved file = %q, %v", got, err)
		}
	})

	t.Run("move onto existing without overwrite", func(t *testing.T) {
		if err := b.Upload(ctx, "/r1/b.txt", []byte("b"), "", true); err != nil {
			t.Fatal(err)
		}
		err := b.Move(ctx, "/r1/b.txt", "/r1/a.txt", false)
		if !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("Move() error = %v, want ErrAlreadyExists", err)
		}
		if err := b.Move(ctx, "/r1/missing", "/r1/c.txt", false); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Move(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("publish", func(t *testing.T) {
		url, err := b.Publish(ctx, "/archive/sub")
		if err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		if url == "" {
			t.Error("Publish() returned empty URL")
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := b.Delete(ctx, "/archive"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := b.Stat(ctx, "/archive/sub/p.jpg"); !errors.Is(err, ErrNotFound) {
			t.Errorf("nested file survived delete: %v", err)
		}
		if err := b.Delete(ctx, "/archive"); !errors.Is(err, ErrNotFound) {
			t.Errorf("second Delete() error = %v, want ErrNotFound", err)
		}
	})
}

func TestMemoryBackend(t *testing.T) {
	testBackendSemantics(t, NewMemoryBackend(""))
}

func TestFileSystemBackend(t *testing.T) {
	b, err := NewFileSystemBackend(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewFileSystemBackend() error = %v", err)
	}
	testBackendSemantics(t, b)
}

func TestMemoryBackend_Put(t *testing.T) {
	b := NewMemoryBackend("")
	b.Put("/a/b/c.txt", []byte("x"))

	entries, err := b.List(context.Background(), "/a/b")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "c.txt" {
		t.Errorf("List() = %+v", entries)
	}
	if files := b.Files(); len(files) != 1 || files[0] != "/a/b/c.txt" {
		t.Errorf("Files() = %v", files)
	}
}

func TestFileSystemBackend_PublicURL(t *testing.T) {
	b, err := NewFileSystemBackend(t.TempDir(), "https://photos.example.com/share/")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := b.CreateFolder(ctx, "/R1"); err != nil {
		t.Fatal(err)
	}
	url, err := b.Publish(ctx, "/R1")
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if url != "https://photos.example.com/share/R1" {
		t.Errorf("Publish() = %q", url)
	}
}

func TestMemoryBackend_CancelledContext(t *testing.T) {
	b := NewMemoryBackend("")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.List(ctx, "/"); !errors.Is(err, context.Canceled) {
		t.Errorf("List() error = %v, want context.Canceled", err)
	}
	if err := b.CreateFolder(ctx, "/r1"); !errors.Is(err, context.Canceled) {
		t.Errorf("CreateFolder() error = %v, want context.Canceled", err)
	}
	if _, err := b.Stat(context.Background(), "/r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stat() error = %v, want the folder never created", err)
	}
}
