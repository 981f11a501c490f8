package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSystem(t *testing.T) {
	var fsys FileSystem = OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "out", "figures")

	if fsys.Exists(dir) {
		t.Fatal("directory should not exist yet")
	}
	if err := fsys.MkdirAll(dir); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if !fsys.Exists(dir) {
		t.Fatal("directory should exist after MkdirAll")
	}

	path := filepath.Join(dir, "a.csv")
	if err := fsys.WriteFile(path, []byte("x,y\n")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	w, err := fsys.Create(filepath.Join(dir, "b.csv"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := io.WriteString(w, "1,2\n"); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := fsys.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	if string(data) != "x,y\n" {
		t.Errorf("read %q", data)
	}
	if b, _ := os.ReadFile(filepath.Join(dir, "b.csv")); string(b) != "1,2\n" {
		t.Errorf("created file holds %q", b)
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.WriteFile("/in/trials.csv", []byte("hello")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	r, err := mfs.Open("/in/../in/trials.csv")
	if err != nil {
		t.Fatalf("Open of a cleaned path failed: %v", err)
	}
	data, _ := io.ReadAll(r)
	if string(data) != "hello" {
		t.Errorf("expected hello, got %q", data)
	}

	if _, err := mfs.Open("/in/missing.csv"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestMemoryFileSystem_CreateVisibleOnClose(t *testing.T) {
	mfs := NewMemoryFileSystem()
	w, err := mfs.Create("/out/report.json")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("{}")); err != nil {
		t.Fatal(err)
	}
	if got, _ := mfs.ReadFile("/out/report.json"); len(got) != 0 {
		t.Errorf("content visible before Close: %q", got)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if got, _ := mfs.ReadFile("/out/report.json"); string(got) != "{}" {
		t.Errorf("after Close got %q", got)
	}
	if err := w.Close(); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("second Close should fail, got %v", err)
	}
	if _, err := w.Write([]byte("x")); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("write after Close should fail, got %v", err)
	}
}

func TestMemoryFileSystem_ReadFileReturnsCopy(t *testing.T) {
	mfs := NewMemoryFileSystem()
	src := []byte("abc")
	_ = mfs.WriteFile("/f", src)
	src[0] = 'z'
	got, _ := mfs.ReadFile("/f")
	got[1] = 'z'
	again, _ := mfs.ReadFile("/f")
	if string(again) != "abc" {
		t.Errorf("stored content was aliased: %q", again)
	}
}

func TestMemoryFileSystem_DirsAndFiles(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.MkdirAll("/out/figures"); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"/out", "/out/figures"} {
		if !mfs.Exists(p) {
			t.Errorf("%s should exist", p)
		}
	}
	if err := mfs.WriteFile("/out/figures", []byte("x")); err == nil {
		t.Error("writing over a directory should fail")
	}

	_ = mfs.WriteFile("/out/b.csv", nil)
	_ = mfs.WriteFile("/out/figures/a.png", nil)
	_ = mfs.WriteFile("/other/c.csv", nil)

	got := mfs.Files("/out")
	want := []string{"/out/b.csv", "/out/figures/a.png"}
	if len(got) != len(want) {
		t.Fatalf("Files = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Files[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	_ = mfs.WriteFile("/blocked", nil)
	if err := mfs.MkdirAll("/blocked/sub"); err == nil {
		t.Error("MkdirAll through a file should fail")
	}
}
