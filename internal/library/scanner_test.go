package library

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writePNG(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestMediaTypeOf(t *testing.T) {
	tests := map[string]string{
		"a.JPG":      MediaImage,
		"b.webp":     MediaImage,
		"c.mov":      MediaVideo,
		"notes.txt":  "",
		"noext":      "",
		"dir/x.tiff": MediaImage,
	}
	for name, want := range tests {
		if got := MediaTypeOf(name); got != want {
			t.Errorf("MediaTypeOf(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestIDForStable(t *testing.T) {
	if IDFor("/a/b/../c.jpg") != IDFor("/a/c.jpg") {
		t.Error("IDFor should clean paths")
	}
	if IDFor("/a.jpg") == IDFor("/b.jpg") {
		t.Error("distinct paths share an id")
	}
	if len(IDFor("/a.jpg")) != 24 {
		t.Errorf("id length = %d", len(IDFor("/a.jpg")))
	}
}

func TestProbe(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "red.png")
	writePNG(t, path, 8, 4, color.RGBA{R: 255, A: 255})
	mtime := time.Date(2021, 5, 6, 7, 8, 9, 0, time.UTC)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	r, err := Probe(path, true)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if r.Width != 8 || r.Height != 4 {
		t.Errorf("size = %dx%d", r.Width, r.Height)
	}
	if r.Bucket != "2021-05-06" || !r.TakenAt.Equal(mtime) {
		t.Errorf("bucket = %s taken = %v", r.Bucket, r.TakenAt)
	}
	if r.Color != "#ff0000" {
		t.Errorf("color = %s, want #ff0000", r.Color)
	}

	r, err = Probe(path, false)
	if err != nil || r.Color != "" {
		t.Errorf("Probe without colors = %q, %v", r.Color, err)
	}

	if _, err := Probe(filepath.Join(dir, "x.txt"), false); err == nil {
		t.Error("Probe of non-media should fail")
	}
}

func TestProbeBrokenImageKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jpg")
	if err := os.WriteFile(path, []byte("not a jpeg"), 0644); err != nil {
		t.Fatal(err)
	}
	r, err := Probe(path, true)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if r.Width != 0 || r.MediaType != MediaImage {
		t.Errorf("record = %+v", r)
	}
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	old := time.Date(2020, 2, 2, 12, 0, 0, 0, time.UTC)
	files := []string{"2020/a.png", "2020/b.png", "misc/c.png"}
	for _, f := range files {
		p := filepath.Join(root, f)
		writePNG(t, p, 2, 2, color.White)
		if err := os.Chtimes(p, old, old); err != nil {
			t.Fatal(err)
		}
	}
	writePNG(t, filepath.Join(root, ".hidden", "h.png"), 2, 2, color.Black)
	if err := os.WriteFile(filepath.Join(root, "readme.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	s := openTestStore(t)
	ctx := context.Background()
	var progress int
	sc := &Scanner{Store: s, Workers: 2, BatchSize: 2, Progress: func(ScanProgress) { progress++ }}

	res, err := sc.Scan(ctx, root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Files != 3 || res.Indexed != 3 || res.Failed != 0 {
		t.Errorf("result = %+v", res)
	}
	if progress != 3 {
		t.Errorf("progress calls = %d", progress)
	}
	if len(res.Buckets) != 1 || res.Buckets[0] != "2020-02-02" {
		t.Errorf("buckets = %v", res.Buckets)
	}

	res, err = sc.Scan(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 3 || res.Indexed != 0 {
		t.Errorf("rescan = %+v, want all skipped", res)
	}
}
