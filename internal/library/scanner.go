package library

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/wethinkt/go-timegrid/internal/timeline"
	"github.com/wethinkt/go-timegrid/internal/tuilog"
)

// Media types stored in the library.
const (
	MediaImage = "image"
	MediaVideo = "video"
)

var mediaExts = map[string]string{
	".jpg": MediaImage, ".jpeg": MediaImage, ".png": MediaImage, ".gif": MediaImage,
	".bmp": MediaImage, ".tif": MediaImage, ".tiff": MediaImage, ".webp": MediaImage,
	".mp4": MediaVideo, ".mov": MediaVideo, ".m4v": MediaVideo, ".mkv": MediaVideo, ".webm": MediaVideo,
}

// MediaTypeOf returns the media type for a file name, or "" if the file is
// not media.
func MediaTypeOf(name string) string {
	return mediaExts[strings.ToLower(filepath.Ext(name))]
}

// IDFor derives a stable item id from a file path.
func IDFor(path string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(path)))
	return hex.EncodeToString(sum[:12])
}

// Probe builds a record for one media file. Image dimensions come from the
// header; the average colour needs a full decode and is only computed when
// colors is set. The timestamp is the file's modification time.
func Probe(path string, colors bool) (Record, error) {
	kind := MediaTypeOf(path)
	if kind == "" {
		return Record{}, fmt.Errorf("%s: not a media file", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Record{}, err
	}
	rec := Record{
		Item: timeline.Item{
			ID:        IDFor(path),
			Path:      path,
			TakenAt:   info.ModTime().UTC(),
			MediaType: kind,
		},
		Size: info.Size(),
	}
	rec.Bucket = timeline.KeyOf(rec.TakenAt)
	if kind != MediaImage {
		return rec, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Record{}, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		// unreadable header: keep the file, without dimensions
		return rec, nil
	}
	rec.Width, rec.Height = cfg.Width, cfg.Height

	if colors {
		if _, err := f.Seek(0, 0); err == nil {
			if img, _, err := image.Decode(f); err == nil {
				rec.Color = AverageColor(img)
			}
		}
	}
	return rec, nil
}

// AverageColor scales img down to a single pixel and returns it as
// "#rrggbb".
func AverageColor(img image.Image) string {
	dst := image.NewRGBA(image.Rect(0, 0, 1, 1))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	c := dst.RGBAAt(0, 0)
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// ScanProgress is reported while scanning.
type ScanProgress struct {
	Seen    int64
	Indexed int64
	Current string
}

// ScanResult summarizes a scan.
type ScanResult struct {
	Files   int
	Indexed int
	Skipped int
	Failed  int
	Buckets []timeline.BucketKey
}

// Scanner walks directories and indexes media into a store.
type Scanner struct {
	Store   *Store
	Workers int
	// Colors enables average colour extraction (full decode per image).
	Colors bool
	// BatchSize bounds records per upsert transaction.
	BatchSize int
	// Progress, if set, is called after every file.
	Progress func(ScanProgress)
}

// Scan indexes every media file under dirs. Files whose index entry is
// newer than their modification time are skipped.
func (s *Scanner) Scan(ctx context.Context, dirs ...string) (ScanResult, error) {
	log := tuilog.Log.With("scanner")
	done := log.Timed("scan", "dirs", len(dirs))
	defer done()

	known, err := s.Store.ModTimes(ctx)
	if err != nil {
		return ScanResult{}, fmt.Errorf("reading index: %w", err)
	}

	paths := make(chan string, 64)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(paths)
		for _, dir := range dirs {
			err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
				if err != nil {
					log.Warn("walk error", "path", p, "error", err)
					return nil
				}
				if d.IsDir() {
					if p != dir && strings.HasPrefix(d.Name(), ".") {
						return filepath.SkipDir
					}
					return nil
				}
				if MediaTypeOf(p) == "" {
					return nil
				}
				select {
				case paths <- p:
				case <-gctx.Done():
					return gctx.Err()
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("walking %s: %w", dir, err)
			}
		}
		return nil
	})

	var (
		mu      sync.Mutex
		res     ScanResult
		batch   []Record
		touched = newKeySet()
		seen    atomic.Int64
		indexed atomic.Int64
	)
	batchSize := s.BatchSize
	if batchSize <= 0 {
		batchSize = 256
	}
	flush := func(ctx context.Context) error {
		mu.Lock()
		recs := batch
		batch = nil
		mu.Unlock()
		keys, err := s.Store.Upsert(ctx, recs)
		if err != nil {
			return err
		}
		mu.Lock()
		for _, k := range keys {
			touched.add(k)
		}
		mu.Unlock()
		return nil
	}

	for w := 0; w < max(s.Workers, 1); w++ {
		g.Go(func() error {
			for p := range paths {
				n := seen.Add(1)
				abs, _ := filepath.Abs(p)
				info, err := os.Stat(abs)
				skip := err == nil && known[abs].After(info.ModTime())

				mu.Lock()
				res.Files++
				mu.Unlock()
				if skip {
					mu.Lock()
					res.Skipped++
					mu.Unlock()
				} else if rec, err := Probe(abs, s.Colors); err != nil {
					log.Warn("probe failed", "path", abs, "error", err)
					mu.Lock()
					res.Failed++
					mu.Unlock()
				} else {
					indexed.Add(1)
					mu.Lock()
					res.Indexed++
					batch = append(batch, rec)
					full := len(batch) >= batchSize
					mu.Unlock()
					if full {
						if err := flush(gctx); err != nil {
							return fmt.Errorf("indexing: %w", err)
						}
					}
				}
				if s.Progress != nil {
					s.Progress(ScanProgress{Seen: n, Indexed: indexed.Load(), Current: abs})
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	if err := flush(ctx); err != nil {
		return res, fmt.Errorf("indexing: %w", err)
	}
	res.Buckets = touched.keys()
	log.Info("scan complete", "files", res.Files, "indexed", res.Indexed, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}
