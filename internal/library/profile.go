package library

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/wethinkt/go-timegrid/internal/timeline"
)

// Profile describes a synthetic library for seeding.
type Profile struct {
	Name          string    `toml:"name"`
	Seed          uint64    `toml:"seed"`
	Start         time.Time `toml:"start"`
	End           time.Time `toml:"end"`
	MeanPerDay    float64   `toml:"mean_per_day"`
	EmptyDayRatio float64   `toml:"empty_day_ratio"`
	VideoRatio    float64   `toml:"video_ratio"`
	WeekendFactor float64   `toml:"weekend_factor"`
	Bursts        []Burst   `toml:"burst"`
	Albums        []Album   `toml:"album"`
}

// Burst raises the item rate over a date range, like a holiday.
type Burst struct {
	From       time.Time `toml:"from"`
	To         time.Time `toml:"to"`
	MeanPerDay float64   `toml:"mean_per_day"`
	Album      string    `toml:"album"`
}

// Album collects a random share of all items.
type Album struct {
	Name  string  `toml:"name"`
	Ratio float64 `toml:"ratio"`
}

// DefaultProfile is used by seed when no profile file is given.
func DefaultProfile(end time.Time) Profile {
	return Profile{
		Name:          "default",
		Seed:          1,
		Start:         end.AddDate(-3, 0, 0),
		End:           end,
		MeanPerDay:    6,
		EmptyDayRatio: 0.35,
		VideoRatio:    0.08,
		WeekendFactor: 1.8,
		Albums:        []Album{{Name: "Favorites", Ratio: 0.04}},
	}
}

// LoadProfile reads a TOML profile.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if _, err := toml.Decode(string(data), &p); err != nil {
		return Profile{}, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// Validate checks the profile for usable values.
func (p Profile) Validate() error {
	switch {
	case p.Name == "":
		return fmt.Errorf("name is required")
	case p.Start.IsZero() || p.End.IsZero():
		return fmt.Errorf("start and end are required")
	case p.End.Before(p.Start):
		return fmt.Errorf("end %s is before start %s", p.End.Format(time.DateOnly), p.Start.Format(time.DateOnly))
	case p.MeanPerDay < 0:
		return fmt.Errorf("mean_per_day must not be negative")
	case p.EmptyDayRatio < 0 || p.EmptyDayRatio > 1:
		return fmt.Errorf("empty_day_ratio must be within [0, 1]")
	}
	for _, a := range p.Albums {
		if a.Name == "" || a.Ratio < 0 || a.Ratio > 1 {
			return fmt.Errorf("album %q: name and a ratio within [0, 1] are required", a.Name)
		}
	}
	return nil
}

// Generated is the output of Profile.Generate.
type Generated struct {
	Records []Record
	Albums  map[string][]string
}

// Generate produces the profile's records. The same profile always yields
// the same library.
func (p Profile) Generate() Generated {
	r := rand.New(rand.NewPCG(p.Seed, p.Seed^0x5851f42d4c957f2d))
	out := Generated{Albums: make(map[string][]string)}

	start := dayOf(p.Start)
	end := dayOf(p.End)
	for day := end; !day.Before(start); day = day.AddDate(0, 0, -1) {
		mean := p.MeanPerDay
		album := ""
		for _, b := range p.Bursts {
			if !day.Before(dayOf(b.From)) && !day.After(dayOf(b.To)) {
				mean = b.MeanPerDay
				album = b.Album
			}
		}
		if album == "" && r.Float64() < p.EmptyDayRatio {
			continue
		}
		if wd := day.Weekday(); (wd == time.Saturday || wd == time.Sunday) && p.WeekendFactor > 0 {
			mean *= p.WeekendFactor
		}
		n := poisson(r, mean)
		key := timeline.KeyOf(day)
		for i := 0; i < n; i++ {
			path := fmt.Sprintf("seed://%s/%s/%04d", p.Name, key, i)
			kind := MediaImage
			ext := ".jpg"
			if r.Float64() < p.VideoRatio {
				kind, ext = MediaVideo, ".mp4"
			}
			path += ext
			w, h := 4032, 3024
			if r.IntN(4) == 0 {
				w, h = h, w
			}
			rec := Record{
				Item: timeline.Item{
					ID:        IDFor(path),
					Path:      path,
					TakenAt:   day.Add(time.Duration(r.IntN(86400)) * time.Second),
					Bucket:    key,
					MediaType: kind,
					Width:     w,
					Height:    h,
					Color:     fmt.Sprintf("#%02x%02x%02x", r.IntN(256), r.IntN(256), r.IntN(256)),
				},
				Size: int64(1_500_000 + r.IntN(4_000_000)),
			}
			out.Records = append(out.Records, rec)
			if album != "" {
				out.Albums[album] = append(out.Albums[album], rec.ID)
			}
			for _, a := range p.Albums {
				if r.Float64() < a.Ratio {
					out.Albums[a.Name] = append(out.Albums[a.Name], rec.ID)
				}
			}
		}
	}
	return out
}

// Seed writes the profile's library into store and returns the number of
// items written.
func Seed(ctx context.Context, store *Store, p Profile) (int, error) {
	gen := p.Generate()
	const chunk = 1000
	for i := 0; i < len(gen.Records); i += chunk {
		if _, err := store.Upsert(ctx, gen.Records[i:min(i+chunk, len(gen.Records))]); err != nil {
			return i, err
		}
	}
	for name, ids := range gen.Albums {
		if err := store.AddToAlbum(ctx, name, ids...); err != nil {
			return len(gen.Records), err
		}
	}
	return len(gen.Records), nil
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// poisson draws from a Poisson distribution with the given mean using
// Knuth's method, falling back to a normal approximation for large means.
func poisson(r *rand.Rand, mean float64) int {
	if mean <= 0 {
		return 0
	}
	if mean > 30 {
		return max(0, int(math.Round(mean+math.Sqrt(mean)*r.NormFloat64())))
	}
	l := math.Exp(-mean)
	k, p := 0, 1.0
	for {
		p *= r.Float64()
		if p <= l {
			return k
		}
		k++
	}
}
