package scan

import (
	"context"
	"fmt"
	"sort"

	ahocorasick "github.com/BobuSumisu/aho-corasick"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/zoltan/internal/constants"
	"github.com/coral-mesh/zoltan/pkg/image"
)

// chunkSize is how many bytes are matched between context checks.
const chunkSize = 1 << 20

// Match is one verified occurrence of a pattern.
type Match struct {
	// Offset is the file offset of the first template byte.
	Offset uint64
	// Address is the virtual address of the first template byte.
	Address uint64
	// Captures maps capture names to their raw bytes. The slices alias the
	// image and must not be modified.
	Captures map[string][]byte
}

// Options selects the sections to scan and bounds the worker pool.
type Options struct {
	// Sections names the sections to scan. Empty means executable sections.
	Sections []string
	// AllSections scans every file-backed section.
	AllSections bool
	// Workers bounds concurrent section scans. Zero uses the default.
	Workers int
}

// Scanner searches an image for a fixed set of compiled patterns.
// It is immutable and safe for concurrent use.
type Scanner struct {
	patterns []*Compiled
	trie     *ahocorasick.Trie
	// owners lists, per distinct anchor, the patterns that share it.
	owners    [][]int
	maxAnchor int
	opts      Options
	logger    zerolog.Logger
}

// NewScanner builds the automaton over the anchors of patterns.
func NewScanner(patterns []*Compiled, opts Options, logger zerolog.Logger) *Scanner {
	if opts.Workers <= 0 {
		opts.Workers = constants.DefaultWorkers
	}
	s := &Scanner{
		patterns: patterns,
		opts:     opts,
		logger:   logger.With().Str("component", "scanner").Logger(),
	}

	builder := ahocorasick.NewTrieBuilder()
	index := make(map[string]int, len(patterns))
	for i, p := range patterns {
		a, ok := index[string(p.Anchor)]
		if !ok {
			a = len(s.owners)
			index[string(p.Anchor)] = a
			s.owners = append(s.owners, nil)
			builder.AddPattern(p.Anchor)
			s.maxAnchor = max(s.maxAnchor, len(p.Anchor))
		}
		s.owners[a] = append(s.owners[a], i)
	}
	s.trie = builder.Build()

	s.logger.Debug().
		Int("patterns", len(patterns)).
		Int("anchors", len(s.owners)).
		Msg("Built anchor automaton")
	return s
}

// Patterns returns the compiled patterns in the order results are reported.
func (s *Scanner) Patterns() []*Compiled {
	return s.patterns
}

// Scan runs every pattern over the selected sections of img. The result holds
// one slice per pattern, in Patterns order, each deduplicated by start offset
// and sorted by ascending virtual address. Sections are scanned concurrently;
// a match window never spans two sections.
func (s *Scanner) Scan(ctx context.Context, img *image.Image) ([][]Match, error) {
	sections, err := SelectSections(img, s.opts)
	if err != nil {
		return nil, err
	}

	perSection := make([][][]Match, len(sections))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, sec := range sections {
		g.Go(func() error {
			found, err := s.scanSection(ctx, img, sec)
			if err != nil {
				return err
			}
			perSection[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([][]Match, len(s.patterns))
	for id := range s.patterns {
		var all []Match
		for _, found := range perSection {
			all = append(all, found[id]...)
		}
		results[id] = normalize(all)
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	s.logger.Info().
		Int("sections", len(sections)).
		Int("patterns", len(s.patterns)).
		Int("matches", total).
		Msg("Scan complete")
	return results, nil
}

func (s *Scanner) scanSection(ctx context.Context, img *image.Image, sec image.Section) ([][]Match, error) {
	data := img.SectionData(sec)
	found := make([][]Match, len(s.patterns))
	if len(s.owners) == 0 {
		return found, nil
	}
	hits := 0

	// Chunks overlap by the longest anchor so an anchor starting in one chunk
	// is always found whole; it is reported by the chunk it starts in.
	for base := 0; base < len(data); base += chunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(base+chunkSize+s.maxAnchor-1, len(data))
		for _, m := range s.trie.Match(data[base:end]) {
			rel := int(m.Pos())
			if rel >= chunkSize {
				continue
			}
			for _, id := range s.owners[int(m.Pattern())] {
				p := s.patterns[id]
				start := base + rel - p.AnchorOffset
				hits++
				if !p.MatchAt(data, start) {
					continue
				}
				found[id] = append(found[id], Match{
					Offset:   sec.Offset + uint64(start),
					Address:  sec.Addr + uint64(start),
					Captures: p.capturesAt(data, start),
				})
			}
		}
	}

	s.logger.Trace().
		Str("section", sec.Name).
		Uint64("size", sec.FileSize).
		Int("anchor_hits", hits).
		Msg("Scanned section")
	return found, nil
}

// normalize drops duplicate start offsets and orders matches by address.
func normalize(matches []Match) []Match {
	if len(matches) == 0 {
		return nil
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Address < matches[j].Address })
	out := matches[:1]
	for _, m := range matches[1:] {
		if m.Offset != out[len(out)-1].Offset {
			out = append(out, m)
		}
	}
	return out
}

// SelectSections returns the sections a scan with opts visits. Named sections
// must exist. By default executable sections are scanned, falling back to
// every file-backed section when the image marks none as executable.
func SelectSections(img *image.Image, opts Options) ([]image.Section, error) {
	var out []image.Section
	switch {
	case opts.AllSections:
		for _, sec := range img.Sections() {
			if sec.FileSize > 0 {
				out = append(out, sec)
			}
		}
	case len(opts.Sections) > 0:
		for _, name := range opts.Sections {
			sec, ok := img.Section(name)
			if !ok {
				return nil, fmt.Errorf("section %q not found in image", name)
			}
			if sec.FileSize > 0 {
				out = append(out, sec)
			}
		}
	default:
		for _, sec := range img.Sections() {
			if sec.Exec && sec.FileSize > 0 {
				out = append(out, sec)
			}
		}
		if len(out) == 0 {
			return SelectSections(img, Options{AllSections: true})
		}
	}
	return out, nil
}
