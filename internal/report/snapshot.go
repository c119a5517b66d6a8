package report

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/plucky/sitesim/internal/mix"
	"github.com/plucky/sitesim/internal/params"
)

// Numbering selects how snapshot files are numbered.
type Numbering string

const (
	// NumberSerial pads a running counter so files sort numerically.
	NumberSerial Numbering = "serial"
	// NumberEvent uses the event count at the snapshot instant.
	NumberEvent Numbering = "event"
)

// Snapshotter writes a mixture snapshot at every snapshot instant. It
// is a scheduler probe; observation instants are ignored.
type Snapshotter struct {
	x         *mix.Mixture
	set       *params.Set
	root      string
	uuid      string
	numbering Numbering
	count     int
	last      string
}

// NewSnapshotter returns a snapshotter writing files under the root
// path prefix; the file name is the root plus a number plus ".ka".
func NewSnapshotter(x *mix.Mixture, set *params.Set, root, uuid string, numbering Numbering) *Snapshotter {
	return &Snapshotter{x: x, set: set, root: root, uuid: uuid, numbering: numbering}
}

// Observe is a no-op; the monitor handles observation instants.
func (s *Snapshotter) Observe(float64, int64) error { return nil }

// Snapshot writes the current mixture to the next snapshot file.
func (s *Snapshotter) Snapshot(t float64, events int64) error {
	s.count++
	s.last = s.filename(events)
	f, err := os.Create(s.last)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	werr := s.write(w, t, events)
	if ferr := w.Flush(); werr == nil {
		werr = ferr
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	return werr
}

// Count returns the number of snapshots written.
func (s *Snapshotter) Count() int { return s.count }

// LastPath returns the path of the most recent snapshot file, or ""
// when none has been written yet.
func (s *Snapshotter) LastPath() string { return s.last }

func (s *Snapshotter) filename(events int64) string {
	if s.numbering == NumberSerial {
		width := int(math.Log10(s.set.SimLimit/s.set.ObsFrequency)) + 1
		return fmt.Sprintf("%s%0*d.ka", s.root, width, s.count)
	}
	return fmt.Sprintf("%s%d.ka", s.root, events)
}

func (s *Snapshotter) write(w io.Writer, t float64, events int64) error {
	if _, err := fmt.Fprintf(w, "// Snapshot [Event: %d]\n", events); err != nil {
		return err
	}
	fmt.Fprintf(w, "// \"uuid\" : \"%s\"\n", s.uuid)
	if s.set.Reproducible {
		fmt.Fprintf(w, "// \"seed\" : \"%d\"\n", s.set.Seed)
		fmt.Fprintf(w, "// \"parameters\" : \"%s\"\n", s.set.Digest())
	}
	fmt.Fprintf(w, "%%def: \"T0\" \"%g\"\n\n", t)
	for _, m := range s.x.Molecules() {
		if s.set.Reproducible {
			m.SortLists()
		}
		if _, err := fmt.Fprintf(w, "%%init: %d /*%d agents*/ %s\n", m.Count, m.Size(), m.Expression(s.set.Barcode)); err != nil {
			return err
		}
	}
	return nil
}

// ReadSnapshot parses a snapshot stream and seeds its species into x,
// returning the snapshot's T0. The caller's mixture should be freshly
// constructed; activities are recomputed after seeding.
func ReadSnapshot(x *mix.Mixture, r io.Reader) (float64, error) {
	var t0 float64
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		switch {
		case text == "" || strings.HasPrefix(text, "//"):
		case strings.HasPrefix(text, "%def:"):
			fields := strings.Fields(text)
			if len(fields) == 3 && strings.Trim(fields[1], `"`) == "T0" {
				v, err := strconv.ParseFloat(strings.Trim(fields[2], `"`), 64)
				if err != nil {
					return 0, &SnapshotError{Line: line, Message: "bad T0 value"}
				}
				t0 = v
			}
		case strings.HasPrefix(text, "%init:"):
			count, expr, err := parseInit(line, strings.TrimSpace(text[len("%init:"):]))
			if err != nil {
				return 0, err
			}
			m, err := x.Parse(expr)
			if err != nil {
				return 0, &SnapshotError{Line: line, Message: err.Error()}
			}
			x.SeedMolecule(m, count)
		default:
			return 0, &SnapshotError{Line: line, Message: fmt.Sprintf("unexpected line %q", text)}
		}
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	x.Recompute()
	return t0, nil
}

// parseInit splits "%init:"'s payload: a count, an optional /*...*/
// size comment, and the expression.
func parseInit(line int, rest string) (int, string, error) {
	i := strings.IndexAny(rest, " \t")
	if i < 0 {
		return 0, "", &SnapshotError{Line: line, Message: "missing expression"}
	}
	count, err := strconv.Atoi(rest[:i])
	if err != nil || count < 1 {
		return 0, "", &SnapshotError{Line: line, Message: fmt.Sprintf("bad count %q", rest[:i])}
	}
	expr := strings.TrimSpace(rest[i:])
	if strings.HasPrefix(expr, "/*") {
		end := strings.Index(expr, "*/")
		if end < 0 {
			return 0, "", &SnapshotError{Line: line, Message: "unterminated comment"}
		}
		expr = strings.TrimSpace(expr[end+2:])
	}
	if expr == "" {
		return 0, "", &SnapshotError{Line: line, Message: "missing expression"}
	}
	return count, expr, nil
}
