package history

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/hupe1980/obsmesh/observation"
)

// Store is an append-only per-session observation log. Unknown sessions are
// empty, not an error.
type Store interface {
	// Append adds o at the end of the session's log.
	Append(ctx context.Context, sessionID string, o observation.Observation) error
	// List returns the session's log in append order.
	List(ctx context.Context, sessionID string) ([]observation.Observation, error)
	// ByCause returns the observations produced by one action.
	ByCause(ctx context.Context, sessionID, cause string) ([]observation.Observation, error)
	// ByKind returns the observations of one kind.
	ByKind(ctx context.Context, sessionID string, kind observation.Kind) ([]observation.Observation, error)
	// Len returns the number of observations in the session's log.
	Len(ctx context.Context, sessionID string) (int, error)
	// Sessions returns the ids of all sessions with at least one observation.
	Sessions(ctx context.Context) ([]string, error)
}

// maxLineBytes bounds a single JSON line accepted by Import.
const maxLineBytes = 16 << 20

// Export writes obs as JSON lines, one serialized observation per line.
func Export(w io.Writer, c *observation.Codec, obs []observation.Observation) error {
	bw := bufio.NewWriter(w)
	for i, o := range obs {
		data, err := c.Serialize(o)
		if err != nil {
			return fmt.Errorf("export entry %d: %w", i, err)
		}
		if _, err := bw.Write(data); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Import reads JSON lines written by Export. Blank lines are skipped; the
// first line that fails to decode aborts the import.
func Import(r io.Reader, c *observation.Codec) ([]observation.Observation, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var out []observation.Observation
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		o, err := c.Deserialize(sc.Bytes())
		if err != nil {
			return out, fmt.Errorf("import line %d: %w", line, err)
		}
		out = append(out, o)
	}
	return out, sc.Err()
}
