package sequence

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewStoreGenerator),
)

// TaskSerialPrefix is the fixed alphabetic prefix of task serial numbers.
const TaskSerialPrefix = "TN"

const serialWidth = 4

// Generator hands out human-readable task serials. Numbering is not locked:
// two concurrent callers may receive the same value, and the store's unique
// index on serials is what rejects the loser, who must ask again.
type Generator interface {
	NextTaskSerial(ctx context.Context) (string, error)
}

// SerialSource returns the most recently issued serial, or "" when none has
// been issued yet.
type SerialSource interface {
	LatestSerial(ctx context.Context) (string, error)
}

type StoreGenerator struct {
	source SerialSource
	prefix string
}

type Params struct {
	fx.In

	Source SerialSource
}

func NewStoreGenerator(p Params) Generator {
	return &StoreGenerator{
		source: p.Source,
		prefix: TaskSerialPrefix,
	}
}

func (g *StoreGenerator) NextTaskSerial(ctx context.Context) (string, error) {
	latest, err := g.source.LatestSerial(ctx)
	if err != nil {
		return "", fmt.Errorf("read latest serial: %w", err)
	}
	return Next(g.prefix, latest), nil
}

// Next returns the serial following latest. An empty or unparsable latest
// restarts numbering at 1.
func Next(prefix, latest string) string {
	n, err := strconv.Atoi(strings.TrimPrefix(latest, prefix))
	if latest == "" || err != nil || n < 0 {
		n = 0
	}
	return fmt.Sprintf("%s%0*d", prefix, serialWidth, n+1)
}
