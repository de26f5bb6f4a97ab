package inventory_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/jitmaker/internal/application/inventory"
	"github.com/alejandrodnm/jitmaker/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func universe(t *testing.T) *domain.Universe {
	t.Helper()
	u, err := domain.NewUniverse(domain.Instrument{
		Symbol:        "WETH-USDC",
		Base:          domain.Token{Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18},
		Quote:         domain.Token{Address: "0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8", Decimals: 6},
		ExposureLimit: decimal.NewFromInt(10),
		OrderSize:     decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	return u
}

type recordingJournal struct {
	mu        sync.Mutex
	fills     []domain.Fill
	positions []domain.Position
	err       error
}

func (r *recordingJournal) SaveFill(_ context.Context, f domain.Fill, pos domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fills = append(r.fills, f)
	r.positions = append(r.positions, pos)
	return r.err
}

func fill(id string, delta string) domain.Fill {
	return domain.Fill{
		ID:         id,
		Instrument: "WETH-USDC",
		OrderRef:   "o-1",
		Delta:      decimal.RequireFromString(delta),
		Price:      decimal.NewFromInt(1800),
		Timestamp:  time.Unix(1_700_000_000, 0),
	}
}

func TestTracker_ApplyFillIsIdempotent(t *testing.T) {
	j := &recordingJournal{}
	tr := inventory.NewTracker(universe(t), j)
	ctx := context.Background()

	pos, applied, err := tr.ApplyFill(ctx, fill("f-1", "1.5"))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "1.5", pos.Quantity.String())

	pos, applied, err = tr.ApplyFill(ctx, fill("f-1", "1.5"))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "1.5", pos.Quantity.String())
	assert.Equal(t, 1, pos.Fills)
	assert.Len(t, j.fills, 1)
}

func TestTracker_JournalsResultingPositionAndSurvivesJournalError(t *testing.T) {
	j := &recordingJournal{err: fmt.Errorf("disk full")}
	tr := inventory.NewTracker(universe(t), j)
	ctx := context.Background()

	pos, applied, err := tr.ApplyFill(ctx, fill("f-1", "1.5"))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "1.5", pos.Quantity.String())

	require.Len(t, j.positions, 1)
	assert.Equal(t, "1.5", j.positions[0].Quantity.String(), "checkpoint carries the post-fill position")

	got, err := tr.Position("WETH-USDC")
	require.NoError(t, err)
	assert.Equal(t, "1.5", got.Quantity.String())
}

func TestTracker_UnknownInstrumentDoesNotMutate(t *testing.T) {
	tr := inventory.NewTracker(universe(t), nil)
	f := fill("f-1", "1")
	f.Instrument = "BTC-USDC"

	_, _, err := tr.ApplyFill(context.Background(), f)
	assert.ErrorIs(t, err, domain.ErrUnknownInstrument)

	pos, err := tr.Position("WETH-USDC")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.IsZero())

	_, err = tr.Headroom("BTC-USDC")
	assert.ErrorIs(t, err, domain.ErrUnknownInstrument)
}

func TestTracker_PositionIsSumOfDeltas(t *testing.T) {
	tr := inventory.NewTracker(universe(t), nil)
	ctx := context.Background()

	rng := rand.New(rand.NewSource(42))
	want := decimal.Zero
	var fills []domain.Fill
	for i := 0; i < 200; i++ {
		d := decimal.New(rng.Int63n(2000)-1000, -3)
		want = want.Add(d)
		fills = append(fills, fill(fmt.Sprintf("f-%d", i), d.String()))
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// every worker re-delivers every fill
			for _, f := range fills {
				_, _, err := tr.ApplyFill(ctx, f)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	pos, err := tr.Position("WETH-USDC")
	require.NoError(t, err)
	assert.True(t, want.Equal(pos.Quantity), "want %s got %s", want, pos.Quantity)
	assert.Equal(t, 200, pos.Fills)
}

func TestTracker_Headroom(t *testing.T) {
	tr := inventory.NewTracker(universe(t), nil)
	_, _, err := tr.ApplyFill(context.Background(), fill("f-1", "4"))
	require.NoError(t, err)

	r, err := tr.Headroom("WETH-USDC")
	require.NoError(t, err)
	assert.Equal(t, "-14", r.Min.String())
	assert.Equal(t, "6", r.Max.String())
	assert.Equal(t, "6", r.Room(domain.SideBuy).String())
	assert.Equal(t, "14", r.Room(domain.SideSell).String())
}

func TestTracker_RestoreBaseline(t *testing.T) {
	tr := inventory.NewTracker(universe(t), nil)
	tr.Restore(
		[]domain.Position{{Instrument: "WETH-USDC", Quantity: decimal.NewFromInt(3), Fills: 2}},
		map[string][]string{"WETH-USDC": {"f-old"}},
	)

	pos, _, err := tr.ApplyFill(context.Background(), fill("f-old", "1"))
	require.NoError(t, err)
	assert.Equal(t, "3", pos.Quantity.String(), "restored fill id must stay applied")

	pos, _, err = tr.ApplyFill(context.Background(), fill("f-new", "1"))
	require.NoError(t, err)
	assert.Equal(t, "4", pos.Quantity.String())
}
