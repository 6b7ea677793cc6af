package referral

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inkerlabs/chartscan-bot/pkg/logger"
)

type fakeLinker struct {
	calls  int
	linked map[int64]bool
	err    error
}

func (f *fakeLinker) LinkReferral(_ context.Context, code string, referredID int64) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	if code != "GOODCODE" || f.linked[referredID] {
		return false, nil
	}
	f.linked[referredID] = true
	return true, nil
}

func TestProcessIdempotent(t *testing.T) {
	linker := &fakeLinker{linked: map[int64]bool{}}
	p := New(linker, logger.New())

	require.True(t, p.Process(context.Background(), "GOODCODE", 5))
	require.False(t, p.Process(context.Background(), "GOODCODE", 5), "second call must be a no-op")
	require.Equal(t, 2, linker.calls)
}

func TestProcessRejections(t *testing.T) {
	linker := &fakeLinker{linked: map[int64]bool{}}
	p := New(linker, logger.New())

	require.False(t, p.Process(context.Background(), "", 5))
	require.Equal(t, 0, linker.calls, "empty codes never reach the ledger")

	require.False(t, p.Process(context.Background(), "BADCODE1", 5))

	linker.err = errors.New("db down")
	require.False(t, p.Process(context.Background(), "GOODCODE", 6), "ledger errors degrade to a silent no-op")
}
