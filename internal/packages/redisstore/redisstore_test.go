package redisstore

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuget-registry/nuget-registry/internal/packages"
	"github.com/nuget-registry/nuget-registry/internal/packages/packagestest"
)

func newTestStore(t *testing.T, pageSize int) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, "nuget:", pageSize), mr
}

func TestStore(t *testing.T) {
	packagestest.Run(t, func(t *testing.T) packages.Database {
		s, _ := newTestStore(t, 1000)
		return s
	})
}

// A small page size forces Find through several MGET round trips.
func TestStore_SmallPages(t *testing.T) {
	packagestest.Run(t, func(t *testing.T) packages.Database {
		s, _ := newTestStore(t, 3)
		return s
	})
}

func TestStore_KeyLayout(t *testing.T) {
	s, mr := newTestStore(t, 10)
	ctx := context.Background()

	_, err := s.Add(ctx, packagestest.NewPackage("Foo.Bar", "1.0.0-Beta"))
	require.NoError(t, err)

	assert.True(t, mr.Exists("nuget:pkg:foo.bar:1.0.0-beta"))
	assert.Equal(t, "1", mr.HGet("nuget:state:foo.bar:1.0.0-beta", "listed"))
	members, err := mr.ZMembers("nuget:versions:foo.bar")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0-beta"}, members)
}

func TestStore_BackendFailure(t *testing.T) {
	s, mr := newTestStore(t, 10)
	mr.Close()

	_, err := s.Add(context.Background(), packagestest.NewPackage("Foo", "1.0.0"))
	assert.Error(t, err)

	_, err = s.Find(context.Background(), "foo", false)
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Atomic add
// ---------------------------------------------------------------------------

var errConnReset = errors.New("connection reset")

// scriptFailureHook fails the first script call, either before it reaches the
// server or after the server has applied it.
type scriptFailureHook struct {
	afterApply bool
	fired      bool
}

func (h *scriptFailureHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *scriptFailureHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		name := cmd.Name()
		if h.fired || (name != "evalsha" && name != "eval") {
			return next(ctx, cmd)
		}
		if h.afterApply {
			// the first EVALSHA gets NOSCRIPT and falls back to EVAL
			if err := next(ctx, cmd); err != nil {
				return err
			}
		}
		h.fired = true
		cmd.SetErr(errConnReset)
		return errConnReset
	}
}

func (h *scriptFailureHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestStore_AddFailureLeavesConsistentState(t *testing.T) {
	tests := []struct {
		name       string
		afterApply bool
		wantExists bool
		wantRetry  packages.AddResult
	}{
		{name: "lost before apply", afterApply: false, wantExists: false, wantRetry: packages.AddSuccess},
		{name: "lost after apply", afterApply: true, wantExists: true, wantRetry: packages.AddAlreadyExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
			t.Cleanup(func() { rdb.Close() })
			rdb.AddHook(&scriptFailureHook{afterApply: tt.afterApply})
			s := New(rdb, "nuget:", 10)
			ctx := context.Background()

			_, err := s.Add(ctx, packagestest.NewPackage("Foo", "1.0.0"))
			require.ErrorIs(t, err, errConnReset)

			byVersion, err := s.ExistsByIDVersion(ctx, "foo", "1.0.0")
			require.NoError(t, err)
			byID, err := s.ExistsByID(ctx, "foo")
			require.NoError(t, err)
			found, err := s.Find(ctx, "foo", true)
			require.NoError(t, err)

			assert.Equal(t, tt.wantExists, byVersion)
			assert.Equal(t, tt.wantExists, byID)
			assert.Equal(t, tt.wantExists, len(found) == 1)

			res, err := s.Add(ctx, packagestest.NewPackage("Foo", "1.0.0"))
			require.NoError(t, err)
			assert.Equal(t, tt.wantRetry, res)

			found, err = s.Find(ctx, "foo", true)
			require.NoError(t, err)
			assert.Len(t, found, 1)
		})
	}
}
