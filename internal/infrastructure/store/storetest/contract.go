// Package storetest is a behavioural test suite every QueueStore backend must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"migrator/internal/domain/repository"
)

// Factory returns a fresh, empty store. Cleanup is registered on t.
type Factory func(t *testing.T) repository.QueueStore

// Run executes the contract suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("PopEmpty", func(t *testing.T) {
		s := newStore(t)
		value, ok, err := s.ListPopFront(context.Background(), "q")
		require.NoError(t, err)
		require.False(t, ok)
		require.Empty(t, value)
	})

	t.Run("PushPopFIFO", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		for _, v := range []string{"a", "b", "c"} {
			require.NoError(t, s.ListPushBack(ctx, "q", v))
		}
		for _, want := range []string{"a", "b", "c"} {
			got, ok, err := s.ListPopFront(ctx, "q")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, want, got)
		}
		_, ok, err := s.ListPopFront(ctx, "q")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("ListsAreIndependent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.ListPushBack(ctx, "q1", "x"))
		_, ok, err := s.ListPopFront(ctx, "q2")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("HashSetReportsCreation", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		created, err := s.HashSet(ctx, "h", "f", "1")
		require.NoError(t, err)
		require.EqualValues(t, 1, created)

		created, err = s.HashSet(ctx, "h", "f", "2")
		require.NoError(t, err)
		require.EqualValues(t, 0, created)

		value, ok, err := s.HashGet(ctx, "h", "f")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "2", value)
	})

	t.Run("HashGetMissing", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.HashGet(context.Background(), "h", "nope")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("HashDelete", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, err := s.HashSet(ctx, "h", "f", "1")
		require.NoError(t, err)
		require.NoError(t, s.HashDelete(ctx, "h", "f"))
		require.NoError(t, s.HashDelete(ctx, "h", "f"))

		_, ok, err := s.HashGet(ctx, "h", "f")
		require.NoError(t, err)
		require.False(t, ok)

		created, err := s.HashSet(ctx, "h", "f", "3")
		require.NoError(t, err)
		require.EqualValues(t, 1, created, "field is new again after delete")
	})

	t.Run("HashGetAllAndValues", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		all, err := s.HashGetAll(ctx, "h")
		require.NoError(t, err)
		require.Empty(t, all)

		for field, value := range map[string]string{"a": "1", "b": "2", "c": "3"} {
			_, err := s.HashSet(ctx, "h", field, value)
			require.NoError(t, err)
		}
		_, err = s.HashSet(ctx, "other", "z", "9")
		require.NoError(t, err)

		all, err = s.HashGetAll(ctx, "h")
		require.NoError(t, err)
		require.Equal(t, map[string]string{"a": "1", "b": "2", "c": "3"}, all)

		values, err := s.HashValues(ctx, "h")
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"1", "2", "3"}, values)
	})

	t.Run("DeleteKey", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.DeleteKey(ctx, "absent"))

		require.NoError(t, s.ListPushBack(ctx, "q", "a"))
		_, err := s.HashSet(ctx, "h", "f", "1")
		require.NoError(t, err)

		require.NoError(t, s.DeleteKey(ctx, "q"))
		require.NoError(t, s.DeleteKey(ctx, "h"))

		_, ok, err := s.ListPopFront(ctx, "q")
		require.NoError(t, err)
		require.False(t, ok)

		all, err := s.HashGetAll(ctx, "h")
		require.NoError(t, err)
		require.Empty(t, all)
	})

	t.Run("ConcurrentPopsAreExclusive", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		const items = 20
		const consumers = 30
		for i := 0; i < items; i++ {
			require.NoError(t, s.ListPushBack(ctx, "q", fmt.Sprintf("item-%d", i)))
		}

		var (
			mu   sync.Mutex
			seen = make(map[string]int)
			wg   sync.WaitGroup
			errs = make(chan error, consumers)
		)
		for i := 0; i < consumers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				value, ok, err := s.ListPopFront(ctx, "q")
				if err != nil {
					errs <- err
					return
				}
				if ok {
					mu.Lock()
					seen[value]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		require.Len(t, seen, items)
		for value, n := range seen {
			require.Equalf(t, 1, n, "%s popped more than once", value)
		}
	})
}
