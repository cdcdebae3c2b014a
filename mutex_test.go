package corun

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMutex(t *testing.T) {
	r := require.New(t)

	n := 0
	var order []string
	_, err := Run(context.Background(), func(ctx context.Context) (struct{}, error) {
		var mux Mutex
		critical := 0
		if err := mux.Lock(ctx); err != nil {
			return struct{}{}, err
		}

		for _, name := range []string{"ONE", "TWO", "THREE"} {
			Go(ctx, func(ctx context.Context) error {
				if err := mux.Lock(ctx); err != nil {
					return err
				}
				defer func() { _ = mux.Unlock() }()

				n++
				critical++
				if critical != 1 {
					return fmt.Errorf("%d coroutines in critical section", critical)
				}
				defer func() { critical-- }()

				order = append(order, name)
				return Sleep(ctx, time.Millisecond)
			})
		}

		if err := Yield(ctx); err != nil {
			return struct{}{}, err
		}
		if mux.WaitCount() != 3 {
			return struct{}{}, fmt.Errorf("wait count %d", mux.WaitCount())
		}
		if mux.Holder() != MustCoroutineFromContext(ctx) {
			return struct{}{}, errors.New("root does not hold the lock")
		}

		n++
		return struct{}{}, mux.Unlock()
	})
	r.NoError(err)
	r.Equal(4, n)
	r.Equal([]string{"ONE", "TWO", "THREE"}, order)
}

func TestMutexUnlockUnlocked(t *testing.T) {
	r := require.New(t)

	var mux Mutex
	err := mux.Unlock()
	r.ErrorIs(err, ErrUnlocked)
	r.True(IsUsage(err))
}

func TestSemaphore(t *testing.T) {
	r := require.New(t)

	active, peak := 0, 0
	_, err := Run(context.Background(), func(ctx context.Context) (struct{}, error) {
		sem := NewSemaphore(2)
		for range 5 {
			Go(ctx, func(ctx context.Context) error {
				if err := sem.Acquire(ctx); err != nil {
					return err
				}
				defer sem.Release()

				active++
				peak = max(peak, active)
				defer func() { active-- }()
				return Sleep(ctx, 2*time.Millisecond)
			})
		}
		return struct{}{}, nil
	})
	r.NoError(err)
	r.Equal(2, peak)

	sem := NewSemaphore(1)
	r.True(sem.TryAcquire())
	r.False(sem.TryAcquire())
	r.True(sem.SelectWillBlock())
	sem.Release()
	r.Equal(1, sem.Available())
}

func TestGroup(t *testing.T) {
	r := require.New(t)

	errFirst := errors.New("first")
	x, y := 0, 0
	canceled := false
	_, err := Run(context.Background(), func(ctx context.Context) (struct{}, error) {
		for i := 0; i < 10; i++ {
			x++
			group, gctx := WithGroup(ctx)
			for j := 0; j < 10; j++ {
				group.Go(func(ctx context.Context) error {
					y++
					return Sleep(ctx, time.Duration(j%2)*time.Millisecond)
				})
			}
			if err := group.Wait(ctx); err != nil {
				return struct{}{}, err
			}
			if gctx.Err() == nil {
				return struct{}{}, errors.New("group context not canceled by Wait")
			}
		}

		group, gctx := WithGroup(ctx)
		group.Go(func(ctx context.Context) error {
			if err := Sleep(ctx, time.Millisecond); err != nil {
				return err
			}
			return errFirst
		})
		group.Go(func(ctx context.Context) error {
			if err := Sleep(ctx, 5*time.Millisecond); err != nil {
				return err
			}
			canceled = ctx.Err() != nil
			return errors.New("second")
		})
		err := group.Wait(ctx)
		if !errors.Is(context.Cause(gctx), errFirst) {
			return struct{}{}, errors.New("cause is not the first error")
		}
		return struct{}{}, err
	})
	r.Equal(errFirst, err)
	r.Equal(10, x)
	r.Equal(100, y)
	r.True(canceled)
}

func TestFlight(t *testing.T) {
	r := require.New(t)

	n := 0
	_, err := Run(context.Background(), func(ctx context.Context) (struct{}, error) {
		var single Flight
		for i := 0; i < 100; i++ {
			Go(ctx, func(ctx context.Context) error {
				v, err, shared := single.Do(ctx, "test-key", func(ctx context.Context) (any, error) {
					defer func() { n++ }()
					return i, Sleep(ctx, 5*time.Millisecond)
				})
				if err != nil {
					return err
				}
				if v != 0 || !shared {
					return fmt.Errorf("got %v shared=%v", v, shared)
				}
				return nil
			})
		}
		n++
		return struct{}{}, nil
	})
	r.NoError(err)
	r.Equal(2, n)
}
