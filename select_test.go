package corun

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func pipe(t *testing.T) (int, int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe(p[:]))
	require.NoError(t, unix.SetNonblock(p[0], true))
	require.NoError(t, unix.SetNonblock(p[1], true))
	t.Cleanup(func() {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
	})
	return p[0], p[1]
}

func TestSelectFastPath(t *testing.T) {
	r := require.New(t)

	var a, b Signal
	b.Set()

	// Does not suspend, so it works outside a coroutine.
	ready, err := Select(context.Background(), &a, &b)
	r.NoError(err)
	r.Equal([]Selectable{&b}, ready)

	_, err = Select(context.Background())
	r.ErrorIs(err, ErrNoSources)

	_, err = Select(context.Background(), &a)
	r.ErrorIs(err, ErrNotInCoroutine)
}

func TestSelectReturnsAllReadyInArgumentOrder(t *testing.T) {
	r := require.New(t)

	var a, b, c Signal
	ready, err := Run(context.Background(), func(ctx context.Context) ([]Selectable, error) {
		Go(ctx, func(context.Context) error {
			c.Set()
			a.Set()
			return nil
		})
		return Select(ctx, &a, &b, &c)
	})
	r.NoError(err)
	r.Equal([]Selectable{&a, &c}, ready)
}

func TestSelectNotifiesAllWaiters(t *testing.T) {
	r := require.New(t)

	var s Signal
	var woken []int
	_, err := Run(context.Background(), func(ctx context.Context) (struct{}, error) {
		for i := range 3 {
			Go(ctx, func(ctx context.Context) error {
				if err := s.Await(ctx); err != nil {
					return err
				}
				woken = append(woken, i)
				return nil
			})
		}
		if err := Yield(ctx); err != nil {
			return struct{}{}, err
		}
		if s.SelectManager().Len() != 3 {
			return struct{}{}, fmt.Errorf("waiters %d", s.SelectManager().Len())
		}
		s.Set()
		return struct{}{}, nil
	})
	r.NoError(err)
	r.Equal([]int{0, 1, 2}, woken)
}

func TestSelectWithdrawsRegistrations(t *testing.T) {
	r := require.New(t)

	var a, b Signal
	_, err := Run(context.Background(), func(ctx context.Context) (struct{}, error) {
		co := Go(ctx, func(ctx context.Context) error {
			_, err := Select(ctx, &a, &b)
			return err
		})
		if err := Yield(ctx); err != nil {
			return struct{}{}, err
		}
		if co.Reason().Kind != ReasonSelectable || len(co.Reason().Sources) != 2 {
			return struct{}{}, fmt.Errorf("reason %+v", co.Reason())
		}
		a.Set()
		if b.SelectManager().Len() != 0 {
			return struct{}{}, errors.New("registration on b survived wake-up")
		}
		_, err := co.Await(ctx)
		return struct{}{}, err
	})
	r.NoError(err)
}

func TestSelectHeterogeneousSources(t *testing.T) {
	r := require.New(t)

	var first Selectable
	_, err := Run(context.Background(), func(ctx context.Context) (struct{}, error) {
		var wg WaitGroup
		if err := wg.Add(1); err != nil {
			return struct{}{}, err
		}
		slow := Go(ctx, func(ctx context.Context) error {
			return Sleep(ctx, 50*time.Millisecond)
		})
		tm, err := After(ctx, 5*time.Millisecond)
		if err != nil {
			return struct{}{}, err
		}

		ready, err := Select(ctx, &wg, slow, tm)
		if err != nil {
			return struct{}{}, err
		}
		first = ready[0]
		return struct{}{}, wg.Done()
	})
	r.NoError(err)
	_, ok := first.(*Timer)
	r.True(ok)
}

func TestCoroutineIsSelectable(t *testing.T) {
	r := require.New(t)

	_, err := Run(context.Background(), func(ctx context.Context) (struct{}, error) {
		co := Go(ctx, func(ctx context.Context) error {
			return Sleep(ctx, time.Millisecond)
		})
		if !co.SelectWillBlock() {
			return struct{}{}, errors.New("pending coroutine does not block")
		}
		if _, err := Select(ctx, co); err != nil {
			return struct{}{}, err
		}
		if !co.Done() {
			return struct{}{}, errors.New("coroutine not done")
		}
		return struct{}{}, nil
	})
	r.NoError(err)
}

func TestReadable(t *testing.T) {
	r := require.New(t)
	rfd, wfd := pipe(t)

	got, err := Run(context.Background(), func(ctx context.Context) (string, error) {
		Go(ctx, func(ctx context.Context) error {
			if err := Sleep(ctx, 10*time.Millisecond); err != nil {
				return err
			}
			if err := Writable(ctx, wfd); err != nil {
				return err
			}
			_, err := unix.Write(wfd, []byte("ping"))
			return err
		})

		if err := Readable(ctx, rfd); err != nil {
			return "", err
		}
		buf := make([]byte, 16)
		n, err := unix.Read(rfd, buf)
		if err != nil {
			return "", err
		}
		return string(buf[:n]), nil
	})
	r.NoError(err)
	r.Equal("ping", got)
}

func TestInvalidateWakesWaiters(t *testing.T) {
	r := require.New(t)
	rfd, _ := pipe(t)

	_, err := Run(context.Background(), func(ctx context.Context) (struct{}, error) {
		co := Go(ctx, func(ctx context.Context) error {
			return Readable(ctx, rfd)
		})
		if err := Yield(ctx); err != nil {
			return struct{}{}, err
		}
		if co.Reason().Kind != ReasonReadable || co.Reason().FD != rfd {
			return struct{}{}, fmt.Errorf("reason %+v", co.Reason())
		}
		if st := co.Loop().Stats(); st.Polling != 1 {
			return struct{}{}, fmt.Errorf("stats %+v", st)
		}
		Invalidate(ctx, rfd)
		_, err := co.Await(ctx)
		if !errors.Is(err, ErrDisconnected) {
			return struct{}{}, fmt.Errorf("readable returned %v", err)
		}
		return struct{}{}, nil
	})
	r.NoError(err)
}

func TestSelectDescriptorWithTimer(t *testing.T) {
	r := require.New(t)
	rfd, wfd := pipe(t)

	_, err := Run(context.Background(), func(ctx context.Context) (struct{}, error) {
		src, err := FD(ctx, rfd, Read)
		if err != nil {
			return struct{}{}, err
		}
		tm, err := After(ctx, 10*time.Millisecond)
		if err != nil {
			return struct{}{}, err
		}

		ready, err := Select(ctx, src, tm)
		if err != nil {
			return struct{}{}, err
		}
		if len(ready) != 1 || ready[0] != Selectable(tm) {
			return struct{}{}, fmt.Errorf("expected timer, got %v", ready)
		}

		if _, err := unix.Write(wfd, []byte{1}); err != nil {
			return struct{}{}, err
		}
		tm, err = After(ctx, time.Second)
		if err != nil {
			return struct{}{}, err
		}
		defer tm.Stop()
		ready, err = Select(ctx, src, tm)
		if err != nil {
			return struct{}{}, err
		}
		if len(ready) != 1 || ready[0] != src {
			return struct{}{}, fmt.Errorf("expected descriptor, got %v", ready)
		}
		return struct{}{}, nil
	})
	r.NoError(err)

	_, err = FD(context.Background(), rfd, Read)
	r.ErrorIs(err, ErrNotInCoroutine)
}

func TestTimerStop(t *testing.T) {
	r := require.New(t)

	_, err := Run(context.Background(), func(ctx context.Context) (struct{}, error) {
		tm, err := After(ctx, time.Hour)
		if err != nil {
			return struct{}{}, err
		}
		if !tm.Stop() || tm.Stop() {
			return struct{}{}, errors.New("stop")
		}
		if st := MustCoroutineFromContext(ctx).Loop().Stats(); st.Timers != 0 {
			return struct{}{}, fmt.Errorf("stats %+v", st)
		}

		tm, err = After(ctx, time.Millisecond)
		if err != nil {
			return struct{}{}, err
		}
		if err := tm.Await(ctx); err != nil {
			return struct{}{}, err
		}
		if tm.Stop() {
			return struct{}{}, errors.New("stopped a fired timer")
		}
		if time.Now().Before(tm.Deadline()) {
			return struct{}{}, errors.New("fired early")
		}
		return struct{}{}, nil
	})
	r.NoError(err)
}
