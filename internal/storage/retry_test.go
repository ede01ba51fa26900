package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryOnce(t *testing.T) {
	ctx := context.Background()
	logical := errors.New("insufficient")

	tests := []struct {
		name      string
		failures  []error
		wantCalls int
		wantErr   error
	}{
		{name: "success first try", failures: []error{nil}, wantCalls: 1},
		{name: "transient then success", failures: []error{fmt.Errorf("%w: 40001", ErrTransient), nil}, wantCalls: 2},
		{name: "transient twice", failures: []error{ErrTransient, ErrTransient}, wantCalls: 2, wantErr: ErrTransient},
		{name: "logical not retried", failures: []error{logical, nil}, wantCalls: 1, wantErr: logical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := RetryOnce(ctx, func(context.Context) error {
				err := tt.failures[calls]
				calls++
				return err
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestRetryOnceStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := RetryOnce(ctx, func(context.Context) error {
		calls++
		return ErrTransient
	})
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 1, calls)
}

type fakeTx struct {
	inTx   bool
	begins int
}

func (f *fakeTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.begins++
	return fn(ctx)
}

func (f *fakeTx) InTx(context.Context) bool { return f.inTx }

func TestAtomicJoinsOuterUnit(t *testing.T) {
	ctx := context.Background()

	outer := &fakeTx{}
	calls := 0
	err := Atomic(ctx, outer, func(context.Context) error {
		calls++
		if calls == 1 {
			return ErrTransient
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, outer.begins)

	nested := &fakeTx{inTx: true}
	calls = 0
	err = Atomic(ctx, nested, func(context.Context) error {
		calls++
		return ErrTransient
	})
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, nested.begins)
}
