package sequence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type sourceFunc func(ctx context.Context) (string, error)

func (f sourceFunc) LatestSerial(ctx context.Context) (string, error) { return f(ctx) }

func TestNext(t *testing.T) {
	cases := []struct {
		latest string
		want   string
	}{
		{"", "TN0001"},
		{"TN0042", "TN0043"},
		{"TN0009", "TN0010"},
		{"TN9999", "TN10000"},
		{"TNabc", "TN0001"},
		{"garbage", "TN0001"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Next(TaskSerialPrefix, tc.latest), tc.latest)
	}
}

func TestStoreGenerator(t *testing.T) {
	gen := NewStoreGenerator(Params{Source: sourceFunc(func(context.Context) (string, error) {
		return "", nil
	})})
	serial, err := gen.NextTaskSerial(context.Background())
	require.NoError(t, err)
	require.Equal(t, "TN0001", serial)

	gen = NewStoreGenerator(Params{Source: sourceFunc(func(context.Context) (string, error) {
		return "TN0042", nil
	})})
	serial, err = gen.NextTaskSerial(context.Background())
	require.NoError(t, err)
	require.Equal(t, "TN0043", serial)
}

func TestStoreGeneratorSourceError(t *testing.T) {
	boom := errors.New("boom")
	gen := NewStoreGenerator(Params{Source: sourceFunc(func(context.Context) (string, error) {
		return "", boom
	})})

	_, err := gen.NextTaskSerial(context.Background())
	require.ErrorIs(t, err, boom)
}
