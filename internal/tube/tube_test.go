//go:build linux

package tube

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendReceivePreservesPackets(t *testing.T) {
	tb, err := New(0)
	require.NoError(t, err)
	defer tb.Close()

	r, err := tb.TakeReceiver()
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, tb.Send([]byte("first")))
	require.NoError(t, tb.Send([]byte("second packet")))

	buf := make([]byte, 64)
	require.NoError(t, r.SetReadDeadline(time.Now().Add(time.Second)))
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "first", string(buf[:n]))
	n, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "second packet", string(buf[:n]))
}

func TestReceiverCanBeTakenOnce(t *testing.T) {
	tb, err := New(0)
	require.NoError(t, err)
	defer tb.Close()

	r, err := tb.TakeReceiver()
	require.NoError(t, err)
	defer r.Close()

	_, err = tb.TakeReceiver()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSendAfterReceiverClosed(t *testing.T) {
	tb, err := New(0)
	require.NoError(t, err)
	defer tb.Close()

	r, err := tb.TakeReceiver()
	require.NoError(t, err)
	require.NoError(t, r.Close())

	assert.ErrorIs(t, tb.Send([]byte("x")), ErrClosed)
}

func TestSendWouldBlockWhenReaderStalls(t *testing.T) {
	tb, err := New(4096)
	require.NoError(t, err)
	defer tb.Close()

	r, err := tb.TakeReceiver()
	require.NoError(t, err)
	defer r.Close()

	payload := make([]byte, 512)
	var sendErr error
	for i := 0; i < 10000 && sendErr == nil; i++ {
		sendErr = tb.Send(payload)
	}
	assert.ErrorIs(t, sendErr, ErrWouldBlock)
}

func TestReadDeadline(t *testing.T) {
	tb, err := New(0)
	require.NoError(t, err)
	defer tb.Close()

	r, err := tb.TakeReceiver()
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.SetReadDeadline(time.Now().Add(20*time.Millisecond)))
	_, err = r.Read(make([]byte, 8))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestReadAfterSenderClosed(t *testing.T) {
	tb, err := New(0)
	require.NoError(t, err)

	r, err := tb.TakeReceiver()
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, tb.Close())
	require.NoError(t, tb.Close())
	assert.ErrorIs(t, tb.Send([]byte("x")), ErrClosed)

	require.NoError(t, r.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = r.Read(make([]byte, 8))
	assert.ErrorIs(t, err, ErrClosed)
}
