package xotpad

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPadPair(t *testing.T) (*Pad, *Pad) {
	t.Helper()
	linkA, linkB := newChanLinkPair(32)
	paramsA := DefaultX25Params()
	paramsB := DefaultX25Params()

	resultCh := make(chan *IncomingCall, 1)
	go func() {
		ic, _ := Listen(linkB, 1, paramsB, 2*time.Second)
		resultCh <- ic
	}()
	time.Sleep(20 * time.Millisecond)

	vcCaller, err := Call(context.Background(), linkA, 1, NullX121Addr(), nil, paramsA)
	require.NoError(t, err)
	ic := <-resultCh
	require.NotNil(t, ic)
	vcCallee, err := ic.Accept()
	require.NoError(t, err)

	padCaller := NewPad(vcCaller, DefaultX3Params())
	padCallee := NewPad(vcCallee, DefaultX3Params())
	return padCaller, padCallee
}

func TestPad_WriteDrainsOnP3Trigger(t *testing.T) {
	padCaller, padCallee := newPadPair(t)

	require.NoError(t, padCaller.Write([]byte("hi\r")))

	buf := make([]byte, 16)
	n, err := padCallee.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hi\r", string(buf[:n]))
}

func TestPad_EchoAppendsToLocalRecvQueue(t *testing.T) {
	padCaller, _ := newPadPair(t)
	require.NoError(t, padCaller.Write([]byte("x")))

	buf := make([]byte, 4)
	n, err := padCaller.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "x", string(buf[:n]))
}

// S6: peer sends Clear-Invitation while the local send-queue holds bytes;
// the adapter drains them in one packet, then issues VC.Clear(0,0).
func TestPad_ClearInvitationDrainsSendQueue(t *testing.T) {
	padCaller, padCallee := newPadPair(t)

	// Queue bytes without a P3 trigger (no CR, no alnum) by disabling
	// forwarding, then invite clear from the callee side.
	require.NoError(t, padCaller.params.Set(paramForward, 0))
	padCaller.sendMu.Lock()
	padCaller.sendQueue = []byte{0xAB, 0xCD}
	padCaller.sendMu.Unlock()

	require.NoError(t, padCallee.InviteClear())

	buf := make([]byte, 4)
	require.Eventually(t, func() bool {
		padCaller.sendMu.Lock()
		empty := len(padCaller.sendQueue) == 0
		padCaller.sendMu.Unlock()
		return empty
	}, time.Second, 5*time.Millisecond)

	n, err := padCallee.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAB, 0xCD}, buf[:n])
}

func TestPad_IdleForwardDrainsQueuedBytesAfterDelay(t *testing.T) {
	padCaller, padCallee := newPadPair(t)
	require.NoError(t, padCaller.params.Set(paramForward, 0))
	require.NoError(t, padCaller.params.Set(paramIdle, 1)) // 50ms

	padCaller.sendMu.Lock()
	padCaller.sendQueue = []byte{0x01, 0x02}
	padCaller.sendDead = time.Now().Add(50 * time.Millisecond)
	padCaller.hasDead = true
	padCaller.sendCond.Broadcast()
	padCaller.sendMu.Unlock()

	buf := make([]byte, 4)
	padCallee.recvMu.Lock()
	for len(padCallee.recvQueue) == 0 {
		padCallee.recvCond.Wait()
	}
	padCallee.recvMu.Unlock()
	n, err := padCallee.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, buf[:n])
}

// Property 10: Write quantizes into exactly one VC.Send per
// send_packet_size bytes when no P3 trigger fires early, and never
// emits a packet larger than send_packet_size.
func TestPad_WriteQuantizesToSendPacketSize(t *testing.T) {
	padCaller, padCallee := newPadPair(t)
	require.NoError(t, padCaller.params.Set(paramForward, 0)) // disable char triggers

	sendSize := padCaller.vc.Params().SendPacketSize
	payload := make([]byte, sendSize*3)
	for i := range payload {
		payload[i] = byte('A' + i%26)
	}
	require.NoError(t, padCaller.Write(payload))

	var got []byte
	for len(got) < len(payload) {
		buf := make([]byte, sendSize)
		n, err := padCallee.Read(buf)
		require.NoError(t, err)
		require.LessOrEqual(t, n, sendSize)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, payload, got)
}

// Property 11: once the idle timer fires with a non-empty send-queue,
// the queue is drained in full and the idle deadline is cleared.
func TestPad_IdleForwardClearsDeadlineAfterDrain(t *testing.T) {
	padCaller, _ := newPadPair(t)
	require.NoError(t, padCaller.params.Set(paramForward, 0))
	require.NoError(t, padCaller.params.Set(paramIdle, 1)) // 50ms

	padCaller.sendMu.Lock()
	padCaller.sendQueue = []byte{0x09}
	padCaller.sendDead = time.Now().Add(30 * time.Millisecond)
	padCaller.hasDead = true
	padCaller.sendCond.Broadcast()
	padCaller.sendMu.Unlock()

	require.Eventually(t, func() bool {
		padCaller.sendMu.Lock()
		defer padCaller.sendMu.Unlock()
		return len(padCaller.sendQueue) == 0 && !padCaller.hasDead
	}, time.Second, 5*time.Millisecond)
}

func TestPad_RemoteSetRoundTrip(t *testing.T) {
	padCaller, padCallee := newPadPair(t)
	_ = padCallee

	results, err := padCaller.SetRemoteParams([]X29ParamResult{{Param: paramEcho, Value: 0}})
	require.NoError(t, err)
	require.Len(t, results, 1) // Set-Read always replies with the read-back value
	assert.Equal(t, byte(paramEcho), results[0].Param)
	assert.Nil(t, results[0].Err)
	assert.EqualValues(t, 0, results[0].Value)

	v, ok := padCallee.params.Get(paramEcho)
	require.True(t, ok)
	assert.EqualValues(t, 0, v)
}

func TestPad_RemoteGetRoundTrip(t *testing.T) {
	padCaller, _ := newPadPair(t)

	results, err := padCaller.GetRemoteParams([]byte{paramForward})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, paramForward, results[0].Param)
	assert.EqualValues(t, 126, results[0].Value)
}

func TestPad_SecondConcurrentRemoteRequestFails(t *testing.T) {
	padCaller, _ := newPadPair(t)

	padCaller.x29Mu.Lock()
	padCaller.x29Pending = make(chan []X29ParamResult, 1)
	padCaller.x29Mu.Unlock()

	_, err := padCaller.GetRemoteParams(nil)
	assert.Error(t, err)
}
