package messaging

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edgewire/bridgemq-go/contracts"
)

// scriptedQueue replays a fixed set of raw ingress messages, then
// reports itself closed.
type scriptedQueue struct {
	msgs [][]byte
	next int
}

func (q *scriptedQueue) Receive(ctx context.Context) ([]byte, error) {
	if q.next >= len(q.msgs) {
		return nil, net.ErrClosed
	}
	msg := q.msgs[q.next]
	q.next++
	return msg, nil
}

func (q *scriptedQueue) Close() error { return nil }

// mapFetcher serves bodies by sender id.
type mapFetcher struct {
	bodies map[uint32][]byte
}

func (f *mapFetcher) Fetch(ctx context.Context, senderID uint32) ([]byte, error) {
	body, ok := f.bodies[senderID]
	if !ok {
		return nil, fmt.Errorf("body channel for %d: %w", senderID, contracts.ErrNotFound)
	}
	return body, nil
}

func ingressMessage(pid uint32, header string) []byte {
	msg := make([]byte, 0, ingressHeaderSize+len(header)+1)
	msg = append(msg, Preamble...)
	msg = binary.NativeEndian.AppendUint32(msg, pid)
	msg = append(msg, header...)
	msg = append(msg, 0)
	return msg
}

func newLoop(queue IngressQueue, fetcher BodyFetcher, transport DeliveryTransport) (*IngressLoop, *DeliveryTracker) {
	tracker := NewDeliveryTracker(transport)
	loop := NewIngressLoop(queue, fetcher, NewAssembler(), tracker)
	return loop, tracker
}

func TestIngressLoop(t *testing.T) {
	t.Run("well-formed message flows through to the transport", func(t *testing.T) {
		transport := &mockTransport{}
		var delivered *contracts.Envelope
		transport.On("Deliver", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				delivered = args.Get(1).(*contracts.Envelope)
			}).
			Return("tok-1", nil)

		queue := &scriptedQueue{msgs: [][]byte{
			ingressMessage(42, "service:foo\n\n"),
		}}
		fetcher := &mapFetcher{bodies: map[uint32][]byte{42: []byte("payload")}}
		loop, tracker := newLoop(queue, fetcher, transport)

		err := loop.Run(context.Background())
		assert.ErrorIs(t, err, net.ErrClosed)

		require.NotNil(t, delivered)
		assert.NotEmpty(t, delivered.MessageID)
		assert.Equal(t, []byte("payload"), delivered.Body)
		v, ok := delivered.Properties.Get("service")
		assert.True(t, ok)
		assert.Equal(t, "foo", v)
		assert.Equal(t, Counters{Attempted: 1}, tracker.Snapshot())
	})

	t.Run("bad preamble is discarded without an attempt", func(t *testing.T) {
		transport := &mockTransport{}
		queue := &scriptedQueue{msgs: [][]byte{
			[]byte("XXXX\x2a\x00\x00\x00service:foo\n\n\x00"),
		}}
		loop, tracker := newLoop(queue, &mapFetcher{}, transport)

		_ = loop.Run(context.Background())

		assert.Equal(t, Counters{}, tracker.Snapshot())
		transport.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
	})

	t.Run("a flood of malformed messages leaves the loop responsive", func(t *testing.T) {
		transport := &mockTransport{}
		transport.On("Deliver", mock.Anything, mock.Anything).Return("tok-1", nil)

		msgs := make([][]byte, 0, 1001)
		for i := 0; i < 1000; i++ {
			msgs = append(msgs, []byte("JUNK"))
		}
		msgs = append(msgs, ingressMessage(7, "service:foo\n\n"))

		queue := &scriptedQueue{msgs: msgs}
		fetcher := &mapFetcher{bodies: map[uint32][]byte{7: []byte("ok")}}
		loop, tracker := newLoop(queue, fetcher, transport)

		_ = loop.Run(context.Background())

		assert.Equal(t, Counters{Attempted: 1}, tracker.Snapshot())
	})

	t.Run("missing body channel drops the message and continues", func(t *testing.T) {
		transport := &mockTransport{}
		transport.On("Deliver", mock.Anything, mock.Anything).Return("tok-1", nil)

		queue := &scriptedQueue{msgs: [][]byte{
			ingressMessage(1, "a:b\n\n"),  // no body channel for pid 1
			ingressMessage(2, "c:d\n\n"),
		}}
		fetcher := &mapFetcher{bodies: map[uint32][]byte{2: []byte("second")}}
		loop, tracker := newLoop(queue, fetcher, transport)

		_ = loop.Run(context.Background())

		assert.Equal(t, Counters{Attempted: 1}, tracker.Snapshot())
		transport.AssertNumberOfCalls(t, "Deliver", 1)
	})

	t.Run("transport refusal does not stop the loop", func(t *testing.T) {
		transport := &mockTransport{}
		transport.On("Deliver", mock.Anything, mock.Anything).
			Return("", contracts.ErrTransportUnavailable).Once()
		transport.On("Deliver", mock.Anything, mock.Anything).Return("tok-2", nil)

		queue := &scriptedQueue{msgs: [][]byte{
			ingressMessage(3, "\n"),
			ingressMessage(3, "\n"),
		}}
		fetcher := &mapFetcher{bodies: map[uint32][]byte{3: []byte("b")}}
		loop, tracker := newLoop(queue, fetcher, transport)

		_ = loop.Run(context.Background())

		assert.Equal(t, Counters{Attempted: 2}, tracker.Snapshot())
	})

	t.Run("cancellation stops the loop", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		loop, _ := newLoop(blockingQueue{}, &mapFetcher{}, &mockTransport{})

		err := loop.Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("end to end wire format reaches the routed service", func(t *testing.T) {
		// outbound: ingress message for pid 42 with a service property
		transport := &mockTransport{}
		var delivered *contracts.Envelope
		transport.On("Deliver", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				delivered = args.Get(1).(*contracts.Envelope)
			}).
			Return("tok-1", nil)

		queue := &scriptedQueue{msgs: [][]byte{
			ingressMessage(42, "service:foo\n\n"),
		}}
		fetcher := &mapFetcher{bodies: map[uint32][]byte{42: []byte("payload")}}
		loop, tracker := newLoop(queue, fetcher, transport)
		_ = loop.Run(context.Background())
		require.NotNil(t, delivered)
		assert.Equal(t, Counters{Attempted: 1}, tracker.Snapshot())

		// inbound: the same envelope routed back out to service "foo"
		ch := &fakeChannel{maxSize: 4096}
		resolver := &mockResolver{}
		resolver.On("Resolve", "foo").Return(ch, nil)
		router := NewInboundRouter(resolver)

		require.NoError(t, router.Route(delivered))
		require.Len(t, ch.written, 1)

		wire := string(ch.written[0])
		assert.True(t, strings.HasPrefix(wire, "messageId:"+delivered.MessageID+"\n"))
		assert.True(t, strings.HasSuffix(wire, "\nservice:foo\n\npayload"))
	})
}

// blockingQueue never produces a message; Receive honors ctx.
type blockingQueue struct{}

func (q blockingQueue) Receive(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (q blockingQueue) Close() error { return nil }
