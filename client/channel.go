package client

import (
	"context"
	"fmt"

	"dcvext/message"
	"dcvext/transport"
)

// ChannelState is the progress of a virtual channel setup.
type ChannelState int

const (
	// ChannelRequested: the request is sent and not yet answered.
	ChannelRequested ChannelState = iota
	// ChannelAcknowledged: the host returned the relay path and token.
	ChannelAcknowledged
	// ChannelReady: the host reported the channel ready for data.
	ChannelReady
	// ChannelFailed: the request failed or the channel closed before ready.
	ChannelFailed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelRequested:
		return "requested"
	case ChannelAcknowledged:
		return "acknowledged"
	case ChannelReady:
		return "ready"
	case ChannelFailed:
		return "failed"
	default:
		return fmt.Sprintf("ChannelState(%d)", int(s))
	}
}

// ChannelSetup tracks the two completions of SetupVirtualChannel: the
// response carrying the relay path, and the VirtualChannelReady event that
// follows it. The side channel is usable only after both.
type ChannelSetup struct {
	Name string

	p     *Processor
	ack   *Future[message.VirtualChannel]
	ready *transport.Future[struct{}]
}

// SetupVirtualChannelAsync asks the host to create the named virtual channel.
// relayPID is the process id that will connect to the relay, normally
// os.Getpid().
func (p *Processor) SetupVirtualChannelAsync(name string, relayPID int64) *ChannelSetup {
	req := &message.Request{Kind: message.SetupVirtualChannel, VirtualChannelName: name, RelayClientProcessID: relayPID}
	setup := &ChannelSetup{Name: name, p: p}

	// The ready slot must exist before the request is written: the host may
	// emit the event right after the response.
	ready, err := p.d.ExpectReady(name)
	if err != nil {
		setup.ready = transport.NewFuture[struct{}]()
		setup.ready.Resolve(struct{}{}, err)
		setup.ack = newFuture(failedCall(req, err), virtualChannel)
		return setup
	}
	setup.ready = ready
	setup.ack = newFuture(p.start(req), virtualChannel)
	return setup
}

// SetupVirtualChannel creates the named virtual channel and waits for the
// host's acknowledgement. The request goes through the middleware chain. The
// host reports the channel ready only after the relay has been connected and
// authenticated, so call WaitReady after doing that.
func (p *Processor) SetupVirtualChannel(ctx context.Context, name string, relayPID int64) (*ChannelSetup, error) {
	ready, err := p.d.ExpectReady(name)
	if err != nil {
		return nil, err
	}

	req := &message.Request{Kind: message.SetupVirtualChannel, VirtualChannelName: name, RelayClientProcessID: relayPID}
	resp, err := p.handler(ctx, req)
	if err != nil {
		p.d.CancelReady(name, err)
		return nil, err
	}
	p.logger.Debug("virtual channel acknowledged", "name", name, "relay_path", resp.VirtualChannel.RelayPath)

	return &ChannelSetup{
		Name:  name,
		p:     p,
		ack:   newFuture(resolvedCall(resp), virtualChannel),
		ready: ready,
	}, nil
}

// Acknowledged is closed when the host has answered the setup request.
func (s *ChannelSetup) Acknowledged() <-chan struct{} {
	return s.ack.Done()
}

// WaitAcknowledged returns the relay path and auth token from the host's
// response.
func (s *ChannelSetup) WaitAcknowledged(ctx context.Context) (message.VirtualChannel, error) {
	return s.ack.Wait(ctx)
}

// WaitReady blocks until the channel is acknowledged and ready. A failed
// acknowledgement fails the wait without waiting for the event.
func (s *ChannelSetup) WaitReady(ctx context.Context) (message.VirtualChannel, error) {
	vc, err := s.ack.Wait(ctx)
	if err != nil {
		if s.ack.call.Resolved() {
			s.p.d.CancelReady(s.Name, err)
		}
		return message.VirtualChannel{}, err
	}
	if _, err := s.ready.Wait(ctx); err != nil {
		return message.VirtualChannel{}, err
	}
	return vc, nil
}

// State reports how far the setup has progressed, without blocking.
func (s *ChannelSetup) State() ChannelState {
	if s.ack.call.Resolved() {
		if _, err := s.ack.call.Result(); err != nil {
			return ChannelFailed
		}
	}
	if s.ready.Resolved() {
		if _, err := s.ready.Result(); err != nil {
			return ChannelFailed
		}
		if s.ack.call.Resolved() {
			return ChannelReady
		}
	}
	if s.ack.call.Resolved() {
		return ChannelAcknowledged
	}
	return ChannelRequested
}
