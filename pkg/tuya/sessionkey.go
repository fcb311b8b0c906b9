package tuya

import (
	"context"
	"errors"
	"fmt"

	"github.com/backkem/tuyalan/pkg/exchange"
	"github.com/backkem/tuyalan/pkg/message"
	"github.com/backkem/tuyalan/pkg/securechannel"
)

// negotiateRecvRetries is how often an empty negotiation response is
// tolerated before giving up.
const negotiateRecvRetries = 2

// negotiateSessionKey agrees a protocol 3.4 session key with the device.
// On failure the real key stays active, so the next request tries again.
func (c *Client) negotiateSessionKey(ctx context.Context) error {
	c.negMu.Lock()
	defer c.negMu.Unlock()

	c.mu.Lock()
	if !c.needsSessionKeyLocked() {
		c.mu.Unlock()
		return nil
	}
	c.key = c.realKey
	c.mu.Unlock()

	c.setState(StateNegotiatingSessionKey)
	defer func() {
		if c.State() == StateNegotiatingSessionKey {
			c.setState(StateConnected)
		}
	}()

	sess, err := securechannel.NewInitiator(c.realKey, c.config.NonceSource)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNegotiationFailed, err)
	}
	nonce, err := sess.Start()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNegotiationFailed, err)
	}

	resp, err := c.exchangeQuick(ctx, message.CommandSessKeyNegStart, nonce, negotiateRecvRetries)
	if err != nil {
		return fmt.Errorf("%w: step 1: %w", ErrNegotiationFailed, err)
	}
	if resp == nil || len(resp.Payload) < securechannel.ResponseSize {
		return fmt.Errorf("%w: step 1: no usable response", ErrNegotiationFailed)
	}
	if resp.Command != message.CommandSessKeyNegResp {
		return fmt.Errorf("%w: step 2 returned wrong command %s", ErrNegotiationFailed, resp.Command)
	}

	finish, err := sess.HandleResponse(resp.Payload)
	if err != nil {
		return fmt.Errorf("%w: step 2: %w", ErrNegotiationFailed, err)
	}

	if _, err := c.exchangeQuick(ctx, message.CommandSessKeyNegFinish, finish, 0); err != nil {
		return fmt.Errorf("%w: step 3: %w", ErrNegotiationFailed, err)
	}

	key, err := sess.SessionKey()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNegotiationFailed, err)
	}

	c.mu.Lock()
	c.key = key
	c.mu.Unlock()
	c.dispatcher.SetHMACKey(key)

	if c.log != nil {
		c.log.Debug("session key negotiate success")
	}
	return nil
}

// exchangeQuick sends body once without building a JSON payload. With
// recvRetries > 0 it waits for the negotiation response, tolerating up to
// recvRetries-1 empty ones, and adopts the device's sequence number. With
// recvRetries == 0 it does not wait.
func (c *Client) exchangeQuick(ctx context.Context, cmd message.Command, body []byte, recvRetries int) (*message.Frame, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	frame, err := c.encodeLocked(cmd, body)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if recvRetries == 0 {
		return nil, c.write(frame)
	}

	// One registration covers every reply, so a real response arriving
	// right behind an empty one is not lost.
	w, err := c.registerSessionKeyWaiter(recvRetries)
	if err != nil {
		return nil, err
	}
	defer func() { w.Cancel() }()

	if err := c.write(frame); err != nil {
		return nil, err
	}

	for {
		f, waitErr := w.Wait(ctx, c.config.Timeout)
		switch {
		case waitErr == nil:
			c.mu.Lock()
			c.seq = f.Seq
			c.mu.Unlock()
			if len(f.Payload) != 0 {
				return f, nil
			}
		case errors.Is(waitErr, exchange.ErrAborted):
			return nil, ErrClosed
		case ctx.Err() != nil:
			return nil, ctx.Err()
		}

		recvRetries--
		if recvRetries == 0 {
			if c.log != nil {
				c.log.Debug("received null payload but out of recv retries, giving up")
			}
			return nil, nil
		}
		if c.log != nil {
			c.log.Debugf("received null payload, fetch new one - %d retries remaining", recvRetries)
		}

		// A timed out wait drops the registration.
		if waitErr != nil {
			next, err := c.registerSessionKeyWaiter(recvRetries)
			if err != nil {
				return nil, err
			}
			w = next
		}
	}
}

func (c *Client) registerSessionKeyWaiter(n int) (*exchange.Waiter, error) {
	w, err := c.dispatcher.RegisterMany(exchange.SessionKeyKey, n)
	if errors.Is(err, exchange.ErrAborted) {
		return nil, ErrClosed
	}
	return w, err
}
