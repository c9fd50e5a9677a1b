// Package pcsc provides the PC/SC card transport used by the reading
// engine on desktop readers.
package pcsc

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ebfe/scard"
)

// Transport drives one PC/SC reader. It satisfies the engine's transport
// contract: half-duplex, blocking, with loss classification.
type Transport struct {
	Reader string // empty selects the first reader found

	// ForceExtendedLength overrides the capability probe for readers that
	// misreport support.
	ForceExtendedLength bool

	ctx  *scard.Context
	card *scard.Card
}

// Open establishes the PC/SC context and connects to the reader.
func (t *Transport) Open() error {
	if t.card != nil {
		return nil
	}

	ctx, err := scard.EstablishContext()
	if err != nil {
		return fmt.Errorf("establishing PC/SC context: %w", err)
	}

	reader := t.Reader
	if reader == "" {
		readers, err := ctx.ListReaders()
		if err != nil || len(readers) == 0 {
			releaseContext(ctx)
			return fmt.Errorf("no smart card reader found: %w", err)
		}
		reader = readers[0]
	}

	// Force T=0 or T=1 to avoid "Parameter Incorrect" errors (Error 57)
	card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		releaseContext(ctx)
		return fmt.Errorf("connecting to reader %q: %w", reader, err)
	}

	slog.Info("card connected", "reader", reader)
	t.ctx, t.card = ctx, card
	return nil
}

// IsOpen reports whether a card connection is established.
func (t *Transport) IsOpen() bool { return t.card != nil }

// Close disconnects and releases the context.
func (t *Transport) Close() {
	if t.card != nil {
		if err := t.card.Disconnect(scard.LeaveCard); err != nil {
			slog.Warn("failed to disconnect card", "err", err)
		}
		t.card = nil
	}
	if t.ctx != nil {
		releaseContext(t.ctx)
		t.ctx = nil
	}
}

// Transmit performs one APDU exchange.
func (t *Transport) Transmit(command []byte) ([]byte, error) {
	if t.card == nil {
		return nil, errors.New("transport not open")
	}
	return t.card.Transmit(command)
}

// IsExtendedLengthSupported reports extended-length capability. PC/SC
// offers no portable probe, so this is conservative unless overridden.
func (t *Transport) IsExtendedLengthSupported() bool {
	return t.ForceExtendedLength
}

// IsConnectionLost classifies card-removal and reader-loss errors.
func (t *Transport) IsConnectionLost(err error) bool {
	var scardErr scard.Error
	if !errors.As(err, &scardErr) {
		return false
	}
	switch scardErr {
	case scard.ErrRemovedCard, scard.ErrReaderUnavailable, scard.ErrNoSmartcard, scard.ErrUnknownReader:
		return true
	}
	return false
}

func releaseContext(ctx *scard.Context) {
	if err := ctx.Release(); err != nil {
		slog.Warn("failed to release PC/SC context", "err", err)
	}
}
