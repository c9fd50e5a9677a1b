package mrtd

import (
	"fmt"
	"log/slog"

	"github.com/gregLibert/mrtd/pkg/iso7816"
)

// Transport is the physical card link the engine runs on. Implementations
// are expected to be half-duplex and blocking with their own timeout;
// pkg/pcsc provides the PC/SC one.
type Transport interface {
	Open() error
	IsOpen() bool
	Close()

	// Transmit performs one command/response exchange. A successful
	// response carries at least the two status bytes.
	Transmit(command []byte) ([]byte, error)

	// IsExtendedLengthSupported reports whether the link and card accept
	// extended-length APDUs.
	IsExtendedLengthSupported() bool

	// IsConnectionLost classifies an error returned by Transmit.
	IsConnectionLost(err error) bool
}

// transportTransmitter adapts a Transport to the iso7816 client, wrapping
// link failures into the engine's error taxonomy.
type transportTransmitter struct {
	transport Transport
}

func (t transportTransmitter) Transmit(cmd []byte) ([]byte, error) {
	resp, err := t.transport.Transmit(cmd)
	if err != nil {
		return nil, &TransportError{Op: "transmit", Lost: t.transport.IsConnectionLost(err), Cause: err}
	}
	if len(resp) < 2 {
		return nil, &TransportError{Op: "transmit", Cause: fmt.Errorf("response of %d bytes lacks a status word", len(resp))}
	}
	return resp, nil
}

// newClient builds the iso7816 client used for every exchange in a session.
func newClient(t Transport) *iso7816.Client {
	return iso7816.NewClient(transportTransmitter{transport: t})
}

// transmit sends one command and returns the merged logical response of the
// trace, with debug logging of the exchange.
func transmit(client *iso7816.Client, cmd *iso7816.CommandAPDU) (*iso7816.ResponseAPDU, error) {
	trace, err := client.Send(cmd)
	if err != nil {
		return nil, err
	}

	resp := trace.MergedResponse()
	slog.Debug("apdu exchange",
		"cmd", cmd.String(),
		"sw", resp.Status.Verbose(),
		"resp_len", len(resp.Data))
	return resp, nil
}
