package mrtd

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gregLibert/mrtd/pkg/icao"
	"github.com/gregLibert/mrtd/pkg/iso7816"
)

// DOCUMENT SESSION:
//
// One Session owns one card presentation end to end. The state machine is
// strictly forward:
//
//   Initial -> CardAccessed -> ChipAuthenticated -> PassivelyAuthenticated
//
// with a terminal Error state reachable from anywhere. CardAccessed means
// an access-control protocol (PACE when EF.CardAccess announces one, BAC
// otherwise) has produced a secure channel and the applet is selected
// through it. Chip authentication is mandatory in this profile; its
// absence on the card fails the session. Every failure wipes all retained
// key material and closes the transport; there is no partial state to
// resume.
//
// The transport is half duplex, so the whole session serializes behind one
// mutex; concurrent use of a Session is a programming error that shows up
// as blocking, never as interleaving.

// SessionState names the orchestrator's position in the read flow.
type SessionState int

const (
	StateInitial SessionState = iota
	StateCardAccessed
	StateChipAuthenticated
	StatePassivelyAuthenticated
	StateError
)

func (s SessionState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateCardAccessed:
		return "card-accessed"
	case StateChipAuthenticated:
		return "chip-authenticated"
	case StatePassivelyAuthenticated:
		return "passively-authenticated"
	default:
		return "error"
	}
}

// SessionConfig tunes one document read.
type SessionConfig struct {
	// DataGroups to read and verify, by number. DG14 is always included
	// since chip authentication depends on it. Defaults to DG1.
	DataGroups []int
	// RNG overrides the random source of the protocols. Nil means
	// crypto/rand.
	RNG io.Reader
	// Progress, when set, is called synchronously with per-file byte
	// counts while data groups stream in.
	Progress func(fid uint16, read, total int)
}

// Document is the verified outcome of a session.
type Document struct {
	// AccessProtocol is "PACE" or "BAC".
	AccessProtocol string
	// ChipKeyHash identifies the terminal ephemeral key of chip
	// authentication, as needed by a later terminal authentication.
	ChipKeyHash []byte
	// DataGroups holds the raw encoded files, keyed by group number.
	DataGroups map[int][]byte
	// Common is the decoded EF.COM, when present.
	Common *icao.CommonData
}

// Session drives one card presentation.
type Session struct {
	mu        sync.Mutex
	transport Transport
	cfg       SessionConfig

	state    SessionState
	ch       *secureChannel
	rootFS   *FileSystem
	appletFS *FileSystem
	sod      *icao.SecurityObject
}

// NewSession wraps a transport. The transport is opened by ReadDocument
// and closed when the session ends, on either path.
func NewSession(t Transport, cfg SessionConfig) *Session {
	if len(cfg.DataGroups) == 0 {
		cfg.DataGroups = []int{1}
	}
	return &Session{transport: t, cfg: cfg}
}

// State returns the current machine state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ReadDocument runs the full flow: access control, chip authentication,
// data group reads and passive authentication. The access key is consumed
// and wiped on every path.
func (s *Session) ReadDocument(key *AccessKey) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer key.Wipe()

	if s.state != StateInitial {
		return nil, fmt.Errorf("session already used (state %s)", s.state)
	}

	doc, err := s.run(key)
	if err != nil {
		s.fail()
		return nil, err
	}
	s.cleanup()
	return doc, nil
}

func (s *Session) run(key *AccessKey) (*Document, error) {
	if err := s.transport.Open(); err != nil {
		return nil, &TransportError{Op: "open", Cause: err}
	}

	maxTranceive := iso7816.MaxShortLe
	if s.transport.IsExtendedLengthSupported() {
		maxTranceive = iso7816.MaxExtendedLe
	}

	s.ch = &secureChannel{client: newClient(s.transport)}
	s.rootFS = newFileSystem(s.ch, maxTranceive)
	s.appletFS = newFileSystem(s.ch, maxTranceive)
	s.appletFS.Progress = s.cfg.Progress

	doc := &Document{DataGroups: make(map[int][]byte)}

	// Access control: PACE when announced, BAC otherwise.
	if err := s.accessCard(key, doc, maxTranceive); err != nil {
		return nil, err
	}
	s.state = StateCardAccessed
	slog.Info("card accessed", "protocol", doc.AccessProtocol)

	// Chip authentication from DG14 (mandatory).
	dg14, err := s.appletFS.ReadFile(icao.FileDG14)
	if err != nil {
		return nil, err
	}
	doc.DataGroups[14] = append([]byte(nil), dg14...)

	infos, err := icao.ParseDG14(dg14)
	if err != nil {
		return nil, &ProtocolError{Protocol: "CA", Step: 1, Message: "unreadable DG14", Cause: err}
	}
	caInfo, caKey, err := infos.MatchChipAuthentication()
	if err != nil {
		return nil, &ProtocolError{Protocol: "CA", Step: 1, Message: "chip authentication unavailable", Cause: err}
	}
	caResult, err := performChipAuthentication(s.ch.client, caInfo, caKey, s.cfg.RNG, maxTranceive)
	if err != nil {
		return nil, err
	}
	s.replaceWrapper(caResult.Wrapper)
	doc.ChipKeyHash = caResult.KeyHash
	s.state = StateChipAuthenticated

	// Data group reads over the authenticated channel.
	if com, err := s.appletFS.ReadFile(icao.FileCOM); err == nil {
		if parsed, err := icao.ParseCOM(com); err == nil {
			doc.Common = parsed
		}
	}

	sodRaw, err := s.appletFS.ReadFile(icao.FileSOD)
	if err != nil {
		return nil, err
	}
	s.sod, err = icao.ParseSOD(sodRaw)
	if err != nil {
		return nil, &ProtocolError{Protocol: "PA", Message: "unreadable security object", Cause: err}
	}

	for _, dg := range s.cfg.DataGroups {
		if dg == 14 {
			continue // already read
		}
		fid, err := icao.FileForDataGroup(dg)
		if err != nil {
			return nil, &ProtocolError{Protocol: "FS", Message: "unknown data group", Cause: err}
		}
		stream, err := newFileStream(s.appletFS, fid)
		if err != nil {
			return nil, err
		}
		content, err := stream.ReadAll()
		if err != nil {
			stream.Close()
			return nil, err
		}
		doc.DataGroups[dg] = append([]byte(nil), content...)
		stream.Close()
	}

	// Passive authentication over everything that was read.
	if err := performPassiveAuthentication(s.sod, doc.DataGroups); err != nil {
		return nil, err
	}
	s.state = StatePassivelyAuthenticated
	return doc, nil
}

// accessCard establishes the secure channel and selects the applet
// through it.
func (s *Session) accessCard(key *AccessKey, doc *Document, maxTranceive int) error {
	cla, _ := iso7816.NewClass(0x00)

	var wrapper Wrapper
	if info := s.readPACEInfo(); info != nil {
		var err error
		wrapper, err = performPACE(s.ch.client, key, info, s.cfg.RNG, maxTranceive)
		if err != nil {
			return err
		}
		doc.AccessProtocol = "PACE"
		s.ch.wrapper = wrapper

		// The applet must be selected through the fresh channel.
		resp, err := s.ch.transmit(iso7816.SelectApplication(cla, icao.AppletAID))
		if err != nil {
			return err
		}
		if !resp.Status.IsSuccess() {
			return &ProtocolError{Protocol: "PACE", Status: resp.Status,
				Message: "applet selection through the secure channel failed"}
		}
		return nil
	}

	// No PACE announcement: select in the clear and run BAC.
	resp, err := transmit(s.ch.client, iso7816.SelectApplication(cla, icao.AppletAID))
	if err != nil {
		return err
	}
	if !resp.Status.IsSuccess() {
		return &ProtocolError{Protocol: "BAC", Status: resp.Status,
			Message: "applet selection failed"}
	}

	wrapper, err = performBAC(s.ch.client, key, s.cfg.RNG, maxTranceive)
	if err != nil {
		return err
	}
	doc.AccessProtocol = "BAC"
	s.ch.wrapper = wrapper
	return nil
}

// readPACEInfo fetches EF.CardAccess in the clear. Returning nil routes
// the session to BAC; cards without the file simply refuse the select.
func (s *Session) readPACEInfo() *icao.PACEInfo {
	content, err := s.rootFS.ReadFile(icao.FileCardAccess)
	if err != nil {
		slog.Debug("no readable CardAccess, assuming BAC", "err", err)
		return nil
	}
	infos, err := icao.ParseCardAccess(content)
	if err != nil || len(infos.PACE) == 0 {
		slog.Debug("CardAccess announces no PACE variant")
		return nil
	}
	return &infos.PACE[0]
}

// replaceWrapper supersedes the channel after chip authentication.
func (s *Session) replaceWrapper(w Wrapper) {
	if s.ch.wrapper != nil {
		s.ch.wrapper.Destroy()
	}
	s.ch.wrapper = w
	// Selection state on the card survives the channel restart, but a
	// fresh SELECT through the new wrapper proves the channel works.
	s.appletFS.Invalidate()
}

// fail is the transition to the terminal error state: wipe everything,
// close the transport.
func (s *Session) fail() {
	s.state = StateError
	s.cleanup()
}

func (s *Session) cleanup() {
	if s.ch != nil && s.ch.wrapper != nil {
		s.ch.wrapper.Destroy()
		s.ch.wrapper = nil
	}
	if s.rootFS != nil {
		s.rootFS.WipeAll()
	}
	if s.appletFS != nil {
		s.appletFS.WipeAll()
	}
	if s.sod != nil {
		s.sod.Wipe()
	}
	if s.transport.IsOpen() {
		s.transport.Close()
	}
}
