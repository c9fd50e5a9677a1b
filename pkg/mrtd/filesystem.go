package mrtd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gregLibert/mrtd/pkg/iso7816"
	"github.com/gregLibert/mrtd/pkg/tlv"
)

// ELEMENTARY FILE ACCESS:
//
// Every LDS file is read through a FileSystem: file selection is lazy (a
// SELECT only goes out when a read needs it), reads are deduplicated per
// file by a fragmentBuffer, and the block size adapts downward when a card
// rejects extended-length reads it claimed to support. All traffic flows
// through the session's current secure channel.

// defaultReadLength is the block size every card accepts: a short-length
// read with room for the secure-messaging overhead.
const defaultReadLength = 223

// fileInfoPrefix is how many bytes the length discovery reads.
const fileInfoPrefix = 8

// FileInfo is the discovered size of one elementary file.
type FileInfo struct {
	FID    uint16
	Length int
}

// secureChannel couples the APDU client with the current wrapper. A nil
// wrapper sends in the clear (before access control completes).
type secureChannel struct {
	client  *iso7816.Client
	wrapper Wrapper
}

func (c *secureChannel) transmit(cmd *iso7816.CommandAPDU) (*iso7816.ResponseAPDU, error) {
	if c.wrapper == nil {
		return transmit(c.client, cmd)
	}
	wrapped, err := c.wrapper.Wrap(cmd)
	if err != nil {
		return nil, err
	}
	resp, err := transmit(c.client, wrapped)
	if err != nil {
		return nil, err
	}
	return c.wrapper.Unwrap(resp)
}

type fileState struct {
	fid  uint16
	info *FileInfo
	buf  *fragmentBuffer
}

// FileSystem reads elementary files under one dedicated file (master file
// or applet).
type FileSystem struct {
	ch       *secureChannel
	maxBlock int

	selected     uint16
	selectedSent bool
	files        map[uint16]*fileState

	// Progress, when set, is called synchronously after every block with
	// the bytes buffered and the total file length.
	Progress func(fid uint16, buffered, total int)
}

func newFileSystem(ch *secureChannel, maxBlock int) *FileSystem {
	if maxBlock < defaultReadLength {
		maxBlock = defaultReadLength
	}
	return &FileSystem{ch: ch, maxBlock: maxBlock, files: make(map[uint16]*fileState)}
}

// SelectFile records the target file; the SELECT goes out on the next read.
func (fs *FileSystem) SelectFile(fid uint16) {
	if fs.selected == fid && fs.selectedSent {
		return
	}
	fs.selected = fid
	fs.selectedSent = false
	if _, ok := fs.files[fid]; !ok {
		fs.files[fid] = &fileState{fid: fid, buf: newFragmentBuffer(fileInfoPrefix)}
	}
}

func (fs *FileSystem) ensureSelected() error {
	if fs.selectedSent {
		return nil
	}
	if fs.selected == 0 {
		return &ProtocolError{Protocol: "FS", Message: "no file selected"}
	}
	cla, _ := iso7816.NewClass(0x00)
	resp, err := fs.ch.transmit(iso7816.SelectEF(cla, fs.selected))
	if err != nil {
		return err
	}
	if !resp.Status.IsSuccess() {
		return &ProtocolError{Protocol: "FS", Status: resp.Status,
			Message: fmt.Sprintf("cannot select file %04X", fs.selected)}
	}
	fs.selectedSent = true
	return nil
}

// ReadFile discovers the file length and returns the complete content.
func (fs *FileSystem) ReadFile(fid uint16) ([]byte, error) {
	fs.SelectFile(fid)
	info, err := fs.fileInfo()
	if err != nil {
		return nil, err
	}
	return fs.ReadBinary(0, info.Length)
}

// FileLength discovers (and caches) the length of a file without reading
// its content.
func (fs *FileSystem) FileLength(fid uint16) (int, error) {
	fs.SelectFile(fid)
	info, err := fs.fileInfo()
	if err != nil {
		return 0, err
	}
	return info.Length, nil
}

// ReadBinary returns the window [offset, offset+length) of the selected
// file, fetching only the sub-ranges the fragment buffer has never seen.
func (fs *FileSystem) ReadBinary(offset, length int) ([]byte, error) {
	if offset < 0 || length <= 0 {
		return nil, &ProtocolError{Protocol: "FS",
			Message: fmt.Sprintf("invalid read window %d+%d", offset, length)}
	}
	state := fs.files[fs.selected]
	if state == nil {
		return nil, &ProtocolError{Protocol: "FS", Message: "no file selected"}
	}

	for {
		start, end := state.buf.missing(offset, length)
		if start == end {
			break
		}
		block := min(end-start, fs.maxBlock)

		n, err := fs.readBlock(state, start, block)
		if errors.Is(err, ErrRetryShorterRead) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, &ProtocolError{Protocol: "FS",
				Message: fmt.Sprintf("file %04X ends before offset %d", state.fid, start)}
		}
		if fs.Progress != nil {
			total := length
			if state.info != nil {
				total = state.info.Length
			}
			fs.Progress(state.fid, state.buf.buffered(0, total), total)
		}
	}

	window, ok := state.buf.slice(offset, length)
	if !ok {
		return nil, &ProtocolError{Protocol: "FS", Message: "read window incomplete after fetch"}
	}
	return window, nil
}

// readBlock fetches one block through the secure channel and merges it.
// It returns ErrRetryShorterRead after shrinking the block size when the
// card rejects a length it announced support for; the wrapper state is
// rolled back so the retry reuses the same counter value.
func (fs *FileSystem) readBlock(state *fileState, offset, length int) (int, error) {
	if err := fs.ensureSelected(); err != nil {
		return 0, err
	}

	var snapshot Wrapper
	if fs.ch.wrapper != nil {
		snapshot = fs.ch.wrapper.Clone()
	}

	cla, _ := iso7816.NewClass(0x00)
	var cmd *iso7816.CommandAPDU
	var odd bool
	var err error
	if offset > iso7816.MaxShortOffset {
		cmd, err = iso7816.ReadBinaryOdd(cla, offset, length)
		odd = true
	} else {
		cmd, err = iso7816.ReadBinary(cla, offset, length)
	}
	if err != nil {
		if snapshot != nil {
			snapshot.Destroy()
		}
		return 0, &ProtocolError{Protocol: "FS", Message: "cannot encode read", Cause: err}
	}

	resp, err := fs.ch.transmit(cmd)
	if err != nil {
		if snapshot != nil {
			snapshot.Destroy()
		}
		return 0, err
	}

	if resp.Status == iso7816.SW_ERR_WRONG_LENGTH && fs.maxBlock > defaultReadLength {
		// The card announced extended length but rejects it in practice.
		// Roll the channel back and fall back to short reads.
		if snapshot != nil {
			fs.ch.wrapper.Destroy()
			fs.ch.wrapper = snapshot
		}
		fs.maxBlock = defaultReadLength
		slog.Warn("card rejected read length, shrinking block size",
			"fid", fmt.Sprintf("%04X", state.fid), "block", defaultReadLength)
		return 0, ErrRetryShorterRead
	}
	if snapshot != nil {
		snapshot.Destroy()
	}

	if resp.Status == iso7816.SW_ERR_WRONG_P1P2 {
		// Offset past the end of the file.
		return 0, nil
	}
	if !resp.Status.IsSuccess() && resp.Status != iso7816.SW_WARN_EOF_REACHED {
		return 0, &ProtocolError{Protocol: "FS", Status: resp.Status,
			Message: fmt.Sprintf("read of file %04X at %d failed", state.fid, offset)}
	}

	data := resp.Data
	if odd {
		if data, err = iso7816.UnwrapDiscretionaryData(data); err != nil {
			return 0, &ProtocolError{Protocol: "FS", Message: "malformed discretionary data", Cause: err}
		}
	}
	if len(data) == 0 {
		return 0, nil
	}
	if len(data) > length {
		data = data[:length]
	}
	if err := state.buf.add(offset, data); err != nil {
		return 0, &ProtocolError{Protocol: "FS", Message: "cannot buffer block", Cause: err}
	}
	return len(data), nil
}

// fileInfo reads the first bytes of the selected file and derives its
// length from the outer tag and length of the BER-TLV content.
func (fs *FileSystem) fileInfo() (*FileInfo, error) {
	state := fs.files[fs.selected]
	if state == nil {
		return nil, &ProtocolError{Protocol: "FS", Message: "no file selected"}
	}
	if state.info != nil {
		return state.info, nil
	}

	var got int
	for {
		start, end := state.buf.missing(0, fileInfoPrefix)
		if start == end {
			got = fileInfoPrefix
			break
		}
		n, err := fs.readBlock(state, start, end-start)
		if errors.Is(err, ErrRetryShorterRead) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// The file is shorter than the probe.
			got = start
			break
		}
	}
	if got == 0 {
		return nil, &ProtocolError{Protocol: "FS",
			Message: fmt.Sprintf("file %04X is empty", state.fid)}
	}

	prefix, ok := state.buf.slice(0, got)
	if !ok {
		return nil, &ProtocolError{Protocol: "FS", Message: "length probe incomplete"}
	}

	length := got
	if got == fileInfoPrefix {
		_, contentLen, headerSize, err := tlv.ReadHeader(prefix)
		if err != nil {
			return nil, &ProtocolError{Protocol: "FS",
				Message: fmt.Sprintf("file %04X has no parsable header", state.fid), Cause: err}
		}
		length = headerSize + contentLen
	}

	state.info = &FileInfo{FID: state.fid, Length: length}
	state.buf.grow(length)
	return state.info, nil
}

// Invalidate drops selection state, forcing a SELECT before the next read.
// Needed after the secure channel is replaced.
func (fs *FileSystem) Invalidate() {
	fs.selectedSent = false
}

// WipeAll zeroizes every fragment buffer.
func (fs *FileSystem) WipeAll() {
	for _, st := range fs.files {
		st.buf.wipe()
	}
}
