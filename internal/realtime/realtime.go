// Package realtime drives the post-upload disk-servicing loop (spec §4.5):
// a single task that polls the device for out-of-band packets and answers
// disk read/write requests, button presses, debug output, save writeback,
// and AUX rendezvous, all within the device's disk-retry deadline.
package realtime

import (
	"bufio"
	"io"
	"log"
	"os"
	"time"

	"golang.org/x/text/encoding/japanese"

	"sc64/internal/deployer"
	"sc64/internal/disk"
	"sc64/internal/sc64err"
	"sc64/internal/types"
)

// DebugDecoding selects how DebugData payloads are rendered.
type DebugDecoding int

const (
	DebugUTF8 DebugDecoding = iota
	DebugEUCJP
)

// Handlers bundles the loop's side-effecting collaborators; every field is
// optional. With no Disks (or an out-of-range ActiveDisk), disk requests are
// answered with an error reply.
type Handlers struct {
	Disks         []*disk.Disk
	ActiveDisk    int
	SavePath      string
	DebugDecoding DebugDecoding
	DebugWriter   io.Writer
	OnAux         func(value uint32)
}

// Loop owns the running state of the real-time servicing loop.
type Loop struct {
	d      *deployer.Deployer
	h      *Handlers
	stop   chan struct{}
	stdin  <-chan string
}

// New builds a Loop ready to Run. When stdinLines is non-nil it is polled
// (without blocking the disk-service path) whenever no device packet is
// immediately available, per spec §4.5 step 3 — the caller is expected to
// feed it from a goroutine reading os.Stdin line by line.
func New(d *deployer.Deployer, h *Handlers, stdinLines <-chan string) *Loop {
	if h.DebugWriter == nil {
		h.DebugWriter = os.Stdout
	}
	return &Loop{d: d, h: h, stop: make(chan struct{}), stdin: stdinLines}
}

// Stop requests the loop exit at its next iteration boundary, mirroring the
// Ctrl-C atomic flag in spec §4.5/§5.
func (l *Loop) Stop() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
}

// Run services packets until Stop is called, then resets device state
// (releasing any outstanding disk callback) before returning. Each
// iteration is a single non-blocking poll of the device followed, only when
// nothing was pending, by a non-blocking check of the stdin line channel —
// never a blocking wait, so disk requests are always serviced within the
// device's retry window (spec §4.5).
func (l *Loop) Run() error {
	defer l.d.ResetState()

	for {
		select {
		case <-l.stop:
			return nil
		default:
		}

		kind, payload, ok, err := l.d.TryReceiveDataPacket()
		if err != nil {
			return err
		}
		if ok {
			if err := l.dispatch(kind, payload); err != nil {
				return err
			}
			continue
		}

		select {
		case line, open := <-l.stdin:
			if open {
				if err := l.d.SendDebugPacket(byte(types.PacketDebug), []byte(line)); err != nil {
					return err
				}
				continue
			}
		default:
		}

		// Nothing to do this pass: a short yield matches the ~5ms poll
		// interval the link's own read timeout is tuned to (spec §5),
		// instead of busy-spinning the host CPU.
		time.Sleep(5 * time.Millisecond)
	}
}

func (l *Loop) dispatch(kind types.DataPacketKind, payload []byte) error {
	switch kind {
	case types.PacketDisk:
		return l.serviceDisk(payload)
	case types.PacketButton:
		return l.serviceButton()
	case types.PacketDebug:
		return l.serviceDebug(payload)
	case types.PacketIsViewer:
		return l.serviceIsViewer(payload)
	case types.PacketSaveWriteback:
		return l.serviceSaveWriteback(payload)
	case types.PacketDataFlushed:
		// dropped outbound debug: logged as a warning, not fatal
		log.Println("warning: device dropped outbound debug data")
		return nil
	case types.PacketAuxData:
		if l.h.OnAux != nil && len(payload) >= 4 {
			l.h.OnAux(beUint32(payload))
		}
		return nil
	default:
		return nil
	}
}

func (l *Loop) activeDisk() *disk.Disk {
	if l.h.ActiveDisk < 0 || l.h.ActiveDisk >= len(l.h.Disks) {
		return nil
	}
	return l.h.Disks[l.h.ActiveDisk]
}

func (l *Loop) serviceDisk(payload []byte) error {
	pkt, err := types.DecodeDiskPacket(payload)
	if err != nil {
		return err
	}
	d := l.activeDisk()
	if d == nil {
		return l.d.ReplyDiskPacket(true)
	}
	if _, ok := d.GetLBA(pkt.Block.Track, pkt.Block.Head, pkt.Block.Block); !ok {
		return l.d.ReplyDiskPacket(true)
	}

	switch pkt.Command {
	case types.DiskReadBlock:
		data, ok, err := d.ReadBlock(pkt.Block.Track, pkt.Block.Head, pkt.Block.Block)
		if err != nil {
			return err
		}
		if !ok {
			return l.d.ReplyDiskPacket(true)
		}
		if err := l.d.WriteDiskScratch(data); err != nil {
			return err
		}
		return l.d.ReplyDiskPacket(false)
	case types.DiskWriteBlock:
		ok, err := d.WriteBlock(pkt.Block.Track, pkt.Block.Head, pkt.Block.Block, pkt.Block.Data)
		if err != nil {
			return err
		}
		return l.d.ReplyDiskPacket(!ok)
	default:
		return l.d.ReplyDiskPacket(true)
	}
}

func (l *Loop) serviceButton() error {
	d := l.activeDisk()
	if d == nil {
		return nil
	}
	// Cycle the inserted disk or swap to the next available image,
	// reflected to the device via a DdDiskState config change (spec §4.5).
	if l.h.ActiveDisk+1 < len(l.h.Disks) {
		l.h.ActiveDisk++
	} else {
		l.h.ActiveDisk = 0
	}
	return l.d.Set64DDDiskState(types.DiskChanged)
}

func (l *Loop) serviceDebug(payload []byte) error {
	pkt, err := types.DecodeDebugPacket(payload)
	if err != nil {
		return err
	}
	text := pkt.Data
	if l.h.DebugDecoding == DebugEUCJP {
		if decoded, _ := japanese.EUCJP.NewDecoder().Bytes(text); decoded != nil {
			text = decoded
		}
	}
	_, werr := l.h.DebugWriter.Write(text)
	return werr
}

func (l *Loop) serviceIsViewer(payload []byte) error {
	if l.h.DebugDecoding == DebugEUCJP {
		if decoded, _ := japanese.EUCJP.NewDecoder().Bytes(payload); decoded != nil {
			payload = decoded
		}
	}
	_, werr := l.h.DebugWriter.Write(payload)
	return werr
}

func (l *Loop) serviceSaveWriteback(payload []byte) error {
	if l.h.SavePath == "" {
		return nil
	}
	save, err := l.d.DownloadSave()
	if err != nil {
		return err
	}
	f, err := os.Create(l.h.SavePath)
	if err != nil {
		return sc64err.Wrap(sc64err.Io, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if _, err := w.Write(save); err != nil {
		return sc64err.Wrap(sc64err.Io, err)
	}
	if err := w.Flush(); err != nil {
		return sc64err.Wrap(sc64err.Io, err)
	}
	return nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
