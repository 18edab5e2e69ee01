//go:build linux

// Linux backend for Port. The bridge needs only a narrow slice of the
// termios/ioctl surface: raw mode, live baud changes via BOTHER/termios2,
// and the TIOCM* modem-control bits. The ioctls are issued directly through
// golang.org/x/sys/unix rather than a serial-port library, since none of
// the library surface beyond these few calls would ever be exercised.
package serialline

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/stlalpha/modembridge/internal/bridgeerr"
)

// termios2 mirrors struct termios2 from <asm-generic/termbits.h>: the
// same field layout as unix.Termios plus the input/output speed fields that
// make BOTHER (arbitrary custom baud) selectable without a fixed Bnnnn
// constant.
type termios2 struct {
	Iflag  uint32
	Oflag  uint32
	Cflag  uint32
	Lflag  uint32
	Line   byte
	Cc     [19]byte
	Ispeed uint32
	Ospeed uint32
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func getTermios2(fd int) (*termios2, error) {
	t := &termios2{}
	if err := ioctl(fd, unix.TCGETS2, unsafe.Pointer(t)); err != nil {
		return nil, err
	}
	return t, nil
}

func setTermios2(fd int, t *termios2) error {
	return ioctl(fd, unix.TCSETS2, unsafe.Pointer(t))
}

// applySpeed selects BOTHER (custom speed via Ispeed/Ospeed) so arbitrary
// bauds are settable live, rather
// than being limited to the fixed Bnnnn table.
func applySpeed(t *termios2, baud int) {
	t.Cflag &^= unix.CBAUD
	t.Cflag |= unix.BOTHER
	t.Ispeed = uint32(baud)
	t.Ospeed = uint32(baud)
}

// realPort is the production Port backed by a real tty device.
type realPort struct {
	mu     sync.Mutex
	fd     int
	locked *Locked
	small  []byte // ReadLine scratch accumulation
}

// Open locks the device (UUCP-style), opens it O_RDWR|O_NOCTTY|O_NONBLOCK,
// and configures raw mode: no canonical processing, no output
// post-processing, VMIN=0/VTIME=0.
func Open(cfg Config) (Port, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	locked, err := Lock(cfg.Device)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		locked.Release()
		return nil, fmt.Errorf("serialline: open %s: %w", cfg.Device, err)
	}

	p := &realPort{fd: fd, locked: locked, small: make([]byte, 0, minCommandBufferSize)}
	if err := p.configure(cfg); err != nil {
		unix.Close(fd)
		locked.Release()
		return nil, err
	}
	return p, nil
}

func (p *realPort) configure(cfg Config) error {
	t, err := getTermios2(p.fd)
	if err != nil {
		return fmt.Errorf("serialline: TCGETS2: %w", err)
	}

	// Raw mode.
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	t.Cflag |= unix.CREAD | unix.CLOCAL

	switch cfg.DataBits {
	case 7:
		t.Cflag |= unix.CS7
	default:
		t.Cflag |= unix.CS8
	}
	if cfg.StopBits == 2 {
		t.Cflag |= unix.CSTOPB
	}
	switch cfg.Parity {
	case ParityOdd:
		t.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		t.Cflag |= unix.PARENB
	}
	switch cfg.Flow {
	case FlowRTSCTS:
		t.Cflag |= unix.CRTSCTS
	case FlowXonXoff:
		t.Iflag |= unix.IXON | unix.IXOFF
	case FlowBoth:
		t.Cflag |= unix.CRTSCTS
		t.Iflag |= unix.IXON | unix.IXOFF
	}

	applySpeed(t, cfg.Baud)

	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	if err := setTermios2(p.fd, t); err != nil {
		return fmt.Errorf("serialline: TCSETS2: %w", err)
	}
	return nil
}

// Read performs one non-blocking read. EAGAIN (no data available on a
// non-blocking fd) is reported as (0, nil); any other error is fatal.
func (p *realPort) Read(buf []byte) (int, error) {
	n, err := unix.Read(p.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", bridgeerr.ErrIOFatal, err)
	}
	if n == 0 {
		// read() returning 0 on a tty with no hangup is treated as "no data"
		// rather than EOF; a genuine device disappearance surfaces via a
		// subsequent write or ioctl failure.
		return 0, nil
	}
	return n, nil
}

// Write performs one non-blocking write, retrying transient EAGAIN up to 3
// times, then draining any remainder with further writes.
func (p *realPort) Write(buf []byte) (int, error) {
	total := 0
	attempts := 0
	for total < len(buf) {
		n, err := unix.Write(p.fd, buf[total:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				attempts++
				if attempts > 3 {
					return total, nil
				}
				time.Sleep(time.Millisecond)
				continue
			}
			return total, fmt.Errorf("%w: %v", bridgeerr.ErrIOFatal, err)
		}
		attempts = 0
		total += n
	}
	return total, nil
}

// ReadLine scans for a CR or LF terminated record, blocking (via repeated
// non-blocking reads) until one is found or deadline passes.
func (p *realPort) ReadLine(buf []byte, deadline time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if idx := indexCRLF(p.small); idx >= 0 {
			n := copy(buf, p.small[:idx+1])
			p.small = append(p.small[:0], p.small[idx+1:]...)
			return n, nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return 0, nil
		}
		tmp := make([]byte, 256)
		n, err := p.Read(tmp)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if len(p.small)+n > minCommandBufferSize {
			// Drop the oldest bytes rather than growing unbounded; a line
			// this long was never going to be a valid hardware status line.
			p.small = p.small[n:]
		}
		p.small = append(p.small, tmp[:n]...)
	}
}

func indexCRLF(b []byte) int {
	for i, c := range b {
		if c == '\r' || c == '\n' {
			return i
		}
	}
	return -1
}

func (p *realPort) SetBaudrate(baud int) error {
	t, err := getTermios2(p.fd)
	if err != nil {
		return fmt.Errorf("serialline: TCGETS2: %w", err)
	}
	applySpeed(t, baud)
	if err := setTermios2(p.fd, t); err != nil {
		return fmt.Errorf("serialline: set baud: %w", err)
	}
	return nil
}

func (p *realPort) setModemBit(bit int, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	req := uintptr(unix.TIOCMBIC)
	if on {
		req = uintptr(unix.TIOCMBIS)
	}
	return ioctl(p.fd, req, unsafe.Pointer(&bit))
}

func (p *realPort) getModemBit(bit int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var status int
	if err := ioctl(p.fd, unix.TIOCMGET, unsafe.Pointer(&status)); err != nil {
		return false, fmt.Errorf("serialline: TIOCMGET: %w", err)
	}
	return status&bit != 0, nil
}

func (p *realPort) SetDTR(on bool) error  { return p.setModemBit(unix.TIOCM_DTR, on) }
func (p *realPort) SetRTS(on bool) error  { return p.setModemBit(unix.TIOCM_RTS, on) }
func (p *realPort) GetDCD() (bool, error) { return p.getModemBit(unix.TIOCM_CD) }
func (p *realPort) GetDSR() (bool, error) { return p.getModemBit(unix.TIOCM_DSR) }
func (p *realPort) GetCTS() (bool, error) { return p.getModemBit(unix.TIOCM_CTS) }

// DTRDropHangup drops DTR for at least one second then restores it.
func (p *realPort) DTRDropHangup() error {
	if err := p.SetDTR(false); err != nil {
		return err
	}
	time.Sleep(1100 * time.Millisecond)
	return p.SetDTR(true)
}

func (p *realPort) Close() error {
	p.mu.Lock()
	fd := p.fd
	p.fd = -1
	p.mu.Unlock()
	if fd < 0 {
		return nil
	}
	err := unix.Close(fd)
	if p.locked != nil {
		if rerr := p.locked.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

// deviceBasename returns the last element of a device path. Nothing in the
// package calls it.
func deviceBasename(path string) string {
	i := strings.LastIndexByte(path, os.PathSeparator)
	if i < 0 {
		return path
	}
	return path[i+1:]
}
