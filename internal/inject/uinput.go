package inject

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"tx2tx/internal/types"
)

// Linux input event codes used by the virtual device.
const (
	evSyn = 0x00
	evKey = 0x01
	evRel = 0x02
	evAbs = 0x03

	synReport = 0x00

	absX = 0x00
	absY = 0x01

	relWheel = 0x08

	btnLeft   = 0x110
	btnRight  = 0x111
	btnMiddle = 0x112

	busUSB = 0x03
)

// ioctl request encoding (Linux _IOC macro).
const (
	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	iocNone  = 0
	iocWrite = 1
)

func ioc(dir, typ, nr, size uint32) uintptr {
	return uintptr(dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift)
}

func uiSetBit(nr uint32) uintptr {
	return ioc(iocWrite, uint32('U'), nr, uint32(unsafe.Sizeof(int32(0))))
}

var (
	uiSetEvBit  = uiSetBit(100)
	uiSetKeyBit = uiSetBit(101)
	uiSetRelBit = uiSetBit(102)
	uiSetAbsBit = uiSetBit(103)
	uiDevCreate = ioc(iocNone, uint32('U'), 1, 0)
	uiDevDstroy = ioc(iocNone, uint32('U'), 2, 0)
)

// uinputUserDev mirrors struct uinput_user_dev from linux/uinput.h.
type uinputUserDev struct {
	Name         [80]byte
	Bustype      uint16
	Vendor       uint16
	Product      uint16
	Version      uint16
	FFEffectsMax uint32
	AbsMax       [64]int32
	AbsMin       [64]int32
	AbsFuzz      [64]int32
	AbsFlat      [64]int32
}

// inputEvent mirrors struct input_event on 64-bit Linux.
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// UinputInjector replays events through a virtual absolute-pointer +
// keyboard device created via /dev/uinput. It serves Wayland clients that
// run without a helper process: the kernel device works under any
// compositor, at the price of requiring uinput access.
type UinputInjector struct {
	file *os.File
}

// NewUinputInjector creates the virtual device sized to the local screen.
// Wire keycodes are X11 keycodes; the injector translates them to evdev
// codes (offset 8) when writing.
func NewUinputInjector(geom types.Screen) (*UinputInjector, error) {
	file, err := os.OpenFile("/dev/uinput", os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("inject: open /dev/uinput: %w", err)
	}

	inj := &UinputInjector{file: file}
	if err := inj.setup(geom); err != nil {
		file.Close()
		return nil, err
	}
	// Give udev a moment to create the device node before the first event.
	time.Sleep(200 * time.Millisecond)
	return inj, nil
}

func (u *UinputInjector) ioctlInt(req uintptr, value int32) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, u.file.Fd(), req, uintptr(value))
	if errno != 0 {
		return errno
	}
	return nil
}

func (u *UinputInjector) ioctlNone(req uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, u.file.Fd(), req, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func (u *UinputInjector) setup(geom types.Screen) error {
	for _, ev := range []int32{evKey, evAbs, evRel, evSyn} {
		if err := u.ioctlInt(uiSetEvBit, ev); err != nil {
			return fmt.Errorf("inject: enable event type %d: %w", ev, err)
		}
	}

	// Keyboard range plus mouse buttons.
	for code := int32(1); code < 248; code++ {
		if err := u.ioctlInt(uiSetKeyBit, code); err != nil {
			return fmt.Errorf("inject: enable key %d: %w", code, err)
		}
	}
	for _, btn := range []int32{btnLeft, btnRight, btnMiddle} {
		if err := u.ioctlInt(uiSetKeyBit, btn); err != nil {
			return fmt.Errorf("inject: enable button %#x: %w", btn, err)
		}
	}

	for _, axis := range []int32{absX, absY} {
		if err := u.ioctlInt(uiSetAbsBit, axis); err != nil {
			return fmt.Errorf("inject: enable abs axis %d: %w", axis, err)
		}
	}
	if err := u.ioctlInt(uiSetRelBit, relWheel); err != nil {
		return fmt.Errorf("inject: enable wheel: %w", err)
	}

	var dev uinputUserDev
	copy(dev.Name[:], "tx2tx virtual input")
	dev.Bustype = busUSB
	dev.Vendor = 0x1
	dev.Product = 0x1
	dev.Version = 1
	dev.AbsMax[absX] = int32(geom.Width - 1)
	dev.AbsMax[absY] = int32(geom.Height - 1)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &dev); err != nil {
		return fmt.Errorf("inject: encode device: %w", err)
	}
	if _, err := u.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("inject: write device: %w", err)
	}
	if err := u.ioctlNone(uiDevCreate); err != nil {
		return fmt.Errorf("inject: create device: %w", err)
	}
	return nil
}

func (u *UinputInjector) emit(eventType, code uint16, value int32) error {
	ev := inputEvent{Type: eventType, Code: code, Value: value}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &ev); err != nil {
		return err
	}
	_, err := u.file.Write(buf.Bytes())
	return err
}

func (u *UinputInjector) sync() error {
	return u.emit(evSyn, synReport, 0)
}

// MouseMove emits an absolute position report.
func (u *UinputInjector) MouseMove(pos types.Position) error {
	if err := u.emit(evAbs, absX, int32(pos.X)); err != nil {
		return err
	}
	if err := u.emit(evAbs, absY, int32(pos.Y)); err != nil {
		return err
	}
	return u.sync()
}

// Button presses or releases a mouse button.
func (u *UinputInjector) Button(button int, pressed bool) error {
	var code uint16
	switch button {
	case 1:
		code = btnLeft
	case 2:
		code = btnMiddle
	case 3:
		code = btnRight
	default:
		return fmt.Errorf("inject: unsupported button %d", button)
	}
	value := int32(0)
	if pressed {
		value = 1
	}
	if err := u.emit(evKey, code, value); err != nil {
		return err
	}
	return u.sync()
}

// Scroll emits one wheel tick; evdev wheel sign is positive-up, the wire
// delta is positive-down.
func (u *UinputInjector) Scroll(button int, delta int) error {
	value := int32(-1)
	if delta < 0 {
		value = 1
	}
	if err := u.emit(evRel, relWheel, value); err != nil {
		return err
	}
	return u.sync()
}

// Key presses or releases a key, translating the X11 keycode to evdev.
func (u *UinputInjector) Key(keycode uint32, pressed bool) error {
	if keycode < 8 {
		return fmt.Errorf("inject: keycode %d below X11 range", keycode)
	}
	value := int32(0)
	if pressed {
		value = 1
	}
	if err := u.emit(evKey, uint16(keycode-8), value); err != nil {
		return err
	}
	return u.sync()
}

// Close destroys the virtual device.
func (u *UinputInjector) Close() error {
	_ = u.ioctlNone(uiDevDstroy)
	return u.file.Close()
}

var _ Injector = (*UinputInjector)(nil)
