//go:build darwin

package capture

/*
#cgo darwin LDFLAGS: -framework CoreGraphics -framework ApplicationServices -framework CoreFoundation
#include <ApplicationServices/ApplicationServices.h>
#include <CoreFoundation/CoreFoundation.h>
#include <stdint.h>

// Written into kCGEventSourceUserData of every re-posted event.
#define LK_ECHO_MARKER 0x4C4B4559

extern int lkHandleKey(int tap, int kind, int64_t code, uint64_t flags, int repeat, int echo);
extern void lkHandleDisabled(int tap, int reason);

static CGEventRef lkTapCallback(CGEventTapProxy proxy, CGEventType type, CGEventRef event, void *refcon) {
	int tap = (int)(intptr_t)refcon;
	if (type == kCGEventTapDisabledByTimeout) {
		lkHandleDisabled(tap, 0);
		return event;
	}
	if (type == kCGEventTapDisabledByUserInput) {
		lkHandleDisabled(tap, 1);
		return event;
	}
	int kind;
	switch (type) {
	case kCGEventKeyDown:
		kind = 0;
		break;
	case kCGEventKeyUp:
		kind = 1;
		break;
	case kCGEventFlagsChanged:
		kind = 2;
		break;
	default:
		return event;
	}
	int64_t code = CGEventGetIntegerValueField(event, kCGKeyboardEventKeycode);
	uint64_t flags = (uint64_t)CGEventGetFlags(event);
	int repeat = CGEventGetIntegerValueField(event, kCGKeyboardEventAutorepeat) != 0;
	int echo = CGEventGetIntegerValueField(event, kCGEventSourceUserData) == LK_ECHO_MARKER;
	if (lkHandleKey(tap, kind, code, flags, repeat, echo)) {
		return NULL;
	}
	return event;
}

static Boolean lkTrusted(void) {
	return AXIsProcessTrusted();
}

static void lkNoop(void *info) {}

static CFRunLoopRef lkCurrentLoop(void) {
	CFRunLoopRef loop = CFRunLoopGetCurrent();
	CFRetain(loop);

	// CFRunLoopRun returns immediately on a loop without sources.
	CFRunLoopSourceContext ctx = {0};
	ctx.perform = lkNoop;
	CFRunLoopSourceRef keep = CFRunLoopSourceCreate(kCFAllocatorDefault, 0, &ctx);
	CFRunLoopAddSource(loop, keep, kCFRunLoopCommonModes);
	CFRelease(keep);
	return loop;
}

static void lkRunLoop(void) {
	CFRunLoopRun();
}

static int lkCreateTap(CFRunLoopRef loop, int id, CFMachPortRef *tapOut, CFRunLoopSourceRef *srcOut) {
	CGEventMask mask = CGEventMaskBit(kCGEventKeyDown) |
	                   CGEventMaskBit(kCGEventKeyUp) |
	                   CGEventMaskBit(kCGEventFlagsChanged);
	CFMachPortRef tap = CGEventTapCreate(kCGSessionEventTap,
	                                     kCGHeadInsertEventTap,
	                                     kCGEventTapOptionDefault,
	                                     mask,
	                                     lkTapCallback,
	                                     (void *)(intptr_t)id);
	if (tap == NULL) {
		return -1;
	}
	CFRunLoopSourceRef src = CFMachPortCreateRunLoopSource(kCFAllocatorDefault, tap, 0);
	if (src == NULL) {
		CFMachPortInvalidate(tap);
		CFRelease(tap);
		return -2;
	}
	CFRunLoopAddSource(loop, src, kCFRunLoopCommonModes);
	CGEventTapEnable(tap, true);
	CFRunLoopWakeUp(loop);
	*tapOut = tap;
	*srcOut = src;
	return 0;
}

static void lkDestroyTap(CFRunLoopRef loop, CFMachPortRef tap, CFRunLoopSourceRef src) {
	CGEventTapEnable(tap, false);
	CFRunLoopRemoveSource(loop, src, kCFRunLoopCommonModes);
	CFRelease(src);
	CFMachPortInvalidate(tap);
	CFRelease(tap);
}

static void lkEnableTap(CFMachPortRef tap) {
	CGEventTapEnable(tap, true);
}

static int lkTapEnabled(CFMachPortRef tap) {
	return CGEventTapIsEnabled(tap) ? 1 : 0;
}

static int lkPost(uint16_t code, int down, uint64_t flags) {
	CGEventSourceRef source = CGEventSourceCreate(kCGEventSourceStateHIDSystemState);
	CGEventRef ev = CGEventCreateKeyboardEvent(source, (CGKeyCode)code, down ? true : false);
	if (ev == NULL) {
		if (source != NULL) {
			CFRelease(source);
		}
		return -1;
	}
	CGEventSetFlags(ev, (CGEventFlags)flags);
	CGEventSetIntegerValueField(ev, kCGEventSourceUserData, LK_ECHO_MARKER);
	CGEventPost(kCGSessionEventTap, ev);
	CFRelease(ev);
	if (source != NULL) {
		CFRelease(source);
	}
	return 0;
}
*/
import "C"

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"leaderkey/internal/event"
)

// CGEventFlags bits.
const (
	flagCapsLock = 1 << 16
	flagShift    = 1 << 17
	flagControl  = 1 << 18
	flagOption   = 1 << 19
	flagCommand  = 1 << 20
	flagFunction = 1 << 23
)

func modifiersFromFlags(flags uint64) event.Modifiers {
	var m event.Modifiers
	if flags&flagShift != 0 {
		m |= event.Shift
	}
	if flags&flagControl != 0 {
		m |= event.Control
	}
	if flags&flagOption != 0 {
		m |= event.Option
	}
	if flags&flagCommand != 0 {
		m |= event.Command
	}
	if flags&flagFunction != 0 {
		m |= event.Function
	}
	if flags&flagCapsLock != 0 {
		m |= event.CapsLock
	}
	return m
}

func flagsFromModifiers(m event.Modifiers) uint64 {
	var f uint64
	if m&event.Shift != 0 {
		f |= flagShift
	}
	if m&event.Control != 0 {
		f |= flagControl
	}
	if m&event.Option != 0 {
		f |= flagOption
	}
	if m&event.Command != 0 {
		f |= flagCommand
	}
	if m&event.Function != 0 {
		f |= flagFunction
	}
	if m&event.CapsLock != 0 {
		f |= flagCapsLock
	}
	return f
}

// The C callback only carries a tap id, so the sink lives here. There is
// one capture backend per process.
var darwinSinks [TapCount]atomic.Pointer[sinkRef]

type sinkRef struct {
	sink Sink
}

//export lkHandleKey
func lkHandleKey(tap C.int, kind C.int, code C.int64_t, flags C.uint64_t, repeat C.int, echo C.int) C.int {
	id := int(tap)
	if id < 0 || id >= TapCount {
		return 0
	}
	ref := darwinSinks[id].Load()
	if ref == nil {
		return 0
	}
	ev := event.Event{
		Kind:      event.Kind(kind),
		Code:      uint16(code),
		Modifiers: modifiersFromFlags(uint64(flags)),
		Repeat:    repeat != 0,
		Timestamp: time.Now(),
	}
	if ref.sink.HandleEvent(id, ev, echo != 0) {
		return 1
	}
	return 0
}

//export lkHandleDisabled
func lkHandleDisabled(tap C.int, reason C.int) {
	id := int(tap)
	if id < 0 || id >= TapCount {
		return
	}
	if ref := darwinSinks[id].Load(); ref != nil {
		ref.sink.HandleDisabled(id, DisableReason(reason))
	}
}

type darwinBackend struct {
	once    sync.Once
	loop    C.CFRunLoopRef
	loopErr error
}

// NewPlatformBackend returns the CGEventTap backend.
func NewPlatformBackend() Backend {
	return &darwinBackend{}
}

func (b *darwinBackend) Available() (bool, string) {
	if C.lkTrusted() == C.Boolean(0) {
		return false, "grant Accessibility access in System Settings > Privacy & Security"
	}
	return true, ""
}

// The run loop lives on a dedicated, locked OS thread for the process
// lifetime; taps come and go on it.
func (b *darwinBackend) runLoop() (C.CFRunLoopRef, error) {
	b.once.Do(func() {
		ready := make(chan C.CFRunLoopRef, 1)
		go func() {
			runtime.LockOSThread()
			ready <- C.lkCurrentLoop()
			C.lkRunLoop()
		}()
		select {
		case b.loop = <-ready:
		case <-time.After(2 * time.Second):
			b.loopErr = fmt.Errorf("%w: run loop did not start", ErrUnavailable)
		}
	})
	return b.loop, b.loopErr
}

func (b *darwinBackend) NewTap(id int, sink Sink) (Tap, error) {
	loop, err := b.runLoop()
	if err != nil {
		return nil, err
	}
	darwinSinks[id].Store(&sinkRef{sink: sink})

	var port C.CFMachPortRef
	var src C.CFRunLoopSourceRef
	if rc := C.lkCreateTap(loop, C.int(id), &port, &src); rc != 0 {
		return nil, fmt.Errorf("%w: CGEventTapCreate returned %d", ErrTapCreate, int(rc))
	}
	return &darwinTap{loop: loop, port: port, src: src}, nil
}

func (b *darwinBackend) Repost(ev event.Event) error {
	down := 0
	switch ev.Kind {
	case event.KeyDown:
		down = 1
	case event.KeyUp:
	default:
		return nil
	}
	if C.lkPost(C.uint16_t(ev.Code), C.int(down), C.uint64_t(flagsFromModifiers(ev.Modifiers))) != 0 {
		return fmt.Errorf("repost key %d failed", ev.Code)
	}
	return nil
}

type darwinTap struct {
	mu     sync.Mutex
	loop   C.CFRunLoopRef
	port   C.CFMachPortRef
	src    C.CFRunLoopSourceRef
	closed bool
}

func (t *darwinTap) Enable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTapEnable
	}
	C.lkEnableTap(t.port)
	if C.lkTapEnabled(t.port) == 0 {
		return ErrTapEnable
	}
	return nil
}

func (t *darwinTap) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && C.lkTapEnabled(t.port) != 0
}

func (t *darwinTap) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	C.lkDestroyTap(t.loop, t.port, t.src)
}
