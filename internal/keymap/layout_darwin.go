//go:build darwin

package keymap

/*
#cgo LDFLAGS: -framework Carbon -framework CoreFoundation

#include <Carbon/Carbon.h>

// Translates a virtual key code with the current keyboard layout.
// Returns the number of UTF-16 units written, or -1 on failure.
static int translateKeyCode(UInt16 code, int shift, UniChar *out, int cap) {
    TISInputSourceRef source = TISCopyCurrentKeyboardLayoutInputSource();
    if (source == NULL) {
        return -1;
    }
    CFDataRef data = (CFDataRef)TISGetInputSourceProperty(source, kTISPropertyUnicodeKeyLayoutData);
    if (data == NULL) {
        CFRelease(source);
        return -1;
    }
    const UCKeyboardLayout *layout = (const UCKeyboardLayout *)CFDataGetBytePtr(data);

    UInt32 deadKeyState = 0;
    UniCharCount length = 0;
    UInt32 modifierState = shift ? ((shiftKey >> 8) & 0xFF) : 0;

    OSStatus status = UCKeyTranslate(layout,
                                     code,
                                     kUCKeyActionDown,
                                     modifierState,
                                     LMGetKbdType(),
                                     kUCKeyTranslateNoDeadKeysBit,
                                     &deadKeyState,
                                     (UniCharCount)cap,
                                     &length,
                                     out);
    CFRelease(source);
    if (status != noErr) {
        return -1;
    }
    return (int)length;
}
*/
import "C"

import (
	"unicode/utf16"
	"unicode/utf8"
)

// systemLayout reads characters from the active macOS keyboard layout.
type systemLayout struct{}

// SystemLayout returns the live keyboard layout of the current input source.
func SystemLayout() Layout {
	return systemLayout{}
}

func (systemLayout) Character(code uint16, shift bool) (string, bool) {
	var buf [4]C.UniChar
	s := 0
	if shift {
		s = 1
	}
	n := int(C.translateKeyCode(C.UInt16(code), C.int(s), &buf[0], C.int(len(buf))))
	if n <= 0 {
		return "", false
	}
	units := make([]uint16, n)
	for i := 0; i < n; i++ {
		units[i] = uint16(buf[i])
	}
	str := string(utf16.Decode(units))
	r, _ := utf8.DecodeRuneInString(str)
	// control characters (return, tab, escape) are resolved by name instead
	if r < 0x20 || r == 0x7f {
		return "", false
	}
	return str, true
}
