//go:build darwin

package permission

/*
#cgo darwin LDFLAGS: -framework ApplicationServices -framework CoreFoundation
#include <ApplicationServices/ApplicationServices.h>

static Boolean lkTrusted(void) {
	return AXIsProcessTrusted();
}

static void lkPromptTrust(void) {
	const void *keys[] = { kAXTrustedCheckOptionPrompt };
	const void *values[] = { kCFBooleanTrue };
	CFDictionaryRef opts = CFDictionaryCreate(kCFAllocatorDefault, keys, values, 1,
		&kCFTypeDictionaryKeyCallBacks, &kCFTypeDictionaryValueCallBacks);
	AXIsProcessTrustedWithOptions(opts);
	CFRelease(opts);
}
*/
import "C"

type accessibility struct{}

// System returns the accessibility permission surface.
func System() Platform {
	return accessibility{}
}

func (accessibility) Trusted() bool {
	return bool(C.lkTrusted())
}

func (accessibility) Prompt() {
	C.lkPromptTrust()
}
