//go:build darwin

package provider

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework AppKit
#import <AppKit/AppKit.h>
#include <stdlib.h>
#include <string.h>

static char *lkFrontmostBundleID(void) {
	@autoreleasepool {
		NSRunningApplication *app = [[NSWorkspace sharedWorkspace] frontmostApplication];
		NSString *bid = app.bundleIdentifier;
		if (bid == nil) {
			return NULL;
		}
		return strdup(bid.UTF8String);
	}
}
*/
import "C"

import "unsafe"

// FrontmostBundleID returns the bundle identifier of the frontmost
// application, or "" when there is none.
func FrontmostBundleID() string {
	cs := C.lkFrontmostBundleID()
	if cs == nil {
		return ""
	}
	defer C.free(unsafe.Pointer(cs))
	return C.GoString(cs)
}
