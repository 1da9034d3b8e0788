//go:build !darwin

package keymap

// SystemLayout returns the ANSI layout on platforms without a layout service.
func SystemLayout() Layout {
	return ANSILayout{}
}
