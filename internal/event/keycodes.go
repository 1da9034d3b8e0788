package event

// Virtual key codes for the ANSI layout.
const (
	CodeReturn       uint16 = 36
	CodeTab          uint16 = 48
	CodeSpace        uint16 = 49
	CodeDelete       uint16 = 51
	CodeEscape       uint16 = 53
	CodeRightCommand uint16 = 54
	CodeCommand      uint16 = 55
	CodeShift        uint16 = 56
	CodeCapsLock     uint16 = 57
	CodeOption       uint16 = 58
	CodeControl      uint16 = 59
	CodeRightShift   uint16 = 60
	CodeRightOption  uint16 = 61
	CodeRightControl uint16 = 62
	CodeFunction     uint16 = 63
	CodeComma        uint16 = 43
)

// ansiKeys maps key codes to the unshifted and shifted characters of the
// US ANSI layout.
var ansiKeys = map[uint16][2]string{
	0: {"a", "A"}, 1: {"s", "S"}, 2: {"d", "D"}, 3: {"f", "F"},
	4: {"h", "H"}, 5: {"g", "G"}, 6: {"z", "Z"}, 7: {"x", "X"},
	8: {"c", "C"}, 9: {"v", "V"}, 11: {"b", "B"}, 12: {"q", "Q"},
	13: {"w", "W"}, 14: {"e", "E"}, 15: {"r", "R"}, 16: {"y", "Y"},
	17: {"t", "T"}, 18: {"1", "!"}, 19: {"2", "@"}, 20: {"3", "#"},
	21: {"4", "$"}, 22: {"6", "^"}, 23: {"5", "%"}, 24: {"=", "+"},
	25: {"9", "("}, 26: {"7", "&"}, 27: {"-", "_"}, 28: {"8", "*"},
	29: {"0", ")"}, 30: {"]", "}"}, 31: {"o", "O"}, 32: {"u", "U"},
	33: {"[", "{"}, 34: {"i", "I"}, 35: {"p", "P"}, 37: {"l", "L"},
	38: {"j", "J"}, 39: {"'", "\""}, 40: {"k", "K"}, 41: {";", ":"},
	42: {"\\", "|"}, 43: {",", "<"}, 44: {"/", "?"}, 45: {"n", "N"},
	46: {"m", "M"}, 47: {".", ">"}, 50: {"`", "~"},
}

// namedKeys are keys without a printable character.
var namedKeys = map[string]uint16{
	"return": CodeReturn, "enter": CodeReturn,
	"tab": CodeTab, "space": CodeSpace,
	"delete": CodeDelete, "backspace": CodeDelete,
	"escape": CodeEscape, "esc": CodeEscape,
	"f1": 122, "f2": 120, "f3": 99, "f4": 118, "f5": 96, "f6": 97,
	"f7": 98, "f8": 100, "f9": 101, "f10": 109, "f11": 103, "f12": 111,
	"left": 123, "right": 124, "down": 125, "up": 126,
}

// ANSICharacter returns the US ANSI character for a key code.
func ANSICharacter(code uint16, shifted bool) (string, bool) {
	pair, ok := ansiKeys[code]
	if !ok {
		return "", false
	}
	if shifted {
		return pair[1], true
	}
	return pair[0], true
}

// KeyName returns the configuration name of a non-printable key.
func KeyName(code uint16) (string, bool) {
	for name, c := range namedKeys {
		if c != code {
			continue
		}
		// prefer the canonical spelling
		switch name {
		case "enter", "backspace", "esc":
			continue
		}
		return name, true
	}
	return "", false
}

// CodeFor resolves a key name or single character to its ANSI key code.
func CodeFor(key string) (uint16, bool) {
	if c, ok := namedKeys[key]; ok {
		return c, true
	}
	for code, pair := range ansiKeys {
		if pair[0] == key {
			return code, true
		}
	}
	return 0, false
}

// IsModifierKey reports whether the code belongs to a modifier key.
func IsModifierKey(code uint16) bool {
	return code >= CodeRightCommand && code <= CodeFunction
}
