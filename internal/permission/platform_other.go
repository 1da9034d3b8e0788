//go:build !darwin

package permission

type unrestricted struct{}

// System returns a platform with no permission model.
func System() Platform {
	return unrestricted{}
}

func (unrestricted) Trusted() bool { return true }
func (unrestricted) Prompt()       {}
