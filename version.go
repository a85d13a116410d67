package idechat

const version = "0.3.0"

// CodeVersion returns the version of the idechat code.
func CodeVersion() string {
	return version
}
