package proto

// SystemInfo describes the machine the server runs on.
type SystemInfo struct {
	// Family is "unix" or "windows".
	Family string `codec:"family"`

	// OS is the specific operating system ("linux", "darwin", ...).
	OS string `codec:"os"`

	Arch string `codec:"arch"`

	// CurrentDir is the server process working directory.
	CurrentDir string `codec:"current_dir"`

	// MainSeparator is the path separator of the host.
	MainSeparator string `codec:"main_separator"`

	Username string `codec:"username"`
	Shell    string `codec:"shell"`
}
