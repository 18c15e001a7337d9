// SPDX-License-Identifier: MPL-2.0

package platform

// OS name constants for runtime.GOOS comparisons. Centralizes the string
// literals so adapters compare against a named constant instead of a
// scattered magic string (see the local adapter's defaultShell).
const (
	// Windows is the GOOS value for Windows.
	Windows = "windows"
	// Darwin is the GOOS value for macOS.
	Darwin = "darwin"
	// Linux is the GOOS value for Linux.
	Linux = "linux"
)
