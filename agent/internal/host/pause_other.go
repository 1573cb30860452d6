//go:build !unix

package host

func pauseProcess(pid int) error {
	return errPauseUnsupported
}

func resumeProcess(pid int) error {
	return errPauseUnsupported
}
