//go:build !unix

package server

import "syscall"

func setSocketOptions(string, string, syscall.RawConn) error {
	return nil
}
