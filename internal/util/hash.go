package util

import (
	"fmt"
	"hash/fnv"
	"net"
)

// ConnIDFromAddrs computes a connection identifier from a connection's
// 4-tuple (local addr, remote addr). Two connections from the same parent
// device differ by source port and therefore get different ids.
func ConnIDFromAddrs(local, remote net.Addr) string {
	h := fnv.New32a()
	if local != nil {
		h.Write([]byte(local.String()))
	}
	if remote != nil {
		h.Write([]byte(remote.String()))
	}
	return fmt.Sprintf("%08x", h.Sum32())
}
