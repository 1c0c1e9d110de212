package client

import "strconv"

// AppendNormal appends a Normal frame carrying payload to dst.
func AppendNormal(dst, payload []byte) []byte {
	dst = append(dst, '0', ':')
	dst = strconv.AppendInt(dst, int64(len(payload)), 10)
	dst = append(dst, ':')
	return append(dst, payload...)
}

// AppendResize appends a Resize frame to dst.
func AppendResize(dst []byte, cols, rows uint16) []byte {
	dst = append(dst, '1', ':')
	dst = strconv.AppendUint(dst, uint64(cols), 10)
	dst = append(dst, ':')
	dst = strconv.AppendUint(dst, uint64(rows), 10)
	return append(dst, ':')
}

// AppendPing appends a Ping frame to dst.
func AppendPing(dst []byte) []byte {
	return append(dst, '2')
}
