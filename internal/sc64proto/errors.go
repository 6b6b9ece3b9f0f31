package sc64proto

import "errors"

var errShortTunnelCommand = errors.New("sc64proto: truncated tunnel command frame")
