package peer

import "errors"

var errTransportFailed = errors.New("transport reported terminal failure")
