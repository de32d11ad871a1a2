package mtproto

import (
	"time"

	"github.com/gotd/td/tgerr"

	"mintwatch/internal/ingest"
	logx "mintwatch/pkg/logx"
)

var authErrorTypes = []string{
	"AUTH_KEY_UNREGISTERED",
	"AUTH_KEY_INVALID",
	"AUTH_KEY_PERM_EMPTY",
	"SESSION_REVOKED",
	"SESSION_EXPIRED",
	"USER_DEACTIVATED",
	"USER_DEACTIVATED_BAN",
}

func isAuthError(err error) bool {
	if tgerr.Is(err, authErrorTypes...) {
		return true
	}
	if rpc, ok := tgerr.As(err); ok && rpc.Code == 401 {
		return true
	}
	return false
}

// classify turns an RPC failure into the pipeline's error taxonomy.
func (c *Client) classify(op string, channelID int64, err error) error {
	if isAuthError(err) {
		return &ingest.AuthError{Err: err}
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		c.log.Warn("flood wait", logx.String("op", op), logx.Int64("channel_id", channelID), logx.Duration("wait", d.Round(time.Second)))
	}
	return &ingest.RemoteError{Op: op, ChannelID: channelID, Err: err}
}
