// Package mtproto is the user-account side of the Telegram integration.
//
// It logs in with a phone number (the login code arrives out of band through
// an authgate.Handshake), resolves the monitored channels from the account's
// dialogs, fetches channel history and forwards live channel messages.
package mtproto

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	"mintwatch/internal/authgate"
	"mintwatch/internal/ingest"
	logx "mintwatch/pkg/logx"
)

const sessionFile = "mintwatch.session.json"

type Config struct {
	AppID      int
	AppHash    string
	Phone      string
	Password   string
	SessionDir string
	// DialogPages bounds how many dialog pages (100 each) are scanned when
	// resolving channels. 0 uses 10.
	DialogPages int
}

// Client owns one MTProto connection at a time. Run connects, logs in and
// then hands control to the caller; the ingest.PollSource and ingest.LiveFeed
// methods are usable only while that callback runs.
type Client struct {
	cfg Config
	log logx.Logger
	hs  *authgate.Handshake

	api atomic.Pointer[tg.Client]

	liveMu sync.RWMutex
	live   ingest.Handler
	liveID map[int64]struct{}

	authorized atomic.Bool
}

func New(cfg Config, hs *authgate.Handshake, log logx.Logger) (*Client, error) {
	if cfg.AppID <= 0 || strings.TrimSpace(cfg.AppHash) == "" {
		return nil, errors.New("mtproto: app_id and app_hash are required")
	}
	if hs == nil {
		return nil, errors.New("mtproto: handshake is nil")
	}
	if cfg.DialogPages <= 0 {
		cfg.DialogPages = 10
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, hs: hs, log: log.With(logx.String("comp", "telegram.mtproto"))}, nil
}

// Authorized reports whether the current connection completed login.
func (c *Client) Authorized() bool { return c.authorized.Load() }

// Run connects, logs in if the stored session is not authorized, and calls fn.
// The connection is closed when fn returns or ctx is done.
func (c *Client) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := os.MkdirAll(c.cfg.SessionDir, 0o700); err != nil {
		return err
	}

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewChannelMessage(c.onChannelMessage)

	client := telegram.NewClient(c.cfg.AppID, c.cfg.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: filepath.Join(c.cfg.SessionDir, sessionFile)},
		UpdateHandler:  dispatcher,
	})

	err := client.Run(ctx, func(ctx context.Context) error {
		if err := c.login(ctx, client); err != nil {
			return err
		}
		c.authorized.Store(true)
		defer c.authorized.Store(false)

		api := client.API()
		c.api.Store(api)
		defer c.api.Store(nil)

		// Asking for the update state makes the server start pushing updates.
		if _, err := api.UpdatesGetState(ctx); err != nil {
			c.log.Warn("updates state request failed", logx.Err(err))
		}
		return fn(ctx)
	})
	if err != nil && ctx.Err() == nil && isAuthError(err) && !ingest.IsAuth(err) {
		return &ingest.AuthError{Err: err}
	}
	return err
}

func (c *Client) login(ctx context.Context, client *telegram.Client) error {
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return &ingest.RemoteError{Op: "auth.status", Err: err}
	}
	if status.Authorized {
		c.log.Info("session authorized", logx.Int64("user_id", userID(status.User)))
		return nil
	}
	if strings.TrimSpace(c.cfg.Phone) == "" {
		return &ingest.AuthError{Err: errors.New("session not authorized and no phone configured")}
	}

	codeFn := auth.CodeAuthenticatorFunc(func(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
		g := c.hs.Begin()
		c.log.Warn("login code requested; submit it with POST /set_code", logx.String("phone", maskPhone(c.cfg.Phone)))
		code, err := c.hs.Await(ctx, g)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(code), nil
	})
	flow := auth.NewFlow(auth.Constant(c.cfg.Phone, c.cfg.Password, codeFn), auth.SendCodeOptions{})

	start := time.Now()
	if err := client.Auth().IfNecessary(ctx, flow); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ingest.AuthError{Err: err}
	}
	c.log.Info("login completed", logx.Duration("took", time.Since(start)))
	return nil
}

func (c *Client) client(ctx context.Context) (*tg.Client, error) {
	if api := c.api.Load(); api != nil {
		return api, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, &ingest.RemoteError{Op: "connect", Err: errors.New("not connected")}
}

func userID(u *tg.User) int64 {
	if u == nil {
		return 0
	}
	return u.ID
}

func maskPhone(p string) string {
	p = strings.TrimSpace(p)
	if len(p) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(p)-4) + p[len(p)-4:]
}
