package nntp

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/jvz-devx/usenetd/internal/config"
)

// conn is one raw NNTP connection, grounded on the teacher's nntpProvider:
// connect, greet, AUTHINFO, then BODY per article. FetchBatch adds request
// pipelining the teacher never had — several BODY commands written back to
// back before reading any replies, cutting the round-trip count from N to
// roughly N/depth.
type conn struct {
	cfg  config.ServerConfig
	conn *textproto.Conn
}

func dial(cfg config.ServerConfig) (*conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var rw net.Conn
	var err error

	if cfg.TLS {
		rw, err = tls.Dial("tcp", addr, &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12})
	} else {
		rw, err = net.DialTimeout("tcp", addr, 15*time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.ID, err)
	}

	tc := textproto.NewConn(rw)

	c := &conn{cfg: cfg, conn: tc}

	if _, _, err := tc.ReadCodeLine(200); err != nil {
		if _, _, err2 := tc.ReadCodeLine(201); err2 != nil {
			tc.Close()
			return nil, fmt.Errorf("greet %s: %w", cfg.ID, err)
		}
	}

	if err := c.authenticate(); err != nil {
		tc.Close()
		return nil, err
	}

	return c, nil
}

func (c *conn) authenticate() error {
	if c.cfg.Username == "" {
		return nil
	}
	if _, err := c.conn.Cmd("AUTHINFO USER %s", c.cfg.Username); err != nil {
		return err
	}
	if _, _, err := c.conn.ReadCodeLine(381); err != nil {
		return err
	}
	if _, err := c.conn.Cmd("AUTHINFO PASS %s", c.cfg.Password); err != nil {
		return err
	}
	_, _, err := c.conn.ReadCodeLine(281)
	return err
}

// FetchBatch pipelines up to len(msgIDs) BODY commands over this one
// connection: every command is written before any reply is read, then
// replies are consumed in request order. Returns one ArticleResult per
// message-id, in the same order as msgIDs.
func (c *conn) FetchBatch(msgIDs []string) ([]ArticleResult, error) {
	results := make([]ArticleResult, len(msgIDs))

	ids := make([]uint, len(msgIDs))
	for i, id := range msgIDs {
		formatted := id
		if !strings.HasPrefix(formatted, "<") {
			formatted = "<" + formatted + ">"
		}
		reqID := c.conn.Next()
		c.conn.StartRequest(reqID)
		_, err := c.conn.Cmd("BODY %s", formatted)
		c.conn.EndRequest(reqID)
		if err != nil {
			return nil, fmt.Errorf("pipeline write: %w", err)
		}
		ids[i] = reqID
	}

	for i, reqID := range ids {
		c.conn.StartResponse(reqID)
		code, msg, err := c.conn.ReadCodeLine(222)
		if err != nil {
			if code == 430 {
				results[i] = ArticleResult{MessageID: msgIDs[i], Err: ErrArticleNotFound}
				c.conn.EndResponse(reqID)
				continue
			}
			c.conn.EndResponse(reqID)
			return nil, fmt.Errorf("BODY %s: %s: %w", msgIDs[i], msg, err)
		}

		body, err := io.ReadAll(c.conn.DotReader())
		c.conn.EndResponse(reqID)
		if err != nil {
			return nil, fmt.Errorf("read body %s: %w", msgIDs[i], err)
		}
		results[i] = ArticleResult{MessageID: msgIDs[i], Data: body}
	}

	return results, nil
}

func (c *conn) Close() error {
	c.conn.Cmd("QUIT")
	return c.conn.Close()
}

// ArticleResult is one pipelined fetch outcome: either Data is populated,
// or Err explains why (ErrArticleNotFound on a 430, otherwise a transport
// error).
type ArticleResult struct {
	MessageID string
	Data      []byte
	Err       error
}
