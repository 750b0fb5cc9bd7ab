package ftp

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strings"
	"time"

	ftpclient "github.com/jlaffaye/ftp"
)

// Entry is one directory listing result
type Entry struct {
	Name string
	Dir  bool
	Size int64
	Time time.Time
}

// Conn is the subset of FTP session operations the pool exposes. The real
// implementation wraps a jlaffaye/ftp ServerConn; tests substitute fakes.
type Conn interface {
	List(path string) ([]Entry, error)
	Download(path string) ([]byte, error)
	Noop() error
	Quit() error
}

// Dialer opens a new authenticated FTP session
type Dialer func() (Conn, error)

// DialConfig holds the provider FTP connection settings
type DialConfig struct {
	Host      string
	User      string
	Password  string
	OpTimeout time.Duration
	UseTLS    bool
}

// NewDialer builds a Dialer for the provider host. Sessions are passive-mode
// plain FTP, optionally with explicit TLS.
func NewDialer(cfg DialConfig) Dialer {
	return func() (Conn, error) {
		opts := []ftpclient.DialOption{
			ftpclient.DialWithTimeout(cfg.OpTimeout),
		}
		if cfg.UseTLS {
			opts = append(opts, ftpclient.DialWithExplicitTLS(&tls.Config{ServerName: hostOnly(cfg.Host)}))
		}
		c, err := ftpclient.Dial(cfg.Host, opts...)
		if err != nil {
			return nil, fmt.Errorf("ftp dial %s: %w", cfg.Host, err)
		}
		if err := c.Login(cfg.User, cfg.Password); err != nil {
			_ = c.Quit()
			return nil, fmt.Errorf("ftp login %s: %w", cfg.Host, err)
		}
		return &serverConn{conn: c}, nil
	}
}

// serverConn adapts jlaffaye/ftp to the Conn port
type serverConn struct {
	conn *ftpclient.ServerConn
}

func (s *serverConn) List(path string) ([]Entry, error) {
	entries, err := s.conn.List(path)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, Entry{
			Name: e.Name,
			Dir:  e.Type == ftpclient.EntryTypeFolder,
			Size: int64(e.Size),
			Time: e.Time,
		})
	}
	return out, nil
}

func (s *serverConn) Download(path string) ([]byte, error) {
	resp, err := s.conn.Retr(path)
	if err != nil {
		return nil, err
	}
	defer resp.Close()
	return io.ReadAll(resp)
}

func (s *serverConn) Noop() error {
	return s.conn.NoOp()
}

func (s *serverConn) Quit() error {
	return s.conn.Quit()
}

// isNotFound reports whether err is a 550-class server reply: the path does
// not exist or is not accessible. The provider publishes month directories as
// pricing arrives, so these replies are expected during discovery.
func isNotFound(err error) bool {
	var reply *textproto.Error
	if errors.As(err, &reply) {
		return reply.Code == ftpclient.StatusFileUnavailable
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "550") ||
		strings.Contains(msg, "no such file") ||
		strings.Contains(msg, "no such directory") ||
		strings.Contains(msg, "not found")
}

// hostOnly strips an optional :port suffix for TLS server name verification
func hostOnly(host string) string {
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}
