// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package notify

import (
	"crypto/tls"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"gopkg.in/gomail.v2"
)

const implicitTLSPort = 465

// deadlineDialer delivers through a connection whose every read and write
// must finish before an absolute deadline. gomail.Dialer only bounds the
// connect, so a server that stalls mid-conversation would hold it forever.
type deadlineDialer struct {
	host     string
	port     int
	username string
	password string
	timeout  time.Duration
}

func newDeadlineDialer(cfg SMTPConfig) *deadlineDialer {
	return &deadlineDialer{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		timeout:  cfg.SendTimeout,
	}
}

// DialAndSend opens a connection, sends msgs and quits.
func (d *deadlineDialer) DialAndSend(msgs ...*gomail.Message) error {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(d.host, strconv.Itoa(d.port)), d.timeout)
	if err != nil {
		return err
	}
	if err := conn.SetDeadline(time.Now().Add(d.timeout)); err != nil {
		_ = conn.Close() //nolint:errcheck // deadline error takes precedence
		return err
	}
	if d.port == implicitTLSPort {
		conn = tls.Client(conn, &tls.Config{ServerName: d.host, MinVersion: tls.VersionTLS12})
	}

	c, err := smtp.NewClient(conn, d.host)
	if err != nil {
		_ = conn.Close() //nolint:errcheck // greeting error takes precedence
		return err
	}
	defer c.Close() //nolint:errcheck // Quit already reported the outcome

	if d.port != implicitTLSPort {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: d.host, MinVersion: tls.VersionTLS12}); err != nil {
				return err
			}
		}
	}
	if d.username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", d.username, d.password, d.host)); err != nil {
				return err
			}
		}
	}

	send := gomail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
		if err := c.Mail(from); err != nil {
			return err
		}
		for _, rcpt := range to {
			if err := c.Rcpt(rcpt); err != nil {
				return err
			}
		}
		w, err := c.Data()
		if err != nil {
			return err
		}
		if _, err := msg.WriteTo(w); err != nil {
			_ = w.Close() //nolint:errcheck // write error takes precedence
			return err
		}
		return w.Close()
	})
	if err := gomail.Send(send, msgs...); err != nil {
		return err
	}
	return c.Quit()
}
