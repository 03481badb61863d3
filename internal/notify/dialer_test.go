// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package notify

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gopkg.in/gomail.v2"
)

// fakeSMTP accepts one connection and plays script against it. script
// returns when the conversation is over.
func fakeSMTP(t *testing.T, script func(r *bufio.Reader, w io.Writer)) (host string, port int, done <-chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		script(bufio.NewReader(conn), conn)
	}()

	h, p, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err = strconv.Atoi(p)
	require.NoError(t, err)
	return h, port, finished
}

func testMessage() *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", "no-reply@vidloom.test")
	m.SetHeader("To", "ann@example.com")
	m.SetHeader("Subject", "Your code")
	m.SetBody("text/plain", "123456")
	return m
}

func TestDeadlineDialer_StalledServerTimesOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	host, port, done := fakeSMTP(t, func(r *bufio.Reader, w io.Writer) {
		_, _ = io.WriteString(w, "220 stalling.test ESMTP\r\n")
		// Never answer EHLO; wait for the client to hang up.
		_, _ = io.Copy(io.Discard, r)
	})

	d := &deadlineDialer{host: host, port: port, timeout: 200 * time.Millisecond}
	start := time.Now()
	err := d.DialAndSend(testMessage())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "i/o timeout")
	assert.Less(t, time.Since(start), 5*time.Second)
	<-done
}

func TestDeadlineDialer_DeliversMessage(t *testing.T) {
	defer goleak.VerifyNone(t)

	var data strings.Builder
	host, port, done := fakeSMTP(t, func(r *bufio.Reader, w io.Writer) {
		reply := func(s string) { _, _ = io.WriteString(w, s+"\r\n") }
		reply("220 mail.test ESMTP")
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if inData {
				if line == ".\r\n" {
					inData = false
					reply("250 queued")
					continue
				}
				data.WriteString(line)
				continue
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"):
				reply("250 mail.test")
			case cmd == "DATA":
				inData = true
				reply("354 go ahead")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("250 ok")
			}
		}
	})

	d := &deadlineDialer{host: host, port: port, timeout: 5 * time.Second}
	require.NoError(t, d.DialAndSend(testMessage()))
	<-done

	assert.Contains(t, data.String(), "Subject: Your code")
	assert.Contains(t, data.String(), "123456")
}

func TestNewSMTPGateway_UsesDeadlineDialer(t *testing.T) {
	g, err := NewSMTPGateway(SMTPConfig{Host: "smtp.test", Port: 587, From: "no-reply@vidloom.test"})
	require.NoError(t, err)

	d, ok := g.sender.(*deadlineDialer)
	require.True(t, ok, "default sender is %T", g.sender)
	assert.Equal(t, DefaultSendTimeout, d.timeout)
	assert.Equal(t, 587, d.port)
}
