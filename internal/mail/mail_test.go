package mail

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/quotedprintable"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSMTPServer accepts exactly one connection and speaks just enough SMTP
// for mailyak to deliver a message. It does not advertise STARTTLS, so the
// client stays on a plain connection. The DATA section is published on
// the data channel.
type mockSMTPServer struct {
	listener net.Listener
	data     chan string
}

func newMockSMTPServer(t *testing.T) *mockSMTPServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &mockSMTPServer{listener: listener, data: make(chan string, 1)}
	go s.serve()
	t.Cleanup(func() { _ = listener.Close() })
	return s
}

func (s *mockSMTPServer) serve() {
	conn, err := s.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	fmt.Fprint(conn, "220 mock-server ESMTP\r\n")

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))

		switch {
		case strings.HasPrefix(cmd, "HELO"):
			fmt.Fprint(conn, "250 mock-server\r\n")
		case strings.HasPrefix(cmd, "EHLO"):
			fmt.Fprint(conn, "250-mock-server\r\n250 AUTH PLAIN\r\n")
		case strings.HasPrefix(cmd, "AUTH PLAIN"):
			fmt.Fprint(conn, "235 2.7.0 Authentication Succeeded\r\n")
		case strings.HasPrefix(cmd, "MAIL FROM:"), strings.HasPrefix(cmd, "RCPT TO:"):
			fmt.Fprint(conn, "250 OK\r\n")
		case strings.HasPrefix(cmd, "DATA"):
			fmt.Fprint(conn, "354 End data with <CR><LF>.<CR><LF>\r\n")
			var body strings.Builder
			for {
				bodyLine, err := reader.ReadString('\n')
				if err != nil {
					return
				}
				if bodyLine == ".\r\n" {
					break
				}
				body.WriteString(bodyLine)
			}
			s.data <- body.String()
			fmt.Fprint(conn, "250 OK: queued as 12345\r\n")
		case strings.HasPrefix(cmd, "QUIT"):
			fmt.Fprint(conn, "221 Bye\r\n")
			return
		default:
			fmt.Fprint(conn, "250 OK\r\n")
		}
	}
}

func newTestSender(t *testing.T, addr string) *SMTPSender {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	sender, err := NewSMTPSender(SMTPConfig{
		Host:     host,
		Port:     port,
		From:     "noreply@test.com",
		FromName: "Identity",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return sender
}

func decodeQuotedPrintable(t *testing.T, s string) string {
	t.Helper()
	decoded, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(s)))
	require.NoError(t, err)
	return string(decoded)
}

func TestSMTPSender_SendHTML(t *testing.T) {
	server := newMockSMTPServer(t)
	sender := newTestSender(t, server.listener.Addr().String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	link := "http://localhost:8080/Account/ConfirmEmail?userId=abc&token=xyz"
	err := sender.Send(ctx, "alice@example.com", "Confirm your account", `<a href="`+link+`">here</a>`, true)
	require.NoError(t, err)

	var raw string
	select {
	case raw = <-server.data:
	case <-time.After(time.Second):
		t.Fatal("mock smtp server captured no message")
	}

	data := decodeQuotedPrintable(t, raw)
	assert.Contains(t, data, "To: alice@example.com")
	assert.Contains(t, data, "noreply@test.com")
	assert.Contains(t, data, "Subject: Confirm your account")
	assert.Contains(t, data, `href="`+link+`"`)
}

func TestSMTPSender_ContextCancelled(t *testing.T) {
	// A listener that accepts but never greets: Send would hang forever
	// without the context.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })
	conns := make(chan net.Conn, 1)
	go func() {
		if conn, err := listener.Accept(); err == nil {
			conns <- conn
		}
	}()

	sender := newTestSender(t, listener.Addr().String())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = sender.Send(ctx, "bob@example.com", "hi", "body", false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case conn := <-conns:
		conn.Close()
	case <-time.After(time.Second):
	}
}

func TestNewSMTPSender_Validation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewSMTPSender(SMTPConfig{From: "a@b.c"}, logger)
	assert.Error(t, err, "missing host")

	_, err = NewSMTPSender(SMTPConfig{Host: "smtp.example.com"}, logger)
	assert.Error(t, err, "missing from")

	s, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", From: "a@b.c"}, logger)
	require.NoError(t, err)
	assert.Equal(t, 587, s.cfg.Port)
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	sender := NewLogSender(slog.New(slog.NewTextHandler(&buf, nil)))

	err := sender.Send(context.Background(), "carol@example.com", "Subject line", "the body", false)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "carol@example.com")
	assert.Contains(t, buf.String(), "the body")
}
