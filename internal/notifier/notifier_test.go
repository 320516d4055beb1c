package notifier

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ghostzpy/truco-server/internal/account/entity"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, msg Message) error {
	return m.Called(ctx, msg).Error(0)
}

// blockingSender holds every send until release is closed.
type blockingSender struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSender) Send(context.Context, Message) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return nil
}

func TestEnqueueNeverBlocks(t *testing.T) {
	s := &blockingSender{started: make(chan struct{}), release: make(chan struct{})}
	d := NewDispatcher(s, Config{Workers: 1, QueueSize: 1}, nil)

	require.NoError(t, d.Enqueue("test", Message{To: "a@x.com"}))
	<-s.started
	require.NoError(t, d.Enqueue("test", Message{To: "b@x.com"}))

	done := make(chan error, 1)
	go func() { done <- d.Enqueue("test", Message{To: "c@x.com"}) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}

	close(s.release)
	require.NoError(t, d.Close(context.Background()))
	assert.ErrorIs(t, d.Enqueue("test", Message{}), ErrClosed)
}

func TestDispatcherIsolatesFailures(t *testing.T) {
	s := &mockSender{}
	s.On("Send", mock.Anything, mock.MatchedBy(func(m Message) bool { return m.To == "bad@x.com" })).
		Return(errors.New("550 mailbox unavailable")).Once()
	s.On("Send", mock.Anything, mock.MatchedBy(func(m Message) bool { return m.To == "good@x.com" })).
		Return(nil).Once()

	d := NewDispatcher(s, Config{Workers: 1, QueueSize: 10, Timeout: time.Second}, nil)
	require.NoError(t, d.Enqueue("test", Message{To: "bad@x.com"}))
	require.NoError(t, d.Enqueue("test", Message{To: "good@x.com"}))
	require.NoError(t, d.Close(context.Background()))

	s.AssertExpectations(t)
}

type panicSender struct{}

func (panicSender) Send(context.Context, Message) error { panic("boom") }

func TestDispatcherRecoversSenderPanic(t *testing.T) {
	d := NewDispatcher(panicSender{}, Config{Workers: 1, QueueSize: 2}, nil)
	require.NoError(t, d.Enqueue("test", Message{To: "a@x.com"}))
	require.NoError(t, d.Enqueue("test", Message{To: "b@x.com"}))
	assert.NoError(t, d.Close(context.Background()))
}

func TestSendTimeoutIsApplied(t *testing.T) {
	s := &mockSender{}
	s.On("Send", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), mock.Anything).Return(nil).Once()

	d := NewDispatcher(s, Config{Workers: 1, QueueSize: 1, Timeout: time.Minute}, nil)
	require.NoError(t, d.Enqueue("test", Message{To: "a@x.com"}))
	require.NoError(t, d.Close(context.Background()))
	s.AssertExpectations(t)
}

func TestMailerMessages(t *testing.T) {
	s := &mockSender{}
	var got []Message
	s.On("Send", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		got = append(got, args.Get(1).(Message))
	}).Return(nil)

	d := NewDispatcher(s, Config{Workers: 1, QueueSize: 4}, nil)
	m := NewMailer(d)
	a := &entity.Account{Name: "Ana", Email: "ana@x.com"}
	m.NotifyActivation(a, "123456")
	m.NotifyPasswordReset(a, "654321", time.Date(2024, 5, 1, 12, 10, 0, 0, time.UTC))
	require.NoError(t, d.Close(context.Background()))

	require.Len(t, got, 2)
	assert.Equal(t, "ana@x.com", got[0].To)
	assert.Contains(t, got[0].Body, "123456")
	assert.Contains(t, got[1].Body, "654321")
	assert.Contains(t, got[1].Body, "12:10 UTC")
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_PORT", "465")
	t.Setenv("SMTP_USERNAME", "bot@example.com")
	t.Setenv("SMTP_FROM", "")
	t.Setenv("MAIL_WORKERS", "4")
	t.Setenv("MAIL_TIMEOUT", "3s")

	cfg := ConfigFromEnv()
	assert.Equal(t, 465, cfg.Port)
	assert.Equal(t, "bot@example.com", cfg.From)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.IsType(t, &SMTPSender{}, NewSender(cfg, nil))

	cfg.Host = ""
	assert.IsType(t, LogSender{}, NewSender(cfg, nil))
}

// fakeSMTP accepts one session and records the DATA payload.
func fakeSMTP(t *testing.T) (addr string, data <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	out := make(chan string, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		tp := textproto.NewConn(c)
		_ = tp.PrintfLine("220 fake ready")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
			switch cmd {
			case "EHLO", "HELO":
				_ = tp.PrintfLine("250 fake")
			case "MAIL", "RCPT":
				_ = tp.PrintfLine("250 ok")
			case "DATA":
				_ = tp.PrintfLine("354 go ahead")
				lines, err := tp.ReadDotLines()
				if err != nil {
					return
				}
				out <- strings.Join(lines, "\n")
				_ = tp.PrintfLine("250 queued")
			case "QUIT":
				_ = tp.PrintfLine("221 bye")
				return
			default:
				_ = tp.PrintfLine("502 unsupported")
			}
		}
	}()
	return ln.Addr().String(), out
}

func TestSMTPSenderDeliversPlainText(t *testing.T) {
	addr, data := fakeSMTP(t)
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	s := NewSMTPSender(Config{Host: host, Port: p, From: "noreply@truco.test"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Send(ctx, Message{To: "ana@x.com", Subject: "hi", Body: "code 123456\nbye"}))

	select {
	case payload := <-data:
		assert.Contains(t, payload, "From: noreply@truco.test")
		assert.Contains(t, payload, "To: ana@x.com")
		assert.Contains(t, payload, "Subject: hi")
		assert.Contains(t, payload, "text/plain")
		assert.Contains(t, payload, "code 123456")
	case <-time.After(5 * time.Second):
		t.Fatal("no DATA received")
	}
}
