package mailer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/accounts-auth/internal/config"
)

func silent() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// recorder — Sender, запоминающий доставленные письма.
type recorder struct {
	mu    sync.Mutex
	msgs  []Message
	fails int // сколько первых попыток завершить ошибкой
	calls int

	started chan struct{}
	release chan struct{}
}

func (r *recorder) Deliver(ctx context.Context, msg Message) error {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.fails
	r.mu.Unlock()

	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if fail {
		return errors.New("temporary failure")
	}

	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	return nil
}

func (r *recorder) delivered() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

func TestRender_Templates(t *testing.T) {
	t.Parallel()

	data := map[string]any{"Name": "Alice", "Link": "https://app/confirm/abc", "ExpiresIn": "24h0m0s"}

	msg, err := Render("a@example.com", TemplateConfirmEmail, data)
	require.NoError(t, err)
	require.Equal(t, "a@example.com", msg.To)
	require.Equal(t, "Confirm your e-mail address", msg.Subject)
	require.Contains(t, msg.Body, "Hello, Alice!")
	require.Contains(t, msg.Body, "https://app/confirm/abc")

	msg, err = Render("a@example.com", TemplateResetPassword, map[string]any{"Link": "https://app/reset?code=x"})
	require.NoError(t, err)
	require.Equal(t, "Password reset", msg.Subject)
	require.True(t, strings.HasPrefix(msg.Body, "Hello!"))
	require.Contains(t, msg.Body, "https://app/reset?code=x")

	_, err = Render("a@example.com", Template("unknown"), nil)
	require.Error(t, err)
}

func TestDispatcher_DeliversAndDrains(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	d := NewDispatcher(rec, DispatcherConfig{QueueSize: 8, Workers: 2}, silent())

	for i := 0; i < 5; i++ {
		d.Send("u@example.com", TemplateConfirmEmail, map[string]any{"Link": "l"})
	}

	require.NoError(t, d.Close(context.Background()))
	require.Len(t, rec.delivered(), 5)

	// После Close письма отбрасываются без паники.
	d.Send("u@example.com", TemplateConfirmEmail, nil)
	require.Len(t, rec.delivered(), 5)
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	rec := &recorder{fails: 2}
	d := NewDispatcher(rec, DispatcherConfig{Workers: 1, MaxRetries: 3, BaseDelay: time.Millisecond}, silent())

	d.Send("u@example.com", TemplateResetPassword, map[string]any{"Link": "l"})
	require.NoError(t, d.Close(context.Background()))

	require.Len(t, rec.delivered(), 1)
	require.Equal(t, 3, rec.calls)
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	rec := &recorder{started: make(chan struct{}, 4), release: make(chan struct{})}
	d := NewDispatcher(rec, DispatcherConfig{QueueSize: 1, Workers: 1}, silent())

	d.Send("1@example.com", TemplateConfirmEmail, map[string]any{"Link": "1"})
	<-rec.started // воркер занят первым письмом

	d.Send("2@example.com", TemplateConfirmEmail, map[string]any{"Link": "2"}) // в очередь
	d.Send("3@example.com", TemplateConfirmEmail, map[string]any{"Link": "3"}) // отброшено

	close(rec.release)
	require.NoError(t, d.Close(context.Background()))

	got := rec.delivered()
	require.Len(t, got, 2)
	require.Equal(t, "1@example.com", got[0].To)
	require.Equal(t, "2@example.com", got[1].To)
}

func TestDispatcher_CloseDeadline(t *testing.T) {
	t.Parallel()

	rec := &recorder{started: make(chan struct{}, 1), release: make(chan struct{})}
	d := NewDispatcher(rec, DispatcherConfig{Workers: 1}, silent())

	d.Send("u@example.com", TemplateConfirmEmail, map[string]any{"Link": "l"})
	<-rec.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
	require.Empty(t, rec.delivered())
}

func TestSMTPSender_Deliver(t *testing.T) {
	t.Parallel()

	cfg := config.MailConfig{
		From: "no-reply@example.com",
		SMTP: config.SMTPConfig{Host: "smtp.example.com", Port: "2525", Username: "user", Password: "pass"},
	}
	s := NewSMTPSender(cfg)
	require.NotNil(t, s.auth)

	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotMsg  string
	)
	s.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	}
	s.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	err := s.Deliver(context.Background(), Message{To: "u@example.com", Subject: "Сброс пароля", Body: "body"})
	require.NoError(t, err)

	require.Equal(t, "smtp.example.com:2525", gotAddr)
	require.Equal(t, "no-reply@example.com", gotFrom)
	require.Equal(t, []string{"u@example.com"}, gotTo)
	require.Contains(t, gotMsg, "To: u@example.com\r\n")
	require.Contains(t, gotMsg, "Subject: =?utf-8?q?")
	require.Contains(t, gotMsg, "Date: Thu, 02 Jan 2025 03:04:05 +0000\r\n")
	require.True(t, strings.HasSuffix(gotMsg, "\r\n\r\nbody"))
}

func TestSMTPSender_Errors(t *testing.T) {
	t.Parallel()

	s := NewSMTPSender(config.MailConfig{From: "f@example.com", SMTP: config.SMTPConfig{Host: "h", Port: "25"}})
	require.Nil(t, s.auth)

	boom := errors.New("connection refused")
	s.send = func(string, smtp.Auth, string, []string, []byte) error { return boom }
	require.ErrorIs(t, s.Deliver(context.Background(), Message{To: "u@example.com"}), boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Deliver(ctx, Message{To: "u@example.com"}), context.Canceled)
}

func TestLogSender(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	lg := slog.New(slog.NewTextHandler(&buf, nil))
	msg := Message{To: "alice@example.com", Subject: "Password reset", Body: "secret-link"}

	require.NoError(t, NewLogSender(lg, false).Deliver(context.Background(), msg))
	require.Contains(t, buf.String(), "mail_logged")
	require.Contains(t, buf.String(), "al***@example.com")
	require.NotContains(t, buf.String(), "secret-link")

	buf.Reset()
	require.NoError(t, NewLogSender(lg, true).Deliver(context.Background(), msg))
	require.Contains(t, buf.String(), "secret-link")
}
