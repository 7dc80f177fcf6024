package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campusdesk/certificate-api/internal/models"
	"github.com/campusdesk/certificate-api/internal/service"
)

type messenger interface {
	GetUpdates(ctx context.Context, marker int64) (*UpdateBatch, error)
	SendMessage(ctx context.Context, chatID int64, text string, keyboard *Keyboard) error
}

type sessionStore interface {
	Get(ctx context.Context, chatID int64) (*Session, error)
	Save(ctx context.Context, session *Session) error
	Delete(ctx context.Context, chatID int64) error
}

type authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
}

type certificateGateway interface {
	Create(ctx context.Context, req service.CreateCertificateRequest, actor *models.JWTClaims) (*models.Certificate, error)
	ListMine(ctx context.Context, filter models.CertificateFilter, actor *models.JWTClaims) ([]models.Certificate, *models.Pagination, error)
}

// Dispatcher routes messenger updates: the login dialog, certificate
// commands and the fallback help text.
type Dispatcher struct {
	client       messenger
	sessions     sessionStore
	auth         authenticator
	certificates certificateGateway
	metrics      *service.MetricsService
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(client messenger, sessions sessionStore, auth authenticator, certificates certificateGateway, metrics *service.MetricsService, pollInterval time.Duration, logger *zap.Logger) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		client:       client,
		sessions:     sessions,
		auth:         auth,
		certificates: certificates,
		metrics:      metrics,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Run polls for updates until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	var marker int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := d.client.GetUpdates(ctx, marker)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Warn("failed to poll updates", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.pollInterval):
			}
			continue
		}

		for _, update := range batch.Updates {
			d.HandleUpdate(ctx, update)
		}
		if batch.Marker != nil {
			marker = *batch.Marker
		}
	}
}

// HandleUpdate processes a single messenger update.
func (d *Dispatcher) HandleUpdate(ctx context.Context, update Update) {
	switch update.Type {
	case "message_created":
		chatID := update.Message.Recipient.ChatID
		d.handleText(ctx, chatID, strings.TrimSpace(update.Message.Body.Text))
	case "message_callback":
		chatID := update.Message.Recipient.ChatID
		d.handleText(ctx, chatID, strings.TrimSpace(update.Callback.Payload))
	case "bot_started":
		chatID := update.Message.Recipient.ChatID
		d.recordCommand("/start")
		d.handleStart(ctx, chatID)
	}
}

func (d *Dispatcher) handleText(ctx context.Context, chatID int64, text string) {
	if text == "" {
		return
	}

	session, err := d.sessions.Get(ctx, chatID)
	if err != nil {
		d.logger.Warn("failed to load bot session", zap.Int64("chat_id", chatID), zap.Error(err))
		d.reply(ctx, chatID, "Something went wrong, please try again.", nil)
		return
	}

	command := text
	if i := strings.IndexByte(command, ' '); i > 0 && strings.HasPrefix(command, "/") {
		command = command[:i]
	}
	if strings.HasPrefix(command, "/") {
		d.recordCommand(command)
	} else {
		d.recordCommand("dialog")
	}

	switch command {
	case "/start":
		d.handleStart(ctx, chatID)
	case "/help":
		d.reply(ctx, chatID, helpText, nil)
	case "/login":
		d.beginLogin(ctx, session)
	case "/logout":
		d.handleLogout(ctx, session)
	case "/my":
		d.handleMyCertificates(ctx, session)
	case "/new":
		d.handleNewRequest(ctx, session, strings.TrimSpace(strings.TrimPrefix(text, "/new")))
	case "/cancel":
		session.State = StateNone
		session.PendingEmail = ""
		d.saveSession(ctx, session)
		d.reply(ctx, chatID, "Cancelled.", d.menuKeyboard(session))
	default:
		d.handleDialog(ctx, session, text)
	}
}

func (d *Dispatcher) handleStart(ctx context.Context, chatID int64) {
	session, err := d.sessions.Get(ctx, chatID)
	if err != nil {
		d.logger.Warn("failed to load bot session", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	if session.Authorized() {
		d.reply(ctx, chatID, fmt.Sprintf("Welcome back, %s!", session.FullName), d.menuKeyboard(session))
		return
	}
	d.beginLogin(ctx, session)
}

func (d *Dispatcher) beginLogin(ctx context.Context, session *Session) {
	session.State = StateWaitingEmail
	session.PendingEmail = ""
	d.saveSession(ctx, session)
	keyboard := &Keyboard{Buttons: [][]Button{{CallbackButton("Cancel", "/cancel")}}}
	d.reply(ctx, session.ChatID, "Welcome to the certificate desk. Please enter your email to sign in.", keyboard)
}

func (d *Dispatcher) handleDialog(ctx context.Context, session *Session, text string) {
	switch session.State {
	case StateWaitingEmail:
		session.PendingEmail = text
		session.State = StateWaitingPassword
		d.saveSession(ctx, session)
		d.reply(ctx, session.ChatID, "Now enter your password.", nil)
	case StateWaitingPassword:
		user, err := d.auth.Authenticate(ctx, session.PendingEmail, text)
		if err != nil {
			session.State = StateWaitingEmail
			session.PendingEmail = ""
			d.saveSession(ctx, session)
			d.reply(ctx, session.ChatID, "Invalid email or password. Please enter your email again.", nil)
			return
		}
		session.State = StateNone
		session.PendingEmail = ""
		session.UserID = user.ID
		session.Role = string(user.Role)
		session.Email = user.Email
		session.FullName = user.FullName()
		d.saveSession(ctx, session)
		d.reply(ctx, session.ChatID, fmt.Sprintf("Signed in as %s.", session.FullName), d.menuKeyboard(session))
	default:
		d.reply(ctx, session.ChatID, helpText, nil)
	}
}

func (d *Dispatcher) handleLogout(ctx context.Context, session *Session) {
	if err := d.sessions.Delete(ctx, session.ChatID); err != nil {
		d.logger.Warn("failed to delete bot session", zap.Int64("chat_id", session.ChatID), zap.Error(err))
	}
	d.reply(ctx, session.ChatID, "Signed out. Send /start to sign in again.", nil)
}

func (d *Dispatcher) handleMyCertificates(ctx context.Context, session *Session) {
	if !session.Authorized() {
		d.beginLogin(ctx, session)
		return
	}
	certs, _, err := d.certificates.ListMine(ctx, models.CertificateFilter{Limit: 10}, session.claims())
	if err != nil {
		d.reply(ctx, session.ChatID, "Could not load your certificates, please try again later.", nil)
		return
	}
	if len(certs) == 0 {
		d.reply(ctx, session.ChatID, "You have no certificate requests yet. Use /new to create one.", nil)
		return
	}
	var sb strings.Builder
	sb.WriteString("Your certificate requests:\n")
	for _, cert := range certs {
		sb.WriteString(fmt.Sprintf("\n%s - %s (%s)", cert.CreatedAt.Format("02.01.2006"), cert.Type, cert.Status))
		if cert.Status == models.StatusRejected && cert.RejectionReason != nil {
			sb.WriteString(fmt.Sprintf("\n  reason: %s", *cert.RejectionReason))
		}
	}
	d.reply(ctx, session.ChatID, sb.String(), d.menuKeyboard(session))
}

func (d *Dispatcher) handleNewRequest(ctx context.Context, session *Session, arg string) {
	if !session.Authorized() {
		d.beginLogin(ctx, session)
		return
	}
	if arg == "" {
		keyboard := &Keyboard{Buttons: [][]Button{
			{CallbackButton("Enrollment", "/new enrollment"), CallbackButton("Academic", "/new academic")},
			{CallbackButton("Attendance", "/new attendance"), CallbackButton("Graduation", "/new graduation")},
		}}
		d.reply(ctx, session.ChatID, "Which certificate do you need?", keyboard)
		return
	}
	cert, err := d.certificates.Create(ctx, service.CreateCertificateRequest{Type: arg}, session.claims())
	if err != nil {
		d.reply(ctx, session.ChatID, fmt.Sprintf("Could not create the request: %v", err), nil)
		return
	}
	d.reply(ctx, session.ChatID, fmt.Sprintf("Request %s created. You will be notified once it is processed.", cert.ID), d.menuKeyboard(session))
}

func (d *Dispatcher) menuKeyboard(session *Session) *Keyboard {
	if !session.Authorized() {
		return nil
	}
	return &Keyboard{Buttons: [][]Button{
		{CallbackButton("My requests", "/my"), CallbackButton("New request", "/new")},
		{CallbackButton("Sign out", "/logout")},
	}}
}

func (s *Session) claims() *models.JWTClaims {
	return &models.JWTClaims{UserID: s.UserID, Role: models.UserRole(s.Role), Email: s.Email}
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string, keyboard *Keyboard) {
	if err := d.client.SendMessage(ctx, chatID, text, keyboard); err != nil {
		d.logger.Warn("failed to send bot message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (d *Dispatcher) saveSession(ctx context.Context, session *Session) {
	if err := d.sessions.Save(ctx, session); err != nil {
		d.logger.Warn("failed to save bot session", zap.Int64("chat_id", session.ChatID), zap.Error(err))
	}
}

func (d *Dispatcher) recordCommand(command string) {
	if d.metrics != nil {
		d.metrics.RecordBotUpdate(command)
	}
}

const helpText = `Certificate desk bot commands:
/start - sign in or show the menu
/my - list your certificate requests
/new - request a new certificate
/logout - sign out
/help - this message`
