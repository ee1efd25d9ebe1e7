package realtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dostum-ai/dostum-backend/internal/models"
	"github.com/dostum-ai/dostum-backend/internal/providers/llm"
	"github.com/dostum-ai/dostum-backend/internal/providers/stt"
	"github.com/dostum-ai/dostum-backend/internal/providers/tts"
	"github.com/dostum-ai/dostum-backend/internal/services"
)

// GatewayDeps is everything the voice gateway composes. All fields except
// the optional services are required.
type GatewayDeps struct {
	Config    Config
	Log       *logrus.Logger
	Registry  *Registry
	STT       stt.Provider
	LLM       llm.Provider
	TTS       tts.Synthesizer
	Users     services.UserService
	Convos    services.ConversationService
	Buffers   services.BufferService
	Sessions  services.SessionService
	Mirror    *EventMirror
	JWTSecret []byte
}

// Gateway upgrades /ws/voice connections, builds a Session per client, and
// runs the read loop routing binary frames to ingestion and text frames to
// control dispatch.
type Gateway struct {
	deps      GatewayDeps
	log       *logrus.Entry
	responder *Responder
	upgrader  websocket.Upgrader
}

func NewGateway(deps GatewayDeps) *Gateway {
	log := deps.Log.WithField("component", "gateway")
	return &Gateway{
		deps:      deps,
		log:       log,
		responder: NewResponder(deps.LLM, deps.Log.WithField("component", "responder")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// mobile clients connect from app webviews with no stable origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handle is the gin handler for GET /ws/voice.
func (g *Gateway) Handle(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	voice := c.Query("voice")
	if voice == "" {
		voice = g.deps.Config.DefaultVoice
	}
	language := c.Query("language")
	if language == "" {
		language = g.deps.Config.DefaultLanguage
	}

	userID, budget, metered := g.resolveToken(c.Request.Context(), c.Query("token"))

	sessionID := uuid.NewString()
	s := newSession(sessionID, userID, voice, language, sessionDeps{
		conn:      conn,
		registry:  g.deps.Registry,
		sttProv:   g.deps.STT,
		responder: g.responder,
		synth:     g.deps.TTS,
		convos:    g.deps.Convos,
		buffers:   g.deps.Buffers,
		sessions:  g.deps.Sessions,
		mirror:    g.deps.Mirror,
		log:       logrus.NewEntry(g.deps.Log),
		cfg:       g.deps.Config,
	})

	if metered {
		s.meter = NewMeter(userID, budget, g.deps.Users, s.send, func() {
			g.deps.Mirror.Touch(sessionID)
		}, s.log, MeterConfig{
			Tick:      g.deps.Config.MeterTick,
			Reconcile: g.deps.Config.MeterReconcile,
			Tolerance: g.deps.Config.MeterTolerance,
		})
	}

	g.deps.Registry.Register(s)
	g.deps.Mirror.Touch(sessionID)
	g.recordSessionStart(s)

	s.send(Connected(sessionID))
	if s.meter != nil {
		s.meter.Start()
	}

	g.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"user_id":    userID,
		"voice":      voice,
		"language":   language,
		"metered":    metered,
	}).Info("session connected")

	g.readLoop(s, conn)
	s.Close()
}

func (g *Gateway) recordSessionStart(s *Session) {
	if g.deps.Sessions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := g.deps.Sessions.Start(ctx, s.ID, s.UserID, s.voiceNow(), s.languageNow()); err != nil {
		g.log.WithError(err).Debug("session record create failed")
	}
}

func (g *Gateway) readLoop(s *Session, conn *websocket.Conn) {
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.WithError(err).Debug("connection error")
			}
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			// some clients send every frame as binary
			if LooksLikeControl(payload) {
				g.dispatchControl(s, payload)
				continue
			}
			s.AcceptAudio(payload)
		case websocket.TextMessage:
			g.dispatchControl(s, payload)
		}
	}
}

func (g *Gateway) dispatchControl(s *Session, raw []byte) {
	ctl, err := ParseControl(raw)
	if err != nil {
		s.log.WithError(err).Warn("control message rejected")
		s.send(Error(err.Error()))
		return
	}
	switch ctl.Type {
	case ControlConfig:
		s.SetVoice(ctl.Voice)
	case ControlSpeechEnd:
		s.SpeechEnd()
	case ControlSpeechPause:
		s.SpeechPause()
	case ControlReset:
		s.Reset()
	case ControlPing:
		s.Ping()
	case ControlTextMessage:
		s.TextMessage(ctl.Text)
	default:
		// ParseControl already rejects unknown tags
		s.send(Error(fmt.Sprintf("unsupported control type %q", ctl.Type)))
	}
}

// resolveToken turns an optional bearer token into a user id plus trial
// snapshot. An invalid token downgrades to an anonymous session rather
// than refusing the connection.
func (g *Gateway) resolveToken(ctx context.Context, token string) (string, models.TrialBudget, bool) {
	if token == "" {
		return "", models.TrialBudget{}, false
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.deps.JWTSecret, nil
	})
	if err != nil || !parsed.Valid {
		g.log.WithError(err).Warn("invalid session token, continuing anonymously")
		return "", models.TrialBudget{}, false
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		g.log.Warn("unexpected token claims, continuing anonymously")
		return "", models.TrialBudget{}, false
	}
	userID, _ := claims["user_id"].(string)
	if userID == "" {
		userID, _ = claims["sub"].(string)
	}
	if userID == "" {
		g.log.Warn("token carries no user id, continuing anonymously")
		return "", models.TrialBudget{}, false
	}

	budget, err := g.deps.Users.TrialBudget(ctx, userID)
	if err != nil {
		g.log.WithError(err).WithField("user_id", userID).Warn("trial budget read failed, session will not be metered")
		return userID, models.TrialBudget{}, false
	}
	if !budget.Active || budget.Minutes <= 0 {
		return userID, budget, false
	}
	return userID, budget, true
}
