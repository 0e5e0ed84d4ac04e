package rendezvous

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lessonlive/meetmesh/internal/domain"
	"github.com/lessonlive/meetmesh/internal/signal"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	Hub       *Hub
	ReadLimit int64
	Limit     *Limiter // nil disables throttling
}

// HandleWS upgrades one control channel. The first envelope must be
// join-meeting; everything after is dispatched until leave or error.
func (ctl *Controller) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "rendezvous").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := newWSConn(ws)
	go conn.writePump()

	meeting, self, ok := ctl.awaitJoin(ws, conn)
	if !ok {
		conn.Close()
		return
	}

	defer func() {
		ctl.Hub.Leave(meeting, self)
		if ctl.Limit != nil {
			ctl.Limit.Forget(self)
		}
		conn.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "rendezvous").Str("participant", string(self)).Msg("connection gone")
			return
		}
		if ctl.Limit != nil && !ctl.Limit.Allow(self) {
			log.Warn().Str("module", "rendezvous").Str("participant", string(self)).Msg("rate limited")
			continue
		}
		env, err := signal.Decode(data)
		if err != nil {
			log.Error().Err(err).Str("module", "rendezvous").Msg("bad envelope")
			continue
		}
		env.From = self
		if done := ctl.dispatch(meeting, self, *env); done {
			return
		}
	}
}

func (ctl *Controller) awaitJoin(ws *websocket.Conn, conn *wsConn) (domain.MeetingID, domain.ParticipantID, bool) {
	_, data, err := ws.ReadMessage()
	if err != nil {
		return "", "", false
	}
	env, err := signal.Decode(data)
	if err != nil || env.Type != signal.TypeJoinMeeting || env.Participant == nil || env.Meeting == "" {
		log.Warn().Str("module", "rendezvous").Msg("first envelope is not a valid join-meeting")
		return "", "", false
	}
	ctl.Hub.Join(env.Meeting, *env.Participant, conn)
	return env.Meeting, env.Participant.ID, true
}

// dispatch returns true when the connection should be torn down.
func (ctl *Controller) dispatch(meeting domain.MeetingID, self domain.ParticipantID, env signal.Envelope) bool {
	switch env.Type {
	case signal.TypeLeave:
		return true
	case signal.TypeOffer, signal.TypeAnswer, signal.TypeICECandidate:
		ctl.Hub.Route(meeting, env)
	case signal.TypeParticipantUpdate:
		if env.ParticipantID == "" {
			env.ParticipantID = self
		}
		ctl.Hub.UpdatePresence(meeting, env)
	default:
		log.Warn().Str("module", "rendezvous").Str("type", string(env.Type)).Msg("unknown signal")
	}
	return false
}
