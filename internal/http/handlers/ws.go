package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/utopiachat/relay/internal/model"
	"github.com/utopiachat/relay/internal/relay"
)

// Authorizer validates a bearer access token and yields the identity that
// owns it. Implemented by auth.AuthService.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (model.User, error)
}

// WSHandler upgrades the two WebSocket entry points: the identity-routed
// private channel and the legacy room channel.
type WSHandler struct {
	authorizer   Authorizer
	directory    *relay.Directory
	registry     *relay.Registry
	rooms        *relay.Rooms
	router       *relay.Router
	upgrader     websocket.Upgrader
	maxFrameSize int64
}

// NewWSHandler creates the WebSocket handler. allowedOrigins empty means
// any origin is accepted; native clients usually send none at all.
func NewWSHandler(
	authorizer Authorizer,
	directory *relay.Directory,
	registry *relay.Registry,
	rooms *relay.Rooms,
	router *relay.Router,
	allowedOrigins []string,
	maxFrameSize int64,
) *WSHandler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return &WSHandler{
		authorizer:   authorizer,
		directory:    directory,
		registry:     registry,
		rooms:        rooms,
		router:       router,
		maxFrameSize: maxFrameSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowed) == 0 {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// HandleUser handles GET /ws/user/{token}: the private-messaging channel.
// The token is authorized before the upgrade; a failed check refuses the
// connection outright.
func (h *WSHandler) HandleUser(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	user, err := h.authorizer.Authorize(r.Context(), token)
	if err != nil {
		log.Printf("ws: connection refused: %v", err)
		respondWithError(w, http.StatusUnauthorized, "invalid access token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	sess := relay.NewSession(conn)
	key := relay.Identity{CountryCode: user.CountryCode, PhoneNumber: user.PhoneNumber}.Key()

	h.registry.Accept(sess)
	h.directory.Bind(key, sess.Ref())
	go sess.WriteLoop()

	sess.ReadLoop(h.maxFrameSize, func(frame []byte) {
		env, err := relay.Decode(frame)
		if err != nil {
			// Malformed frame: drop it, keep the connection.
			log.Printf("ws: session %s: %v", sess.Ref(), err)
			return
		}
		h.router.Dispatch(env)
	})

	// UnbindRef so a newer connection for the same identity keeps its
	// binding when this one tears down late.
	h.directory.UnbindRef(key, sess.Ref())
	h.registry.Close(sess.Ref())
}

// HandleRoom handles GET /ws/chat/{room}: the legacy room-broadcast channel.
// No authorization; membership lasts exactly as long as the connection.
func (h *WSHandler) HandleRoom(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	if room == "" {
		respondWithError(w, http.StatusBadRequest, "room name is required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	sess := relay.NewSession(conn)
	h.registry.Accept(sess)
	h.rooms.Join(room, sess.Ref())
	go sess.WriteLoop()

	sess.ReadLoop(h.maxFrameSize, func(frame []byte) {
		msg, err := relay.DecodeRoomMessage(frame)
		if err != nil {
			log.Printf("ws: room %s: %v", room, err)
			return
		}
		payload, err := relay.EncodeRoomMessage(msg)
		if err != nil {
			log.Printf("ws: room %s: %v", room, err)
			return
		}
		h.rooms.Broadcast(room, payload)
	})

	h.rooms.Leave(room, sess.Ref())
	h.registry.Close(sess.Ref())
}
