// Package api carries the command side of the gateway: REST handlers that
// persist a change and then notify the shop's room through the emitter. The
// database write always happens first; the socket event is purely a
// notification.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopwire/shopwire/auth"
	"github.com/shopwire/shopwire/config"
	"github.com/shopwire/shopwire/globals"
	"github.com/shopwire/shopwire/persistence"
	"github.com/shopwire/shopwire/types"
	"github.com/shopwire/shopwire/ws"
	"gorm.io/datatypes"
)

type API struct {
	cfg       *config.Config
	persister persistence.Persister
	emitter   *ws.Emitter
	verifier  *ws.Verifier
}

func New(cfg *config.Config, persister persistence.Persister, emitter *ws.Emitter, verifier *ws.Verifier) *API {
	return &API{cfg: cfg, persister: persister, emitter: emitter, verifier: verifier}
}

func (a *API) Routes(router *mux.Router) {
	r := router.PathPrefix("/api/shops/{shop:[a-zA-Z0-9_-]+}").Subrouter()
	r.HandleFunc("/messages", a.postMessage).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}", a.patchConversation).Methods(http.MethodPatch)
	r.HandleFunc("/orders/{id}", a.patchOrder).Methods(http.MethodPatch)
	r.HandleFunc("/notifications", a.postNotification).Methods(http.MethodPost)
}

// authorize runs the same two gates as the websocket path: token verification
// and the team-membership check, per request.
func (a *API) authorize(w http.ResponseWriter, r *http.Request) (string, *auth.Claims, bool) {
	shopId := mux.Vars(r)["shop"]
	claims, err := auth.Authenticate(ws.BearerToken(r), a.cfg)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return "", nil, false
	}
	if err := a.verifier.Allowed(r.Context(), shopId, claims.UserId); err != nil {
		writeError(w, http.StatusForbidden, "not authorized for shop")
		return "", nil, false
	}
	return shopId, claims, true
}

type postMessageRequest struct {
	ConversationId string `json:"conversationId"`
	Body           string `json:"body"`
}

func (a *API) postMessage(w http.ResponseWriter, r *http.Request) {
	shopId, claims, ok := a.authorize(w, r)
	if !ok {
		return
	}
	req := postMessageRequest{}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ConversationId == "" || req.Body == "" {
		writeError(w, http.StatusBadRequest, "conversationId and body are required")
		return
	}
	msg := &types.ChatMessage{
		Id:             uuid.NewString(),
		ShopId:         shopId,
		ConversationId: req.ConversationId,
		SenderId:       claims.UserId,
		Body:           req.Body,
		CreatedAt:      time.Now().UTC(),
	}
	if err := a.persister.StoreChatMessage(msg); err != nil {
		globals.AppLogger.Error("could not store chat message", "error", err)
		writeError(w, http.StatusInternalServerError, "could not store message")
		return
	}
	a.emitter.NewMessage(shopId, msg)
	writeJSON(w, http.StatusCreated, msg)
}

type patchConversationRequest struct {
	Status     *string            `json:"status"`
	AssigneeId *string            `json:"assigneeId"`
	Tags       *map[string]string `json:"tags"`
}

func (a *API) patchConversation(w http.ResponseWriter, r *http.Request) {
	shopId, _, ok := a.authorize(w, r)
	if !ok {
		return
	}
	req := patchConversationRequest{}
	if !decodeBody(w, r, &req) {
		return
	}
	conv := &types.Conversation{Id: mux.Vars(r)["id"]}
	err := a.persister.GetConversation(conv)
	if errors.Is(err, persistence.ErrNotFound) || (err == nil && conv.ShopId != shopId) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		globals.AppLogger.Error("could not load conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load conversation")
		return
	}
	if req.Status != nil {
		conv.Status = *req.Status
	}
	if req.AssigneeId != nil {
		conv.AssigneeId = *req.AssigneeId
	}
	if req.Tags != nil {
		conv.Tags = datatypes.NewJSONType(*req.Tags)
	}
	conv.UpdatedAt = time.Now().UTC()
	if err := a.persister.StoreConversation(conv); err != nil {
		globals.AppLogger.Error("could not store conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "could not store conversation")
		return
	}
	a.emitter.ConversationUpdate(shopId, conv)
	writeJSON(w, http.StatusOK, conv)
}

type patchOrderRequest struct {
	Status string `json:"status"`
}

func validOrderStatus(status string) bool {
	switch status {
	case types.OrderStatusPending, types.OrderStatusPaid, types.OrderStatusShipped,
		types.OrderStatusDelivered, types.OrderStatusCancelled:
		return true
	}
	return false
}

func (a *API) patchOrder(w http.ResponseWriter, r *http.Request) {
	shopId, _, ok := a.authorize(w, r)
	if !ok {
		return
	}
	req := patchOrderRequest{}
	if !decodeBody(w, r, &req) {
		return
	}
	if !validOrderStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "invalid order status")
		return
	}
	order := &types.Order{Id: mux.Vars(r)["id"]}
	err := a.persister.GetOrder(order)
	if errors.Is(err, persistence.ErrNotFound) || (err == nil && order.ShopId != shopId) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		globals.AppLogger.Error("could not load order", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load order")
		return
	}
	order.Status = req.Status
	order.UpdatedAt = time.Now().UTC()
	if err := a.persister.StoreOrder(order); err != nil {
		globals.AppLogger.Error("could not store order", "error", err)
		writeError(w, http.StatusInternalServerError, "could not store order")
		return
	}
	a.emitter.OrderUpdate(shopId, order)
	writeJSON(w, http.StatusOK, order)
}

type postNotificationRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func (a *API) postNotification(w http.ResponseWriter, r *http.Request) {
	shopId, _, ok := a.authorize(w, r)
	if !ok {
		return
	}
	req := postNotificationRequest{}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Kind == "" {
		writeError(w, http.StatusBadRequest, "kind is required")
		return
	}
	n := &types.Notification{
		Id:        uuid.NewString(),
		ShopId:    shopId,
		Kind:      req.Kind,
		Payload:   datatypes.JSON(req.Payload),
		CreatedAt: time.Now().UTC(),
	}
	if err := a.persister.StoreNotification(n); err != nil {
		globals.AppLogger.Error("could not store notification", "error", err)
		writeError(w, http.StatusInternalServerError, "could not store notification")
		return
	}
	a.emitter.Notification(shopId, n)
	writeJSON(w, http.StatusCreated, n)
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		globals.AppLogger.Error("could not encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
