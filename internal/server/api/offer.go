package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/ayusman/ewaste/internal/cache"
	"github.com/ayusman/ewaste/internal/detector"
	"github.com/ayusman/ewaste/internal/rtc"
)

// Negotiator answers WebRTC offers.
type Negotiator interface {
	Negotiate(ctx context.Context, offer webrtc.SessionDescription, mode rtc.Mode, clientID string) (webrtc.SessionDescription, error)
}

// OfferHandler serves the WebRTC signalling routes and the detection lookup.
type OfferHandler struct {
	negotiator Negotiator
	cache      cache.Cache
	logger     *zap.Logger
}

// NewOfferHandler creates a new OfferHandler.
func NewOfferHandler(n Negotiator, c cache.Cache, logger *zap.Logger) *OfferHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OfferHandler{negotiator: n, cache: c, logger: logger}
}

// Register mounts the handler's routes on r.
func (h *OfferHandler) Register(r *mux.Router) {
	r.HandleFunc("/offer", h.offer).Methods(http.MethodPost)
	r.HandleFunc("/client-drawing-offer", h.clientDrawingOffer).Methods(http.MethodPost)
	r.HandleFunc("/detections/{client_id}", h.detections).Methods(http.MethodGet)
}

type offerRequest struct {
	SDP      string `json:"sdp"`
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
}

type sessionDescriptionResponse struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

type detectionsResponse struct {
	ClientID   string               `json:"client_id"`
	Detections []detector.Detection `json:"detections"`
}

// offer handles POST /offer; the answer's video carries server-drawn boxes.
func (h *OfferHandler) offer(w http.ResponseWriter, r *http.Request) {
	h.negotiate(w, r, rtc.ModeServerDraw)
}

// clientDrawingOffer handles POST /client-drawing-offer; detections are
// delivered over /ws/detections instead of being drawn.
func (h *OfferHandler) clientDrawingOffer(w http.ResponseWriter, r *http.Request) {
	h.negotiate(w, r, rtc.ModeClientDraw)
}

func (h *OfferHandler) negotiate(w http.ResponseWriter, r *http.Request, mode rtc.Mode) {
	var req offerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.SDP == "" || req.Type != webrtc.SDPTypeOffer.String() {
		writeDetail(w, http.StatusBadRequest, "An SDP offer is required")
		return
	}

	clientID := ""
	if mode == rtc.ModeClientDraw {
		clientID = req.ClientID
	}
	logger := h.logger.With(zap.Stringer("mode", mode), zap.String("client_id", clientID))
	logger.Info("received offer")

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: req.SDP}
	answer, err := h.negotiator.Negotiate(r.Context(), offer, mode, clientID)
	if err != nil {
		logger.Warn("negotiation failed", zap.Error(err))
		if errors.Is(err, rtc.ErrNoVideo) {
			writeDetail(w, http.StatusBadRequest, "Offer has no video track")
			return
		}
		writeDetail(w, http.StatusBadRequest, "Invalid session description")
		return
	}

	logger.Info("sending answer")
	writeJSON(w, http.StatusOK, sessionDescriptionResponse{SDP: answer.SDP, Type: answer.Type.String()})
}

// detections handles GET /detections/{client_id}.
func (h *OfferHandler) detections(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]

	dets, err := h.cache.Get(r.Context(), clientID)
	if err != nil {
		if errors.Is(err, cache.ErrUnknownClient) {
			writeDetail(w, http.StatusNotFound, "Client not found")
			return
		}
		h.logger.Error("failed to read detections", zap.String("client_id", clientID), zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "Failed to read detections")
		return
	}

	writeJSON(w, http.StatusOK, detectionsResponse{ClientID: clientID, Detections: dets})
}
