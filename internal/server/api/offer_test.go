package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/ayusman/ewaste/internal/cache"
	"github.com/ayusman/ewaste/internal/detector"
	"github.com/ayusman/ewaste/internal/rtc"
)

type negotiateCall struct {
	offer    webrtc.SessionDescription
	mode     rtc.Mode
	clientID string
}

type fakeNegotiator struct {
	mu    sync.Mutex
	calls []negotiateCall
	err   error
}

func (f *fakeNegotiator) Negotiate(_ context.Context, offer webrtc.SessionDescription, mode rtc.Mode, clientID string) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, negotiateCall{offer: offer, mode: mode, clientID: clientID})
	if f.err != nil {
		return webrtc.SessionDescription{}, f.err
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func TestOfferHandler_Offer(t *testing.T) {
	neg := &fakeNegotiator{}
	r := newRouter(NewOfferHandler(neg, cache.NewMemory(), nil))

	body := `{"sdp": "v=0 offer", "type": "offer", "client_id": "ignored"}`
	req := httptest.NewRequest(http.MethodPost, "/offer", strings.NewReader(body))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var response sessionDescriptionResponse
	decodeResponse(t, rec, &response)
	if response.Type != "answer" || response.SDP != "v=0 answer" {
		t.Errorf("unexpected answer %+v", response)
	}

	if len(neg.calls) != 1 {
		t.Fatalf("expected 1 negotiation, got %d", len(neg.calls))
	}
	call := neg.calls[0]
	if call.mode != rtc.ModeServerDraw {
		t.Errorf("expected server-draw mode, got %v", call.mode)
	}
	if call.clientID != "" {
		t.Errorf("server-draw offers carry no client id, got %q", call.clientID)
	}
	if call.offer.SDP != "v=0 offer" || call.offer.Type != webrtc.SDPTypeOffer {
		t.Errorf("unexpected offer %+v", call.offer)
	}
}

func TestOfferHandler_ClientDrawingOffer(t *testing.T) {
	neg := &fakeNegotiator{}
	r := newRouter(NewOfferHandler(neg, cache.NewMemory(), nil))

	body := `{"sdp": "v=0 offer", "type": "offer", "client_id": "c-1"}`
	req := httptest.NewRequest(http.MethodPost, "/client-drawing-offer", strings.NewReader(body))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if neg.calls[0].mode != rtc.ModeClientDraw || neg.calls[0].clientID != "c-1" {
		t.Errorf("unexpected negotiation %+v", neg.calls[0])
	}
}

func TestOfferHandler_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
	}{
		{name: "invalid JSON", body: `{"sdp":`},
		{name: "missing sdp", body: `{"type": "offer"}`},
		{name: "answer instead of offer", body: `{"sdp": "v=0", "type": "answer"}`},
		{name: "no video", body: `{"sdp": "v=0", "type": "offer"}`, err: rtc.ErrNoVideo},
		{name: "negotiation failure", body: `{"sdp": "v=0", "type": "offer"}`, err: errors.New("bad sdp")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(NewOfferHandler(&fakeNegotiator{err: tt.err}, cache.NewMemory(), nil))

			req := httptest.NewRequest(http.MethodPost, "/offer", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
			}
			var response detailResponse
			decodeResponse(t, rec, &response)
			if response.Detail == "" {
				t.Error("expected a detail message")
			}
		})
	}
}

func TestOfferHandler_Detections(t *testing.T) {
	c := cache.NewMemory()
	ctx := context.Background()
	c.Register(ctx, "known")
	c.Set(ctx, "known", []detector.Detection{detector.MouseDetection()})

	r := newRouter(NewOfferHandler(&fakeNegotiator{}, c, nil))

	t.Run("known client", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/detections/known", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		var response detectionsResponse
		decodeResponse(t, rec, &response)
		if response.ClientID != "known" {
			t.Errorf("expected client_id known, got %s", response.ClientID)
		}
		if len(response.Detections) != 1 || response.Detections[0].ClassName != "mouse" {
			t.Errorf("unexpected detections %+v", response.Detections)
		}
	})

	t.Run("unknown client", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/detections/missing", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}
