package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// decoderQueueSize bounds RTP packets waiting for the decoder. Packets are
// dropped when the decoder falls behind and the next PLI recovers the stream.
const decoderQueueSize = 512

// ErrNoVideo is returned when an offer carries no video section.
var ErrNoVideo = errors.New("offer has no video track")

// Service answers offers and runs the detection pipeline of each session.
type Service struct {
	api      *webrtc.API
	config   Config
	registry *Registry
	codec    Codec
	tracks   TrackConfig
	logger   *zap.Logger
}

// NewService returns a Service registering its connections in registry.
func NewService(config Config, registry *Registry, codec Codec, tracks TrackConfig) (*Service, error) {
	api, err := NewAPI()
	if err != nil {
		return nil, err
	}
	tracks = tracks.withDefaults()

	return &Service{
		api:      api,
		config:   config.withDefaults(),
		registry: registry,
		codec:    codec,
		tracks:   tracks,
		logger:   tracks.Logger,
	}, nil
}

// Registry returns the connection registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// session is the per-connection state shared by the callbacks.
type session struct {
	pc       *webrtc.PeerConnection
	mode     Mode
	clientID string
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	server *ServerDrawTrack
	client *ClientDrawTrack
	sample *webrtc.TrackLocalStaticSample
	relay  *webrtc.TrackLocalStaticRTP
}

// Negotiate answers offer with a new peer connection. The returned answer
// already contains every gathered ICE candidate.
func (s *Service) Negotiate(ctx context.Context, offer webrtc.SessionDescription, mode Mode, clientID string) (webrtc.SessionDescription, error) {
	pc, err := s.api.NewPeerConnection(s.config.peerConfiguration())
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create peer connection: %w", err)
	}
	s.registry.Add(pc)

	logger := s.logger.With(zap.Stringer("mode", mode))
	if clientID != "" {
		logger = logger.With(zap.String("client_id", clientID))
	}

	// pipelines outlive the offer request
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{pc: pc, mode: mode, clientID: clientID, logger: logger, ctx: sessCtx, cancel: cancel}

	fail := func(err error) (webrtc.SessionDescription, error) {
		cancel()
		if rerr := s.registry.Remove(pc); rerr != nil {
			logger.Warn("failed to close peer connection", zap.Error(rerr))
		}
		return webrtc.SessionDescription{}, err
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Info("connection state changed", zap.Stringer("state", state))
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			cancel()
			if err := s.registry.Remove(pc); err != nil {
				logger.Warn("failed to close peer connection", zap.Error(err))
			}
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger.Info("track received", zap.Stringer("kind", remote.Kind()), zap.String("codec", remote.Codec().MimeType))
		if remote.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		go s.runSession(sess, remote)
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		return fail(fmt.Errorf("invalid offer: %w", err))
	}

	if err := s.addLocalTrack(sess); err != nil {
		return fail(err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail(fmt.Errorf("failed to create answer: %w", err))
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail(fmt.Errorf("failed to set local description: %w", err))
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	logger.Info("sending answer")
	return *pc.LocalDescription(), nil
}

// addLocalTrack creates the outgoing track for the session mode.
func (s *Service) addLocalTrack(sess *session) error {
	hasVideo := false
	for _, t := range sess.pc.GetTransceivers() {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			hasVideo = true
			break
		}
	}
	if !hasVideo {
		return ErrNoVideo
	}

	var local webrtc.TrackLocal
	switch sess.mode {
	case ModeServerDraw:
		track, err := webrtc.NewTrackLocalStaticSample(vp8Capability(), "video", "detections")
		if err != nil {
			return fmt.Errorf("failed to create video track: %w", err)
		}
		sess.sample = track
		sess.server = NewServerDrawTrack(s.tracks)
		local = track
	case ModeClientDraw:
		track, err := webrtc.NewTrackLocalStaticRTP(vp8Capability(), "video", "relay")
		if err != nil {
			return fmt.Errorf("failed to create video track: %w", err)
		}
		sess.relay = track
		sess.client = NewClientDrawTrack(s.tracks, sess.clientID)
		s.registry.AttachTrack(sess.pc, sess.client)
		local = track
	default:
		return fmt.Errorf("unknown mode %v", sess.mode)
	}

	sender, err := sess.pc.AddTrack(local)
	if err != nil {
		return fmt.Errorf("failed to add track: %w", err)
	}

	// interceptors only run when RTCP is read
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return nil
}

// runSession decodes remote video and feeds it through the session track
// until the remote track ends or the connection closes.
func (s *Service) runSession(sess *session, remote *webrtc.TrackRemote) {
	logger := sess.logger
	defer logger.Info("track ended")

	decoder, err := s.codec.NewDecoder(sess.ctx)
	if err != nil {
		logger.Error("failed to start decoder", zap.Error(err))
		return
	}
	defer decoder.Close()

	go s.requestKeyframes(sess, remote)

	var encoder FrameEncoder
	if sess.mode == ModeServerDraw {
		encoder, err = s.codec.NewEncoder(sess.ctx)
		if err != nil {
			logger.Error("failed to start encoder", zap.Error(err))
			return
		}
		defer encoder.Close()
		go s.sendSamples(sess, encoder)
	}

	go s.processFrames(sess, decoder, encoder)

	packets := make(chan *rtp.Packet, decoderQueueSize)
	go func() {
		for pkt := range packets {
			if err := decoder.WriteRTP(pkt); err != nil {
				logger.Debug("decoder write failed", zap.Error(err))
				return
			}
		}
	}()
	defer close(packets)

	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("remote track read failed", zap.Error(err))
			}
			return
		}

		if sess.relay != nil {
			if err := sess.relay.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				logger.Warn("failed to relay packet", zap.Error(err))
			}
		}

		select {
		case packets <- pkt:
		default:
		}
	}
}

// processFrames runs each decoded frame through the session track.
func (s *Service) processFrames(sess *session, decoder FrameDecoder, encoder FrameEncoder) {
	for {
		frame, err := decoder.ReadFrame()
		if err != nil {
			return
		}

		if sess.client != nil {
			sess.client.Process(sess.ctx, frame)
			continue
		}

		annotated := sess.server.Process(sess.ctx, frame)
		if err := encoder.WriteFrame(annotated); err != nil {
			sess.logger.Debug("encoder write failed", zap.Error(err))
			return
		}
	}
}

// sendSamples writes encoded frames to the outgoing track.
func (s *Service) sendSamples(sess *session, encoder FrameEncoder) {
	for {
		sample, err := encoder.ReadSample()
		if err != nil {
			return
		}
		if err := sess.sample.WriteSample(sample); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			sess.logger.Warn("failed to send frame", zap.Error(err))
		}
	}
}

// requestKeyframes sends a picture loss indication every PLIInterval so the
// decoder can resynchronise.
func (s *Service) requestKeyframes(sess *session, remote *webrtc.TrackRemote) {
	pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())}}
	if err := sess.pc.WriteRTCP(pli); err != nil {
		return
	}

	ticker := time.NewTicker(s.config.PLIInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-ticker.C:
			if err := sess.pc.WriteRTCP(pli); err != nil {
				return
			}
		}
	}
}
