// Package bridge exposes a local gRPC control plane over the mesh-host
// services: other processes on the same machine drive contacts, channels,
// messaging and login through it instead of linking the Go packages
// directly, and receive inbound messages and delivery outcomes via a
// server-streaming Subscribe call.
package bridge

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/Avi0n/PocketMesh-sub005/internal/reliability"
	"github.com/Avi0n/PocketMesh-sub005/internal/services"
)

// ServiceName is the fully-qualified service name presented on the wire,
// in lieu of one generated from a .proto package/service declaration.
const ServiceName = "meshhost.bridge.v1.Bridge"

// Server implements the bridge's control-plane RPCs and fans reliability
// engine callbacks out to every active Subscribe stream.
type Server struct {
	message *services.MessageService
	contact *services.ContactService
	channel *services.ChannelService
	node    *services.RemoteNodeService
	eng     *reliability.Engine

	grpcServer *grpc.Server

	mu        sync.Mutex
	nextSubID uint64
	subs      map[uint64]chan SubscribeEvent
}

// NewServer wires the bridge to the given service facades and subscribes
// to the reliability engine's message/delivery callbacks so they can be
// fanned out to Subscribe streams.
func NewServer(msgSvc *services.MessageService, contactSvc *services.ContactService, chanSvc *services.ChannelService, nodeSvc *services.RemoteNodeService, eng *reliability.Engine) *Server {
	s := &Server{
		message: msgSvc,
		contact: contactSvc,
		channel: chanSvc,
		node:    nodeSvc,
		eng:     eng,
		subs:    make(map[uint64]chan SubscribeEvent),
	}

	eng.OnMessage(func(m reliability.MessageEvent) {
		s.broadcast(SubscribeEvent{
			Kind:       "message",
			ChannelMsg: m.ChannelMsg,
			Channel:    m.Channel,
			ContactID:  m.ContactID,
			SenderName: m.SenderName,
			Text:       m.Text,
		})
	})
	eng.OnDelivered(func(messageID string, rtt time.Duration) {
		s.broadcast(SubscribeEvent{Kind: "delivered", MessageID: messageID, RTTMillis: rtt.Milliseconds()})
	})
	eng.OnFailed(func(messageID string) {
		s.broadcast(SubscribeEvent{Kind: "failed", MessageID: messageID})
	})

	return s
}

// Serve starts accepting connections on lis and blocks until the server
// stops or the listener errors.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.grpcServer = grpc.NewServer()
	s.grpcServer.RegisterService(&serviceDesc, s)
	srv := s.grpcServer
	s.mu.Unlock()
	return srv.Serve(lis)
}

// Stop gracefully stops the gRPC server and closes every Subscribe stream.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.grpcServer
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()
	if srv != nil {
		srv.GracefulStop()
	}
}

func (s *Server) broadcast(ev SubscribeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default: // slow subscriber, drop rather than block the engine callback
		}
	}
}

func (s *Server) addSubscriber() (uint64, chan SubscribeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan SubscribeEvent, 32)
	s.subs[id] = ch
	return id, ch
}

func (s *Server) removeSubscriber(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Server) sendDirect(ctx context.Context, req *SendDirectRequest) (*SendDirectResponse, error) {
	msg, err := s.message.SendDirect(ctx, req.ContactID, req.Text)
	if err != nil {
		return nil, err
	}
	return &SendDirectResponse{MessageID: msg.ID, Status: string(msg.Status)}, nil
}

func (s *Server) sendChannel(ctx context.Context, req *SendChannelRequest) (*SendChannelResponse, error) {
	msg, err := s.message.SendChannel(ctx, req.Channel, req.Text)
	if err != nil {
		return nil, err
	}
	return &SendChannelResponse{MessageID: msg.ID, Status: string(msg.Status)}, nil
}

func (s *Server) syncContacts(ctx context.Context, req *SyncContactsRequest) (*SyncContactsResponse, error) {
	res, err := s.contact.SyncContacts(ctx, req.Force, req.Since)
	if err != nil {
		return nil, err
	}
	return &SyncContactsResponse{
		Received:      res.Received,
		LastSyncTs:    res.LastSyncTs,
		IsIncremental: res.IsIncremental,
		Interrupted:   res.Interrupted,
	}, nil
}

func (s *Server) setChannel(ctx context.Context, req *SetChannelRequest) (*SetChannelResponse, error) {
	secret, err := hex.DecodeString(req.SecretHex)
	if err != nil {
		return nil, fmt.Errorf("bridge: decode secret_hex: %w", err)
	}
	var secretArr [16]byte
	if !services.ValidateSecret(secret) {
		return nil, fmt.Errorf("bridge: secret_hex must decode to 16 bytes, got %d", len(secret))
	}
	copy(secretArr[:], secret)
	if err := s.channel.SetChannel(ctx, req.Index, req.Name, secretArr); err != nil {
		return nil, err
	}
	return &SetChannelResponse{}, nil
}

func (s *Server) login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	pkBytes, err := hex.DecodeString(req.PublicKeyHex)
	if err != nil || len(pkBytes) != 32 {
		return nil, fmt.Errorf("bridge: public_key_hex must decode to 32 bytes")
	}
	var pk [32]byte
	copy(pk[:], pkBytes)

	if _, err := s.node.Login(ctx, pk, req.Password, req.PathHops); err != nil {
		return &LoginResponse{Success: false, Error: err.Error()}, nil
	}
	return &LoginResponse{Success: true}, nil
}
