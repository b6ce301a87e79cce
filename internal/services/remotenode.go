package services

import (
	"context"

	"github.com/Avi0n/PocketMesh-sub005/internal/errs"
	"github.com/Avi0n/PocketMesh-sub005/internal/session"
	"github.com/Avi0n/PocketMesh-sub005/internal/wire"
)

// RemoteNodeService authenticates against a remote (possibly multi-hop)
// node, scaling its timeout to the path length.
type RemoteNodeService struct {
	sess *session.Session
	cfg  session.Config
}

func NewRemoteNodeService(sess *session.Session, cfg session.Config) *RemoteNodeService {
	return &RemoteNodeService{sess: sess, cfg: cfg}
}

// Login submits sendLogin and awaits loginSuccess or loginFail, with a
// timeout scaled by pathHops per the specification.
func (r *RemoteNodeService) Login(ctx context.Context, publicKey [32]byte, password string, pathHops int) (wire.LoginSuccessEvent, error) {
	timeout := r.cfg.LoginTimeout(pathHops)
	ev, err := r.sess.Submit(ctx, wire.BuildSendLogin(publicKey, password), session.CategoryLogin, timeout)
	if err != nil {
		return wire.LoginSuccessEvent{}, err
	}
	switch e := ev.(type) {
	case wire.LoginSuccessEvent:
		return e, nil
	case wire.LoginFailEvent:
		return wire.LoginSuccessEvent{}, errs.New(errs.KindInvalidResponse, "login rejected by remote node")
	default:
		return wire.LoginSuccessEvent{}, errUnexpectedResponse
	}
}
