package services

import (
	"context"
	"crypto/sha256"

	"github.com/Avi0n/PocketMesh-sub005/internal/errs"
	"github.com/Avi0n/PocketMesh-sub005/internal/session"
	"github.com/Avi0n/PocketMesh-sub005/internal/wire"
)

// ChannelService manages the node's channel table and derives channel
// secrets from passphrases.
type ChannelService struct {
	sess *session.Session
}

func NewChannelService(sess *session.Session) *ChannelService {
	return &ChannelService{sess: sess}
}

// HashSecret derives a 16-byte channel secret from a passphrase: the first
// 16 bytes of SHA-256(passphrase).
func HashSecret(passphrase string) [16]byte {
	sum := sha256.Sum256([]byte(passphrase))
	var secret [16]byte
	copy(secret[:], sum[:16])
	return secret
}

// ValidateSecret reports whether s is a well-formed 16-byte channel secret.
func ValidateSecret(s []byte) bool {
	return len(s) == 16
}

// GetChannel requests the channel at idx.
func (c *ChannelService) GetChannel(ctx context.Context, idx uint8) (wire.ChannelInfoEvent, error) {
	ev, err := c.sess.Submit(ctx, wire.BuildGetChannel(idx), session.CategoryChannelInfo, 0)
	if err != nil {
		return wire.ChannelInfoEvent{}, err
	}
	info, ok := ev.(wire.ChannelInfoEvent)
	if !ok {
		return wire.ChannelInfoEvent{}, errUnexpectedResponse
	}
	return info, nil
}

// SetChannel installs name/secret at idx.
func (c *ChannelService) SetChannel(ctx context.Context, idx uint8, name string, secret [16]byte) error {
	if !ValidateSecret(secret[:]) {
		return errs.New(errs.KindInvalidResponse, "channel secret must be 16 bytes")
	}
	ev, err := c.sess.Submit(ctx, wire.BuildSetChannel(idx, name, secret), session.CategoryOkError, 0)
	if err != nil {
		return err
	}
	if _, ok := ev.(wire.ErrorEvent); ok {
		return errs.New(errs.KindInvalidResponse, "setChannel rejected by node")
	}
	return nil
}
