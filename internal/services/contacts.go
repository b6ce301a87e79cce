package services

import (
	"context"
	"time"

	"github.com/Avi0n/PocketMesh-sub005/internal/session"
	"github.com/Avi0n/PocketMesh-sub005/internal/storage"
	"github.com/Avi0n/PocketMesh-sub005/internal/wire"
)

// SyncResult reports the outcome of ContactService.SyncContacts.
type SyncResult struct {
	Received      int
	LastSyncTs    uint32
	IsIncremental bool
	Interrupted   bool
}

// ContactService requests the node's contact table, diffs it against the
// local store, and persists adds/updates/removes.
type ContactService struct {
	deviceID string
	sess     *session.Session
	db       *storage.DB
}

func NewContactService(deviceID string, sess *session.Session, db *storage.DB) *ContactService {
	return &ContactService{deviceID: deviceID, sess: sess, db: db}
}

// SyncContacts requests contacts from the node (incrementally from since
// when non-nil and force is false) and reconciles the result against the
// local store.
func (c *ContactService) SyncContacts(ctx context.Context, force bool, since *uint32) (SyncResult, error) {
	isIncremental := !force && since != nil

	var sinceArg *uint32
	if isIncremental {
		sinceArg = since
	}

	remote, interrupted, err := c.sess.SubmitContacts(ctx, wire.BuildGetContacts(sinceArg), time.Second*40)
	if err != nil {
		return SyncResult{}, err
	}

	existing, err := c.db.FetchContacts(c.deviceID)
	if err != nil {
		return SyncResult{}, err
	}
	byID := make(map[string]storage.Contact, len(existing))
	for _, ex := range existing {
		byID[ex.ContactID()] = ex
	}

	var lastMod uint32
	for _, rc := range remote {
		contact := storage.Contact{
			DeviceID:     c.deviceID,
			PublicKey:    rc.Contact.PublicKey,
			Kind:         storage.ContactKind(rc.Contact.Type),
			Flags:        rc.Contact.Flags,
			OutPathLen:   rc.Contact.OutPathLen,
			OutPath:      trimPath(rc.Contact.OutPath[:], rc.Contact.OutPathLen),
			Name:         rc.Contact.Name,
			LastAdvertTs: rc.Contact.LastAdvertTs,
			Lat:          rc.Contact.Lat,
			Lon:          rc.Contact.Lon,
			LastModified: rc.Contact.LastAdvertTs,
		}
		if contact.LastModified > lastMod {
			lastMod = contact.LastModified
		}
		if err := c.db.SaveContact(contact); err != nil {
			return SyncResult{}, err
		}
		delete(byID, contact.ContactID())
	}

	if force {
		for _, stale := range byID {
			if err := c.db.DeleteContact(c.deviceID, stale.PublicKey); err != nil {
				return SyncResult{}, err
			}
		}
	}

	return SyncResult{
		Received:      len(remote),
		LastSyncTs:    lastMod,
		IsIncremental: isIncremental,
		Interrupted:   interrupted,
	}, nil
}

func trimPath(path []byte, length int8) []byte {
	if length <= 0 {
		return nil
	}
	n := int(length)
	if n > len(path) {
		n = len(path)
	}
	return append([]byte(nil), path[:n]...)
}
