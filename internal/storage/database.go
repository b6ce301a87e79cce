package storage

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection backing one device's contact
// table, channel table, message history, and the durable mirrors of the
// reliability engine's soft state.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the SQLite database at path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the database schema.
func (db *DB) migrate() error {
	schema := `
	-- Contacts known to a device, keyed by their full public key.
	CREATE TABLE IF NOT EXISTS contacts (
		device_id TEXT NOT NULL,
		public_key TEXT NOT NULL,
		kind INTEGER NOT NULL,
		flags INTEGER NOT NULL DEFAULT 0,
		out_path_len INTEGER NOT NULL DEFAULT -1,
		out_path BLOB,
		name TEXT NOT NULL,
		last_advert_ts INTEGER NOT NULL DEFAULT 0,
		lat INTEGER NOT NULL DEFAULT 0,
		lon INTEGER NOT NULL DEFAULT 0,
		last_modified INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (device_id, public_key)
	);
	CREATE INDEX IF NOT EXISTS idx_contacts_modified ON contacts(device_id, last_modified);

	-- Channels configured on a device.
	CREATE TABLE IF NOT EXISTS channels (
		device_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		name TEXT NOT NULL,
		secret BLOB NOT NULL,
		PRIMARY KEY (device_id, idx)
	);

	-- Sent and received messages.
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		direction INTEGER NOT NULL,
		contact_id TEXT,
		channel_index INTEGER,
		text_type INTEGER NOT NULL,
		sender_ts INTEGER NOT NULL,
		text TEXT NOT NULL,
		snr REAL,
		path_len INTEGER,
		status TEXT NOT NULL,
		ack_code INTEGER,
		rtt_ms INTEGER,
		dedup_key TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_device ON messages(device_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_contact ON messages(device_id, contact_id);
	CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(device_id, channel_index);
	CREATE INDEX IF NOT EXISTS idx_messages_dedup ON messages(device_id, dedup_key);

	-- Durable mirror of in-flight PendingAck state, so a restart does not
	-- drop the reliability engine's retry ladder.
	CREATE TABLE IF NOT EXISTS pending_acks (
		message_id TEXT PRIMARY KEY,
		ack_code INTEGER NOT NULL,
		sent_at DATETIME NOT NULL,
		timeout_secs REAL NOT NULL,
		delivered INTEGER NOT NULL DEFAULT 0,
		attempt INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_pending_acks_code ON pending_acks(ack_code);

	-- Durable mirror of indexed messages that have aged out of the
	-- in-process reaction LRU, kept so reaction resolution still works
	-- for older content after a restart.
	CREATE TABLE IF NOT EXISTS indexed_messages (
		message_id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		channel_index INTEGER NOT NULL,
		sender_name TEXT NOT NULL,
		text TEXT NOT NULL,
		sender_ts INTEGER NOT NULL,
		indexed_at DATETIME NOT NULL,
		hash TEXT NOT NULL,
		preview TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_indexed_messages_hash ON indexed_messages(device_id, hash);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// --- Contact operations ---

// SaveContact inserts or updates a Contact for a device.
func (db *DB) SaveContact(c Contact) error {
	query := `
		INSERT INTO contacts (device_id, public_key, kind, flags, out_path_len, out_path,
			name, last_advert_ts, lat, lon, last_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id, public_key) DO UPDATE SET
			kind = excluded.kind,
			flags = excluded.flags,
			out_path_len = excluded.out_path_len,
			out_path = excluded.out_path,
			name = excluded.name,
			last_advert_ts = excluded.last_advert_ts,
			lat = excluded.lat,
			lon = excluded.lon,
			last_modified = excluded.last_modified
	`
	_, err := db.conn.Exec(query, c.DeviceID, keyHex(c.PublicKey[:]), c.Kind, c.Flags,
		c.OutPathLen, c.OutPath, c.Name, c.LastAdvertTs, c.Lat, c.Lon, c.LastModified)
	return err
}

// FetchContacts retrieves every contact known for a device.
func (db *DB) FetchContacts(deviceID string) ([]Contact, error) {
	query := `SELECT public_key, kind, flags, out_path_len, out_path, name,
		last_advert_ts, lat, lon, last_modified
		FROM contacts WHERE device_id = ?`

	rows, err := db.conn.Query(query, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		c := Contact{DeviceID: deviceID}
		var keyHexStr string
		var outPath []byte
		if err := rows.Scan(&keyHexStr, &c.Kind, &c.Flags, &c.OutPathLen, &outPath,
			&c.Name, &c.LastAdvertTs, &c.Lat, &c.Lon, &c.LastModified); err != nil {
			return nil, err
		}
		if err := decodeKeyHex(keyHexStr, c.PublicKey[:]); err != nil {
			return nil, fmt.Errorf("storage: corrupt contact key: %w", err)
		}
		c.OutPath = outPath
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteContact removes a contact from a device's table.
func (db *DB) DeleteContact(deviceID string, publicKey [32]byte) error {
	_, err := db.conn.Exec("DELETE FROM contacts WHERE device_id = ? AND public_key = ?",
		deviceID, keyHex(publicKey[:]))
	return err
}

// --- Channel operations ---

// SaveChannel inserts or updates a Channel for a device.
func (db *DB) SaveChannel(c Channel) error {
	query := `
		INSERT INTO channels (device_id, idx, name, secret)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id, idx) DO UPDATE SET name = excluded.name, secret = excluded.secret
	`
	_, err := db.conn.Exec(query, c.DeviceID, c.Index, c.Name, c.Secret[:])
	return err
}

// FetchChannels retrieves every channel configured for a device.
func (db *DB) FetchChannels(deviceID string) ([]Channel, error) {
	rows, err := db.conn.Query("SELECT idx, name, secret FROM channels WHERE device_id = ?", deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		c := Channel{DeviceID: deviceID}
		var secret []byte
		if err := rows.Scan(&c.Index, &c.Name, &secret); err != nil {
			return nil, err
		}
		copy(c.Secret[:], secret)
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Message operations ---

// SaveMessage inserts a new Message, or updates it if the ID already exists.
func (db *DB) SaveMessage(m Message) error {
	var channelIndex *uint8
	var contactID *string
	if m.Kind.ChannelIndex != nil {
		channelIndex = m.Kind.ChannelIndex
	} else {
		contactID = &m.Kind.ContactID
	}
	var rttMS *int64
	if m.RTT != nil {
		ms := m.RTT.Milliseconds()
		rttMS = &ms
	}

	query := `
		INSERT INTO messages (id, device_id, direction, contact_id, channel_index, text_type,
			sender_ts, text, snr, path_len, status, ack_code, rtt_ms, dedup_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			ack_code = excluded.ack_code,
			rtt_ms = excluded.rtt_ms
	`
	_, err := db.conn.Exec(query, m.ID, m.DeviceID, m.Direction, contactID, channelIndex,
		m.TextType, m.SenderTs, m.Text, m.SNR, m.PathLen, m.Status, m.AckCode, rttMS, m.DedupKey)
	return err
}

// UpdateMessageStatus transitions a message's lifecycle status.
func (db *DB) UpdateMessageStatus(id string, status MessageStatus) error {
	_, err := db.conn.Exec("UPDATE messages SET status = ? WHERE id = ?", status, id)
	return err
}

// UpdateMessageAck records the ack code and round-trip time for a delivered send.
func (db *DB) UpdateMessageAck(id string, ackCode uint32, rtt time.Duration) error {
	_, err := db.conn.Exec(
		"UPDATE messages SET status = ?, ack_code = ?, rtt_ms = ? WHERE id = ?",
		StatusAcked, ackCode, rtt.Milliseconds(), id)
	return err
}

// FetchMessages retrieves the most recent messages for a device, optionally
// scoped to one contact or channel, newest first.
func (db *DB) FetchMessages(deviceID string, kind MessageKind, limit int) ([]Message, error) {
	var rows *sql.Rows
	var err error
	switch {
	case kind.ChannelIndex != nil:
		rows, err = db.conn.Query(`SELECT id, direction, contact_id, channel_index, text_type,
			sender_ts, text, snr, path_len, status, ack_code, rtt_ms, dedup_key
			FROM messages WHERE device_id = ? AND channel_index = ?
			ORDER BY created_at DESC LIMIT ?`, deviceID, *kind.ChannelIndex, limit)
	case kind.ContactID != "":
		rows, err = db.conn.Query(`SELECT id, direction, contact_id, channel_index, text_type,
			sender_ts, text, snr, path_len, status, ack_code, rtt_ms, dedup_key
			FROM messages WHERE device_id = ? AND contact_id = ?
			ORDER BY created_at DESC LIMIT ?`, deviceID, kind.ContactID, limit)
	default:
		rows, err = db.conn.Query(`SELECT id, direction, contact_id, channel_index, text_type,
			sender_ts, text, snr, path_len, status, ack_code, rtt_ms, dedup_key
			FROM messages WHERE device_id = ?
			ORDER BY created_at DESC LIMIT ?`, deviceID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m := Message{DeviceID: deviceID}
		var contactID sql.NullString
		var channelIndex sql.NullInt64
		var rttMS sql.NullInt64
		if err := rows.Scan(&m.ID, &m.Direction, &contactID, &channelIndex, &m.TextType,
			&m.SenderTs, &m.Text, &m.SNR, &m.PathLen, &m.Status, &m.AckCode, &rttMS, &m.DedupKey); err != nil {
			return nil, err
		}
		if contactID.Valid {
			m.Kind.ContactID = contactID.String
		}
		if channelIndex.Valid {
			ci := uint8(channelIndex.Int64)
			m.Kind.ChannelIndex = &ci
		}
		if rttMS.Valid {
			d := time.Duration(rttMS.Int64) * time.Millisecond
			m.RTT = &d
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// IsDuplicate reports whether a message with this dedup key has already been
// recorded for the device, providing a persisted backstop for the
// reliability engine's in-memory LRU dedup cache.
func (db *DB) IsDuplicate(deviceID, dedupKey string) (bool, error) {
	var n int
	err := db.conn.QueryRow(
		"SELECT COUNT(1) FROM messages WHERE device_id = ? AND dedup_key = ?", deviceID, dedupKey).Scan(&n)
	return n > 0, err
}

// --- Pending ack mirror ---

// SavePendingAck upserts the durable mirror of an in-flight send.
func (db *DB) SavePendingAck(row PendingAckRow) error {
	query := `
		INSERT INTO pending_acks (message_id, ack_code, sent_at, timeout_secs, delivered, attempt)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			ack_code = excluded.ack_code,
			sent_at = excluded.sent_at,
			timeout_secs = excluded.timeout_secs,
			delivered = excluded.delivered,
			attempt = excluded.attempt
	`
	_, err := db.conn.Exec(query, row.MessageID, row.AckCode, row.SentAt, row.TimeoutSecs,
		row.Delivered, row.Attempt)
	return err
}

// FetchPendingAcks retrieves every undelivered pending ack row.
func (db *DB) FetchPendingAcks() ([]PendingAckRow, error) {
	rows, err := db.conn.Query(`SELECT message_id, ack_code, sent_at, timeout_secs, delivered, attempt
		FROM pending_acks WHERE delivered = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingAckRow
	for rows.Next() {
		var r PendingAckRow
		if err := rows.Scan(&r.MessageID, &r.AckCode, &r.SentAt, &r.TimeoutSecs, &r.Delivered, &r.Attempt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeletePendingAck removes a pending ack row once it is resolved.
func (db *DB) DeletePendingAck(messageID string) error {
	_, err := db.conn.Exec("DELETE FROM pending_acks WHERE message_id = ?", messageID)
	return err
}

// --- Indexed message mirror ---

// SaveIndexedMessage upserts the durable mirror of a reaction-indexable message.
func (db *DB) SaveIndexedMessage(row IndexedMessageRow) error {
	query := `
		INSERT INTO indexed_messages (message_id, device_id, channel_index, sender_name,
			text, sender_ts, indexed_at, hash, preview)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET indexed_at = excluded.indexed_at
	`
	_, err := db.conn.Exec(query, row.MessageID, row.DeviceID, row.ChannelIndex, row.SenderName,
		row.Text, row.SenderTs, row.IndexedAt, row.Hash, row.Preview)
	return err
}

// FindIndexedMessageByHash looks up an indexed message by its reaction hash.
func (db *DB) FindIndexedMessageByHash(deviceID, hash string) (*IndexedMessageRow, error) {
	query := `SELECT message_id, channel_index, sender_name, text, sender_ts, indexed_at, hash, preview
		FROM indexed_messages WHERE device_id = ? AND hash = ?`
	var r IndexedMessageRow
	r.DeviceID = deviceID
	err := db.conn.QueryRow(query, deviceID, hash).Scan(
		&r.MessageID, &r.ChannelIndex, &r.SenderName, &r.Text, &r.SenderTs, &r.IndexedAt, &r.Hash, &r.Preview)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// decodeKeyHex decodes a hex-encoded public key into dst, which must be
// exactly 32 bytes.
func decodeKeyHex(s string, dst []byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("storage: expected %d key bytes, got %d", len(dst), len(b))
	}
	copy(dst, b)
	return nil
}
