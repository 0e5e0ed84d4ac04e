package chat

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/lessonlive/meetmesh/internal/domain"
)

// History persists chat logs across attendances, one bucket per
// meeting, keyed by insertion sequence.
type History struct {
	db *bolt.DB
}

func OpenHistory(path string) (*History, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return &History{db: db}, nil
}

func (h *History) Append(meeting domain.MeetingID, msg domain.ChatMessage) error {
	return h.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(meeting))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		val, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		return b.Put(key, val)
	})
}

func (h *History) Load(meeting domain.MeetingID) ([]domain.ChatMessage, error) {
	var out []domain.ChatMessage
	err := h.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(meeting))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var msg domain.ChatMessage
			if err := json.Unmarshal(v, &msg); err != nil {
				return err
			}
			out = append(out, msg)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (h *History) Close() error { return h.db.Close() }
