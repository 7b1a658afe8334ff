// Package journal keeps a bolt-backed record of every transmission unit,
// including the ones that never reached the remote service.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
)

var unitBucket = []byte("unit")

type Status byte

const (
	Sent Status = iota + 1
	Dropped
)

func (s Status) String() string {
	switch s {
	case Sent:
		return "sent"
	case Dropped:
		return "dropped"
	}
	return fmt.Sprintf("status(%d)", byte(s))
}

type Entry struct {
	Seq     uint64
	Time    time.Time
	Session string
	Kind    string
	Status  Status
	Payload string
}

type Journal struct {
	db  *bolt.DB
	now func() time.Time
}

func Open(p string) (*Journal, error) {
	db, err := bolt.Open(p, 0666, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", p, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(unitBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Record appends one unit. kind names what the unit carried (scan, outline,
// clear, ...).
func (j *Journal) Record(session, kind string, status Status, payload string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(unitBucket)
		seq, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		e := Entry{
			Seq:     seq,
			Time:    j.now(),
			Session: session,
			Kind:    kind,
			Status:  status,
			Payload: payload,
		}
		return bkt.Put(encodeKey(seq), encodeEntry(e))
	})
}

// Range visits entries in recording order until f returns false.
func (j *Journal) Range(f func(e Entry) bool) error {
	return j.db.View(func(tx *bolt.Tx) error {
		iter := tx.Bucket(unitBucket).Cursor()
		for k, v := iter.First(); k != nil; k, v = iter.Next() {
			e, err := decodeEntry(k, v)
			if err != nil {
				return err
			}
			if !f(e) {
				break
			}
		}
		return nil
	})
}

func (j *Journal) Stats() (sent, dropped int, err error) {
	err = j.Range(func(e Entry) bool {
		switch e.Status {
		case Sent:
			sent++
		case Dropped:
			dropped++
		}
		return true
	})
	return
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func encodeKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// value layout: time(int64 LE) status(1) len(session)(uvarint) session
// len(kind)(uvarint) kind payload
func encodeEntry(e Entry) []byte {
	buf := make([]byte, 9, 9+2*binary.MaxVarintLen64+len(e.Session)+len(e.Kind)+len(e.Payload))
	binary.LittleEndian.PutUint64(buf, uint64(e.Time.UnixNano()))
	buf[8] = byte(e.Status)
	buf = binary.AppendUvarint(buf, uint64(len(e.Session)))
	buf = append(buf, e.Session...)
	buf = binary.AppendUvarint(buf, uint64(len(e.Kind)))
	buf = append(buf, e.Kind...)
	return append(buf, e.Payload...)
}

var errCorrupt = errors.New("journal: corrupt entry")

func decodeEntry(k, v []byte) (Entry, error) {
	var e Entry
	if len(k) != 8 || len(v) < 9 {
		return e, errCorrupt
	}
	e.Seq = binary.BigEndian.Uint64(k)
	e.Time = time.Unix(0, int64(binary.LittleEndian.Uint64(v)))
	e.Status = Status(v[8])
	rest := v[9:]
	var fields [2]string
	for i := range fields {
		n, w := binary.Uvarint(rest)
		if w <= 0 || uint64(len(rest)-w) < n {
			return e, errCorrupt
		}
		fields[i] = string(rest[w : w+int(n)])
		rest = rest[w+int(n):]
	}
	e.Session, e.Kind = fields[0], fields[1]
	e.Payload = string(rest)
	return e, nil
}
