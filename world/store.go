// Package world is the block store behind the development world service.
package world

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/icexin/gocraft-gridsync/proto"
)

var blockBucket = []byte("block")

// Store keeps one material per (dimension, position). Positions holding the
// empty material are not stored.
type Store struct {
	db    *bolt.DB
	empty string
}

func NewStore(p string, empty string) (*Store, error) {
	db, err := bolt.Open(p, 0666, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blockBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	db.NoSync = true
	return &Store{
		db:    db,
		empty: empty,
	}, nil
}

func (s *Store) UpdateBlock(dim string, pos proto.Vec3, material string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(blockBucket)
		key := encodeBlockDbKey(dim, pos)
		if material == s.empty {
			return bkt.Delete(key)
		}
		return bkt.Put(key, []byte(material))
	})
}

// GetBlock returns the material at pos, or the empty material.
func (s *Store) GetBlock(dim string, pos proto.Vec3) string {
	material := s.empty
	s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blockBucket).Get(encodeBlockDbKey(dim, pos))
		if v != nil {
			material = string(v)
		}
		return nil
	})
	return material
}

func (s *Store) RangeBlocks(dim string, f func(pos proto.Vec3, material string)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		prefix := dimPrefix(dim)
		iter := tx.Bucket(blockBucket).Cursor()
		for k, v := iter.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = iter.Next() {
			pos, err := decodeBlockDbKey(k)
			if err != nil {
				return err
			}
			f(pos, string(v))
		}
		return nil
	})
}

func (s *Store) Close() error {
	s.db.Sync()
	return s.db.Close()
}

func dimPrefix(dim string) []byte {
	buf := make([]byte, 0, len(dim)+1)
	buf = append(buf, dim...)
	return append(buf, 0)
}

func encodeBlockDbKey(dim string, pos proto.Vec3) []byte {
	buf := bytes.NewBuffer(dimPrefix(dim))
	binary.Write(buf, binary.BigEndian, [...]int32{int32(pos.X), int32(pos.Y), int32(pos.Z)})
	return buf.Bytes()
}

func decodeBlockDbKey(b []byte) (proto.Vec3, error) {
	i := bytes.IndexByte(b, 0)
	if i < 0 || len(b)-i-1 != 4*3 {
		return proto.Vec3{}, fmt.Errorf("bad db key length:%d", len(b))
	}
	var arr [3]int32
	binary.Read(bytes.NewReader(b[i+1:]), binary.BigEndian, &arr)
	return proto.Vec3{X: int(arr[0]), Y: int(arr[1]), Z: int(arr[2])}, nil
}
