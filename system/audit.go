package system

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	// for the audit log
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/nick0131/solventics-website/contact"
)

var (
	bucketSubmissions = []byte("submissions")
	bucketCounts      = []byte("counts")
)

// AuditRecord is what is kept locally about one submission attempt.
// The submitted name, email and message are not part of it.
type AuditRecord struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Outcome string    `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
	Client  string    `json:"client,omitempty"` // keyed hash of the client ip
}

// Audit is a contact.Recorder backed by a bolt database.
type Audit struct {
	db  *bolt.DB
	key []byte
	log *zap.Logger
}

func OpenAudit(filename string, key []byte, log *zap.Logger) (*Audit, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		log.Info("creating new audit database", zap.String("file", filename))
	}
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSubmissions, bucketCounts} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	if len(key) > 64 {
		key = key[:64]
	}
	return &Audit{db: db, key: key, log: log}, nil
}

type clientKey struct{}

// withClient tags ctx with the client ip for the audit record.
func withClient(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientKey{}, ip)
}

func (a *Audit) hashClient(ip string) string {
	h, err := blake2b.New256(a.key)
	if err != nil {
		a.log.Warn("hashing client", zap.Error(err))
		return ""
	}
	h.Write([]byte(ip))
	return hex.EncodeToString(h.Sum(nil)[:8])
}

func outcome(res contact.Result) string {
	return res.Kind().String()
}

func (a *Audit) Record(ctx context.Context, res contact.Result) error {
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	rec := AuditRecord{
		ID:      id.String(),
		Time:    res.Submitted,
		Outcome: outcome(res),
	}
	if res.Err != nil {
		rec.Detail = res.Err.Error()
	}
	if ip, ok := ctx.Value(clientKey{}).(string); ok && ip != "" {
		rec.Client = a.hashClient(ip)
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return a.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSubmissions).Put([]byte(rec.ID), b); err != nil {
			return err
		}
		counts := tx.Bucket(bucketCounts)
		var n uint64
		if v := counts.Get([]byte(rec.Outcome)); len(v) == 8 {
			n = binary.BigEndian.Uint64(v)
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, n+1)
		return counts.Put([]byte(rec.Outcome), buf)
	})
}

// Counts returns the number of attempts per outcome.
func (a *Audit) Counts() (map[string]uint64, error) {
	out := map[string]uint64{}
	err := a.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCounts).ForEach(func(k, v []byte) error {
			if len(v) == 8 {
				out[string(k)] = binary.BigEndian.Uint64(v)
			}
			return nil
		})
	})
	return out, err
}

// Recent returns up to n records, newest first.
func (a *Audit) Recent(n int) ([]AuditRecord, error) {
	var out []AuditRecord
	err := a.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSubmissions).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var rec AuditRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("record %s: %w", k, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func (a *Audit) Close() error {
	return a.db.Close()
}
