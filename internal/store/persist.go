package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/idorocodes/qight/internal/envelope"
	"github.com/idorocodes/qight/internal/errors"
)

// Persistence is a durable backing log for a Store. Implementations must
// be safe for concurrent use; the Store calls them outside its own locks.
type Persistence interface {
	// Append records a newly enqueued message.
	Append(env envelope.Envelope) error

	// Remove records that a message left its mailbox, whether acked,
	// drained or expired.
	Remove(recipient, msgID string) error

	// Load replays the log and returns the messages still pending
	// delivery, in enqueue order.
	Load() ([]envelope.Envelope, error)

	// Compact rewrites the log to contain exactly the given messages,
	// discarding accumulated removal records.
	Compact(live []envelope.Envelope) error
}

const (
	opAdd = "add"
	opDel = "del"
)

// logRecord is one line of the JSONL message log. Add records carry the
// full envelope; del records carry only the mailbox coordinates.
type logRecord struct {
	Op        string             `json:"op"`
	Envelope  *envelope.Envelope `json:"envelope,omitempty"`
	Recipient string             `json:"recipient,omitempty"`
	MsgID     string             `json:"msg_id,omitempty"`
}

// maxRecordBytes bounds a single log line during replay. It covers the
// default frame limit after base64 expansion of the payload.
const maxRecordBytes = 32 << 20

// FileLog persists messages as an append-only JSONL file of add and del
// records. Appends are serialized through a mutex and use O_APPEND, so a
// crash mid-write loses at most the final line. Load tolerates a torn or
// corrupt trailing line by skipping it.
type FileLog struct {
	path string
	mu   sync.Mutex
}

// NewFileLog creates a FileLog backed by the given path. The file and
// its parent directories are created lazily on first append.
func NewFileLog(path string) *FileLog {
	return &FileLog{path: path}
}

// Path returns the log file location.
func (f *FileLog) Path() string {
	return f.path
}

// Append records a newly enqueued message.
func (f *FileLog) Append(env envelope.Envelope) error {
	if err := f.appendRecord(logRecord{Op: opAdd, Envelope: &env}); err != nil {
		return errors.NewStoreError("append message record", err).
			WithRecipient(env.Recipient).
			WithMsgID(env.MsgID)
	}
	return nil
}

// Remove records that a message left its mailbox.
func (f *FileLog) Remove(recipient, msgID string) error {
	if err := f.appendRecord(logRecord{Op: opDel, Recipient: recipient, MsgID: msgID}); err != nil {
		return errors.NewStoreError("append removal record", err).
			WithRecipient(recipient).
			WithMsgID(msgID)
	}
	return nil
}

func (f *FileLog) appendRecord(rec logRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

type recordKey struct {
	recipient string
	msgID     string
}

// Load replays the log and returns the messages that were added but
// never removed, in enqueue order. Malformed lines are skipped rather
// than failing the whole replay. A missing file yields no messages.
func (f *FileLog) Load() ([]envelope.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewStoreError("open message log", err)
	}
	defer func() { _ = file.Close() }()

	var order []*envelope.Envelope
	alive := make(map[recordKey]int)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxRecordBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec logRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		switch rec.Op {
		case opAdd:
			if rec.Envelope == nil {
				continue
			}
			key := recordKey{rec.Envelope.Recipient, rec.Envelope.MsgID}
			if pos, ok := alive[key]; ok {
				order[pos] = nil
			}
			order = append(order, rec.Envelope)
			alive[key] = len(order) - 1
		case opDel:
			key := recordKey{rec.Recipient, rec.MsgID}
			if pos, ok := alive[key]; ok {
				order[pos] = nil
				delete(alive, key)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewStoreError("scan message log", err)
	}

	var live []envelope.Envelope
	for _, env := range order {
		if env != nil {
			live = append(live, *env)
		}
	}
	return live, nil
}

// Compact rewrites the log to contain exactly the given messages as add
// records. The write is atomic: a temporary file is written first, then
// renamed into place.
func (f *FileLog) Compact(live []envelope.Envelope) error {
	var buf bytes.Buffer
	for i := range live {
		data, err := json.Marshal(logRecord{Op: opAdd, Envelope: &live[i]})
		if err != nil {
			return errors.NewStoreError("marshal message record", err).
				WithRecipient(live[i].Recipient).
				WithMsgID(live[i].MsgID)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errors.NewStoreError("create message log directory", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return errors.NewStoreError("write compacted log", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return errors.NewStoreError("replace message log", err)
	}
	return nil
}
