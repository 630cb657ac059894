package bridge

import (
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type Operation string

const (
	OpCreateRoom      Operation = "create-room"
	OpDeleteRoom      Operation = "delete-room"
	OpUpdateRankings  Operation = "update-rankings"
	OpSaveGameHistory Operation = "save-game-history"
)

func (op Operation) Valid() bool {
	switch op {
	case OpCreateRoom, OpDeleteRoom, OpUpdateRankings, OpSaveGameHistory:
		return true
	}
	return false
}

// Message 待写入持久层的一次操作。ID 同时是幂等键；Attempts 只增不减
type Message struct {
	ID         string          `json:"id"`
	Operation  Operation       `json:"operation"`
	Data       json.RawMessage `json:"data"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`

	// raw 出队时的原始编码，redis 实现用它从 processing 列表里删除
	raw string
}

var (
	idEntropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	idEntropyMu sync.Mutex
)

func newID() string {
	idEntropyMu.Lock()
	defer idEntropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
}

func NewMessage(op Operation, payload any) (*Message, error) {
	if !op.Valid() {
		return nil, ErrUnknownOperation
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:         newID(),
		Operation:  op,
		Data:       data,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

func (m *Message) encode() (string, error) {
	b, err := json.Marshal(m)
	return string(b), err
}

func decodeMessage(raw string) (*Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	m.raw = raw
	return &m, nil
}
